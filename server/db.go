// Forge server: Database
// Copyright Alistair Cunningham 2025

package main

import (
	"database/sql"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	path   string
	handle *sqlx.DB
	closed int64
}

const (
	schema_version = 1
)

var (
	databases      = map[string]*DB{}
	databases_lock sync.Mutex
)

func db_create() {
	info("Creating new database")

	// Settings
	settings := db_open("db/settings.db")
	settings.exec("create table settings ( name text not null primary key, value text not null )")
	settings.exec("replace into settings ( name, value ) values ( 'schema', ? )", schema_version)

	// Users and sessions
	users := db_open("db/users.db")
	users.exec("create table users ( id integer primary key, username text not null, password text not null, created integer not null )")
	users.exec("create unique index users_username on users ( username )")
	users.exec("create table sessions ( code text not null primary key, user integer not null references users( id ) on delete cascade, secret text not null, created integer not null, expires integer not null )")
	users.exec("create index sessions_user on sessions( user )")
	users.exec("create index sessions_expires on sessions( expires )")

	// Repository metadata. The directory on disk is authoritative for a
	// repository's existence; these rows carry ownership and visibility.
	forge := db_open("db/forge.db")
	forge.exec("create table repositories ( id integer primary key, name text not null, user integer not null, public integer not null default 1, created integer not null )")
	forge.exec("create unique index repositories_name on repositories( name )")

	// Issues
	forge.exec("create table issues ( id integer primary key, repository integer not null references repositories( id ) on delete cascade, title text not null, body text not null default '', author integer not null, status text not null default 'open', created integer not null )")
	forge.exec("create index issues_repository on issues( repository )")
	forge.exec("create table issue_comments ( id integer primary key, issue integer not null references issues( id ) on delete cascade, body text not null, author integer not null, created integer not null )")
	forge.exec("create index issue_comments_issue on issue_comments( issue )")
	forge.exec("create table labels ( id integer primary key, repository integer not null references repositories( id ) on delete cascade, name text not null, color text not null default '' )")
	forge.exec("create unique index labels_repository_name on labels( repository, name )")
	forge.exec("create table issue_labels ( issue integer not null references issues( id ) on delete cascade, label integer not null references labels( id ) on delete cascade, primary key ( issue, label ) )")
	forge.exec("create table issue_assignees ( issue integer not null references issues( id ) on delete cascade, user integer not null, primary key ( issue, user ) )")

	// Pull requests and reviews
	forge.exec("create table pulls ( id integer primary key, repository integer not null references repositories( id ) on delete cascade, title text not null, body text not null default '', base text not null, head text not null, author integer not null, status text not null default 'open', created integer not null, updated integer not null )")
	forge.exec("create index pulls_repository on pulls( repository )")
	forge.exec("create table pull_comments ( id integer primary key, pull integer not null references pulls( id ) on delete cascade, body text not null, author integer not null, created integer not null )")
	forge.exec("create index pull_comments_pull on pull_comments( pull )")
	forge.exec("create table reviews ( id integer primary key, pull integer not null references pulls( id ) on delete cascade, reviewer integer not null, status text not null, body text not null default '', created integer not null, updated integer not null )")
	forge.exec("create index reviews_pull on reviews( pull )")
}

func db_manager() {
	for range time.Tick(time.Minute) {
		db_sweep()

		now := now()
		var closers []*sqlx.DB

		databases_lock.Lock()
		for _, db := range databases {
			if db.closed > 0 && db.closed < now-60 {
				closers = append(closers, db.handle)
				delete(databases, db.path)
			}
		}
		databases_lock.Unlock()

		for _, h := range closers {
			h.Close()
		}
	}
}

// Remove expired sessions, then mark the users database idle so the
// manager can close it if nothing else is using it
func db_sweep() {
	users := db_open("db/users.db")
	expired := users.integer("select count(*) from sessions where expires<?", now())
	if expired > 0 {
		users.exec("delete from sessions where expires<?", now())
		debug("Removed %d expired sessions", expired)
	}
	users.close()
}

func db_open(file string) *DB {
	path := data_dir + "/" + file

	databases_lock.Lock()
	db, found := databases[path]
	databases_lock.Unlock()
	if found {
		db.closed = 0
		return db
	}

	if !file_exists(path) {
		file_create(path)
	}

	h := must(sqlx.Open("sqlite3", path))
	db = &DB{path: path, handle: h, closed: 0}

	databases_lock.Lock()
	databases[path] = db
	databases_lock.Unlock()

	db.exec("PRAGMA journal_mode=WAL")
	db.exec("PRAGMA foreign_keys=ON")
	return db
}

func db_start() bool {
	if file_exists(data_dir + "/db/users.db") {
		db_upgrade()
		go db_manager()
		return false
	}
	db_create()
	go db_manager()
	return true
}

func db_upgrade() {
	schema := atoi(setting_get("schema", ""), 1)

	for schema < schema_version {
		schema++
		info("Upgrading database schema to version %d", schema)
		// Future migrations go here, one block per version
		setting_set("schema", itoa(int(schema)))
	}
}

func (db *DB) close() {
	db.closed = now()
}

func (db *DB) exec(query string, values ...any) {
	must(db.handle.Exec(query, values...))
}

func (db *DB) exists(query string, values ...any) (bool, error) {
	r, err := db.handle.Query(query, values...)
	if err != nil {
		return false, err
	}
	defer r.Close()
	return r.Next(), nil
}

func (db *DB) integer(query string, values ...any) int {
	var i int
	err := db.handle.QueryRowx(query, values...).Scan(&i)
	if err != nil {
		return 0
	}
	return i
}

func (db *DB) text(query string, values ...any) string {
	var s string
	err := db.handle.QueryRowx(query, values...).Scan(&s)
	if err != nil {
		return ""
	}
	return s
}

func (db *DB) scan(out any, query string, values ...any) bool {
	err := db.handle.QueryRowx(query, values...).StructScan(out)
	if err != nil {
		if err == sql.ErrNoRows {
			return false
		}
		info("DB scan error: %v", err)
		return false
	}
	return true
}

func (db *DB) scans(out any, query string, values ...any) error {
	return db.handle.Select(out, query, values...)
}
