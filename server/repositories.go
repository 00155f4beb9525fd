// Forge server: Repository lifecycle
// Copyright Alistair Cunningham 2025

package main

import (
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-git/go-git/v5"
)

// Repository ownership metadata. The directory on disk is authoritative
// for existence; this row carries owner and visibility only.
type Repository struct {
	ID      int    `db:"id" json:"id"`
	Name    string `db:"name" json:"name"`
	User    int    `db:"user" json:"user"`
	Public  int    `db:"public" json:"public"`
	Created int64  `db:"created" json:"created"`
}

// Check a repository name. Names become directory names, so anything
// that could escape the repositories directory is rejected.
func repo_name_valid(name string) bool {
	return name != "" && !strings.Contains(name, "/") && !strings.Contains(name, "..")
}

// Create a bare repository with pushes over HTTP enabled
func repo_create(name string) error {
	if !repo_name_valid(name) {
		return err_repo_invalid
	}

	path := git_repo_path(name)
	if file_exists(path) {
		return err_repo_exists
	}

	repo, err := git.PlainInit(path, true)
	if err != nil {
		return err
	}

	// git http-backend refuses anonymous pushes unless http.receivepack
	// is set on the repository
	cfg, err := repo.Config()
	if err == nil {
		cfg.Raw.Section("http").SetOption("receivepack", "true")
		err = repo.Storer.SetConfig(cfg)
	}
	if err != nil {
		os.RemoveAll(path)
		return err
	}

	return nil
}

// Delete a repository from disk
func repo_delete(name string) error {
	if !repo_name_valid(name) {
		return err_repo_invalid
	}

	path := git_repo_path(name)
	if !file_exists(path) {
		return err_repo_not_found
	}

	return os.RemoveAll(path)
}

// List repository names, sorted
func repo_list() []string {
	var names []string
	entries, err := os.ReadDir(repos_dir())
	if err != nil {
		warn("Unable to read repositories directory: %v", err)
		return names
	}

	for _, entry := range entries {
		name, found := strings.CutSuffix(entry.Name(), ".git")
		if found && entry.IsDir() {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names
}

// Look up a repository's metadata row if the caller may see it
func repo_meta(name string, user *User) *Repository {
	user_id := 0
	if user != nil {
		user_id = user.ID
	}

	var repo Repository
	db := db_open("db/forge.db")
	if !db.scan(&repo, "select * from repositories where name=? and ( public=1 or user=? )", name, user_id) {
		return nil
	}
	return &repo
}

// GET /repos - List repositories
func web_repo_list(c *gin.Context) {
	repos := []Map{}
	for _, name := range repo_list() {
		repos = append(repos, Map{"name": name})
	}
	c.JSON(http.StatusOK, repos)
}

// POST /repos/:repo - Create a repository
func web_repo_create(c *gin.Context) {
	user := web_user(c)
	name := strings.TrimSuffix(c.Param("repo"), ".git")

	err := repo_create(name)
	switch {
	case err == err_repo_invalid:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid repository name"})
		return
	case err == err_repo_exists:
		c.JSON(http.StatusConflict, gin.H{"error": "repository already exists"})
		return
	case err != nil:
		warn("Unable to create repository %q: %v", name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to create repository"})
		return
	}

	// Register ownership. If the record can't be written, remove the
	// directory again; a created but unregistered repository must not be
	// left behind.
	db := db_open("db/forge.db")
	_, err = db.handle.Exec("insert into repositories ( name, user, public, created ) values ( ?, ?, 1, ? )", name, user.ID, now())
	if err != nil {
		warn("Unable to register repository %q, rolling back: %v", name, err)
		os.RemoveAll(git_repo_path(name))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to register repository"})
		return
	}

	info("Created repository %q for user %q", name, user.Username)
	c.JSON(http.StatusCreated, gin.H{"name": name})
}

// DELETE /repos/:repo - Delete a repository
func web_repo_delete(c *gin.Context) {
	user := web_user(c)
	name := strings.TrimSuffix(c.Param("repo"), ".git")

	var repo Repository
	db := db_open("db/forge.db")
	if db.scan(&repo, "select * from repositories where name=?", name) && repo.User != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your repository"})
		return
	}

	err := repo_delete(name)
	switch {
	case err == err_repo_invalid:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid repository name"})
		return
	case err == err_repo_not_found:
		c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
		return
	case err != nil:
		warn("Unable to delete repository %q: %v", name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to delete repository"})
		return
	}

	db.exec("delete from repositories where name=?", name)
	info("Deleted repository %q", name)
	c.JSON(http.StatusOK, gin.H{"name": name})
}
