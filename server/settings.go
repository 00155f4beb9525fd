// Forge server: Server settings
// Copyright Alistair Cunningham 2025

package main

// Get a server setting, returning a default if not set
func setting_get(name string, def string) string {
	db := db_open("db/settings.db")
	found, err := db.exists("select value from settings where name=?", name)
	if err != nil || !found {
		return def
	}
	return db.text("select value from settings where name=?", name)
}

// Set a server setting
func setting_set(name string, value string) {
	db := db_open("db/settings.db")
	db.exec("replace into settings ( name, value ) values ( ?, ? )", name, value)
}
