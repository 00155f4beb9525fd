// Forge server: Read ini file
// Copyright Alistair Cunningham 2025

package main

import (
	"gopkg.in/ini.v1"
)

var ini_file *ini.File

func ini_bool(section string, key string, def bool) bool {
	return ini_file.Section(section).Key(key).MustBool(def)
}

func ini_int(section string, key string, def int) int {
	return ini_file.Section(section).Key(key).MustInt(def)
}

// Load the configuration file. A missing file leaves every key at its
// default, so a bare "forge -data ..." still starts.
func ini_load(file string) {
	var err error
	ini_file, err = ini.LooseLoad(file)
	if err != nil {
		warn("Unable to read configuration file %q: %v", file, err)
		ini_file = ini.Empty()
	}
	log_debug = ini_bool("log", "debug", false)
}

func ini_string(section string, key string, def string) string {
	return ini_file.Section(section).Key(key).MustString(def)
}
