// Forge server: Main
// Copyright Alistair Cunningham 2025

package main

import (
	"flag"
)

type Map map[string]any

var data_dir string

func main() {
	var config string
	var port int
	flag.StringVar(&data_dir, "data", "/var/lib/forge", "Directory to store data in")
	flag.StringVar(&config, "config", "/etc/forge.conf", "Configuration file")
	flag.IntVar(&port, "web", 3000, "Web port to listen on")
	flag.Parse()

	info("Starting")
	ini_load(config)
	file_mkdir(repos_dir())
	db_start()
	git_jobs_start()
	web_start(port)
}
