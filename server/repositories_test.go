// Forge server: Repository lifecycle tests
// Copyright Alistair Cunningham 2025

package main

import (
	"os"
	"testing"
)

func TestRepoCreateDelete(t *testing.T) {
	test_setup(t)

	if err := repo_create("project"); err != nil {
		t.Fatal(err)
	}
	if !file_exists(git_repo_path("project")) {
		t.Fatal("repository directory missing")
	}

	// Fresh bare repositories accept pushes over HTTP
	repo, err := git_open("project")
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := repo.Config()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Raw.Section("http").Option("receivepack") != "true" {
		t.Fatal("http.receivepack not set")
	}

	if err := repo_delete("project"); err != nil {
		t.Fatal(err)
	}
	if file_exists(git_repo_path("project")) {
		t.Fatal("repository directory still present")
	}

	entries, err := os.ReadDir(repos_dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("repositories directory not empty: %v", entries)
	}
}

func TestRepoCreateDuplicate(t *testing.T) {
	test_setup(t)

	if err := repo_create("project"); err != nil {
		t.Fatal(err)
	}
	if err := repo_create("project"); err != err_repo_exists {
		t.Fatalf("expected err_repo_exists, got %v", err)
	}
}

func TestRepoInvalidNames(t *testing.T) {
	test_setup(t)

	for _, name := range []string{"", "a/b", "..", "../escape", "a..b"} {
		if err := repo_create(name); err != err_repo_invalid {
			t.Fatalf("create %q: expected err_repo_invalid, got %v", name, err)
		}
		if err := repo_delete(name); err != err_repo_invalid {
			t.Fatalf("delete %q: expected err_repo_invalid, got %v", name, err)
		}
	}

	entries, err := os.ReadDir(repos_dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("invalid names left side effects: %v", entries)
	}
}

func TestRepoDeleteMissing(t *testing.T) {
	test_setup(t)

	if err := repo_delete("missing"); err != err_repo_not_found {
		t.Fatalf("expected err_repo_not_found, got %v", err)
	}
}

func TestRepoList(t *testing.T) {
	test_setup(t)

	if names := repo_list(); len(names) != 0 {
		t.Fatalf("expected no repositories, got %v", names)
	}

	check(repo_create("zebra"))
	check(repo_create("apple"))

	names := repo_list()
	if len(names) != 2 || names[0] != "apple" || names[1] != "zebra" {
		t.Fatalf("unexpected list %v", names)
	}
}
