// Forge server: Git merging tests
// Copyright Alistair Cunningham 2025

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func test_author() object.Signature {
	return object.Signature{Name: "merger", Email: "merger@forge.local", When: time.Now()}
}

func test_tip(t *testing.T, name string, branch string) plumbing.Hash {
	t.Helper()
	repo, err := git_open(name)
	if err != nil {
		t.Fatal(err)
	}
	tip, err := git_branch_tip(repo, branch)
	if err != nil {
		t.Fatal(err)
	}
	return tip
}

func TestMergeDisjoint(t *testing.T) {
	test_setup(t)
	dir := test_repo(t, "project")
	test_commit(t, dir, "shared.txt", "base\n", "First")
	test_git(t, dir, "checkout", "-b", "feature")
	test_commit(t, dir, "feature.txt", "new\n", "Add feature")
	test_git(t, dir, "checkout", "main")
	test_commit(t, dir, "main.txt", "other\n", "Add main file")

	base_before := test_tip(t, "project", "main")
	head := test_tip(t, "project", "feature")

	hash, conflicts, err := git_merge("project", "main", "feature", "Merge feature", test_author())
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("unexpected conflicts %v", conflicts)
	}

	if test_tip(t, "project", "main") != hash {
		t.Fatal("main not advanced to merge commit")
	}

	repo, _ := git_open("project")
	commit, err := repo.CommitObject(hash)
	if err != nil {
		t.Fatal(err)
	}
	if len(commit.ParentHashes) != 2 {
		t.Fatalf("expected 2 parents, got %d", len(commit.ParentHashes))
	}
	if commit.ParentHashes[0] != base_before || commit.ParentHashes[1] != head {
		t.Fatalf("unexpected parents %v", commit.ParentHashes)
	}

	// The merged tree holds both sides' files
	entries, err := git_tree("project", "main", "")
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	if !names["shared.txt"] || !names["feature.txt"] || !names["main.txt"] {
		t.Fatalf("merged tree incomplete: %v", entries)
	}
}

func TestMergeConflict(t *testing.T) {
	test_setup(t)
	dir := test_repo(t, "project")
	test_commit(t, dir, "shared.txt", "base\n", "First")
	test_git(t, dir, "checkout", "-b", "feature")
	test_commit(t, dir, "shared.txt", "feature\n", "Feature edit")
	test_git(t, dir, "checkout", "main")
	test_commit(t, dir, "shared.txt", "main\n", "Main edit")

	base_before := test_tip(t, "project", "main")

	_, conflicts, err := git_merge("project", "main", "feature", "Merge feature", test_author())
	if err != err_merge_conflict {
		t.Fatalf("expected err_merge_conflict, got %v", err)
	}
	if len(conflicts) != 1 || conflicts[0] != "shared.txt" {
		t.Fatalf("unexpected conflicts %v", conflicts)
	}

	// A conflicting merge must not move anything
	if test_tip(t, "project", "main") != base_before {
		t.Fatal("main moved despite conflict")
	}
}

func TestMergeFastForward(t *testing.T) {
	test_setup(t)
	dir := test_repo(t, "project")
	test_commit(t, dir, "a.txt", "1\n", "First")
	test_git(t, dir, "checkout", "-b", "feature")
	test_commit(t, dir, "b.txt", "2\n", "Second")

	head := test_tip(t, "project", "feature")

	hash, conflicts, err := git_merge("project", "main", "feature", "Merge feature", test_author())
	if err != nil || len(conflicts) != 0 {
		t.Fatalf("fast-forward failed: %v %v", err, conflicts)
	}
	if hash != head {
		t.Fatalf("expected fast-forward to %s, got %s", head, hash)
	}
	if test_tip(t, "project", "main") != head {
		t.Fatal("main not fast-forwarded")
	}
}

func TestMergeUpToDate(t *testing.T) {
	test_setup(t)
	dir := test_repo(t, "project")
	test_commit(t, dir, "a.txt", "1\n", "First")
	test_git(t, dir, "branch", "feature")
	test_commit(t, dir, "b.txt", "2\n", "Second")

	base := test_tip(t, "project", "main")

	hash, conflicts, err := git_merge("project", "main", "feature", "Merge feature", test_author())
	if err != nil || len(conflicts) != 0 {
		t.Fatalf("up-to-date merge failed: %v %v", err, conflicts)
	}
	if hash != base {
		t.Fatalf("expected unchanged tip %s, got %s", base, hash)
	}
	if test_tip(t, "project", "main") != base {
		t.Fatal("main moved on up-to-date merge")
	}
}

func TestBranchAdvanceStaleTip(t *testing.T) {
	test_setup(t)
	dir := test_repo(t, "project")
	test_commit(t, dir, "a.txt", "1\n", "First")
	stale := test_tip(t, "project", "main")
	test_commit(t, dir, "b.txt", "2\n", "Second")
	tip := test_tip(t, "project", "main")

	repo, err := git_open("project")
	if err != nil {
		t.Fatal(err)
	}

	// An advance from a tip that is no longer current must report a
	// retryable conflict and leave the branch where it is
	if err := git_branch_advance(repo, "main", stale, stale); err != err_branch_moved {
		t.Fatalf("expected err_branch_moved, got %v", err)
	}
	if test_tip(t, "project", "main") != tip {
		t.Fatal("main moved from a stale observed tip")
	}

	// From the current tip the advance goes through
	if err := git_branch_advance(repo, "main", tip, stale); err != nil {
		t.Fatal(err)
	}
	if test_tip(t, "project", "main") != stale {
		t.Fatal("main not advanced from the current tip")
	}
}

func TestMergeUnreadableSubtree(t *testing.T) {
	test_setup(t)
	dir := test_repo(t, "project")
	test_commit(t, dir, "docs/a.md", "a\n", "First")
	test_git(t, dir, "checkout", "-b", "feature")
	test_commit(t, dir, "feature.txt", "f\n", "Add feature")
	test_git(t, dir, "checkout", "main")
	test_commit(t, dir, "top.txt", "t\n", "Top level")

	// Remove the docs tree object so reading it fails
	hash := strings.TrimSpace(test_git(t, dir, "rev-parse", "main:docs"))
	if err := os.Remove(filepath.Join(dir, ".git", "objects", hash[:2], hash[2:])); err != nil {
		t.Fatal(err)
	}

	base_before := test_tip(t, "project", "main")

	_, _, err := git_merge("project", "main", "feature", "Merge feature", test_author())
	if err == nil {
		t.Fatal("merge succeeded with an unreadable subtree")
	}
	if err == err_merge_conflict {
		t.Fatalf("read failure misreported as conflict: %v", err)
	}
	if test_tip(t, "project", "main") != base_before {
		t.Fatal("main moved despite the failed merge")
	}
}

func TestMergeNested(t *testing.T) {
	test_setup(t)
	dir := test_repo(t, "project")
	test_commit(t, dir, "docs/a.md", "a\n", "First")
	test_git(t, dir, "checkout", "-b", "feature")
	test_commit(t, dir, "docs/sub/b.md", "b\n", "Add nested")
	test_git(t, dir, "checkout", "main")
	test_commit(t, dir, "top.txt", "t\n", "Top level")

	_, _, err := git_merge("project", "main", "feature", "Merge feature", test_author())
	if err != nil {
		t.Fatal(err)
	}

	entries, err := git_tree("project", "main", "docs/sub")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "b.md" {
		t.Fatalf("nested merge tree wrong: %v", entries)
	}
}
