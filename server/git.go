// Forge server: Git object reading
// Copyright Alistair Cunningham 2025

package main

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Error kinds for the git core. The web layer maps these to distinct
// HTTP statuses, so a missing repository, a missing branch, a missing
// path, and a path naming a file must stay distinguishable.
var (
	err_repo_invalid     = errors.New("invalid repository name")
	err_repo_exists      = errors.New("repository already exists")
	err_repo_not_found   = errors.New("repository not found")
	err_branch_not_found = errors.New("branch not found")
	err_path_not_found   = errors.New("path not found")
	err_not_directory    = errors.New("path is not a directory")
	err_merge_conflict   = errors.New("merge conflict")
	err_branch_moved     = errors.New("branch moved during merge")
)

// TreeEntry is one name in a directory listing
type TreeEntry struct {
	Name string `json:"name"`
	Kind string `json:"type"`
}

// Commit is one entry in a branch's history
type Commit struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Author  string `json:"author"`
	Date    string `json:"date"`
}

// Get the directory holding all repositories
func repos_dir() string {
	return data_dir + "/repos"
}

// Get the path to a repository's bare directory
func git_repo_path(name string) string {
	return repos_dir() + "/" + name + ".git"
}

// Open a repository
func git_open(name string) (*git.Repository, error) {
	repo, err := git.PlainOpen(git_repo_path(name))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, err_repo_not_found
		}
		return nil, err
	}
	return repo, nil
}

// List the local branches of a repository, sorted by name
func git_branches(name string) ([]string, error) {
	repo, err := git_open(name)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Branches()
	if err != nil {
		return nil, err
	}

	var branches []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		branches = append(branches, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(branches)
	return branches, nil
}

// Resolve a local branch to its tip commit hash
func git_branch_tip(repo *git.Repository, branch string) (plumbing.Hash, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return plumbing.ZeroHash, err_branch_not_found
	}
	return ref.Hash(), nil
}

// List the entries of a branch's tree, optionally at a sub-path. A path
// that names a file fails with err_not_directory, not err_path_not_found.
func git_tree(name string, branch string, path string) ([]TreeEntry, error) {
	repo, err := git_open(name)
	if err != nil {
		return nil, err
	}

	tip, err := git_branch_tip(repo, branch)
	if err != nil {
		return nil, err
	}

	commit, err := repo.CommitObject(tip)
	if err != nil {
		return nil, err
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}

	path = strings.Trim(path, "/")
	if path != "" {
		entry, err := tree.FindEntry(path)
		if err != nil {
			return nil, err_path_not_found
		}
		if entry.Mode != filemode.Dir {
			return nil, err_not_directory
		}
		tree, err = tree.Tree(path)
		if err != nil {
			return nil, err_path_not_found
		}
	}

	entries := []TreeEntry{}
	for _, entry := range tree.Entries {
		kind := "blob"
		if entry.Mode == filemode.Dir {
			kind = "tree"
		} else if entry.Mode == filemode.Submodule {
			kind = "unknown"
		}
		entries = append(entries, TreeEntry{Name: entry.Name, Kind: kind})
	}

	return entries, nil
}

// Resolve a branch for history browsing: local branches first, falling
// back to origin remote-tracking branches so branches that exist only on
// a mirrored remote stay browsable.
func git_history_tip(repo *git.Repository, branch string) (plumbing.Hash, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		ref, err = repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
		if err != nil {
			return plumbing.ZeroHash, err_branch_not_found
		}
	}
	return ref.Hash(), nil
}

// Start a fresh commit walk from a tip, newest first. Each call returns a
// new iterator, so history can be walked again without rewinding state.
func git_history_walk(repo *git.Repository, tip plumbing.Hash) (object.CommitIter, error) {
	return repo.Log(&git.LogOptions{From: tip})
}

// Render one commit for the REST boundary. Timestamps are POSIX seconds
// internally and RFC 2822 style text outwards.
func git_commit_entry(c *object.Commit) Commit {
	author := c.Author.Name
	if author == "" {
		author = "Unknown"
	}
	return Commit{
		ID:      c.Hash.String(),
		Message: strings.TrimSpace(c.Message),
		Author:  author,
		Date:    time.Unix(c.Author.When.Unix(), 0).UTC().Format("Mon, 02 Jan 2006 15:04:05 -0700"),
	}
}

// List the history of a branch, newest first
func git_history(name string, branch string) ([]Commit, error) {
	repo, err := git_open(name)
	if err != nil {
		return nil, err
	}

	tip, err := git_history_tip(repo, branch)
	if err != nil {
		return nil, err
	}

	iter, err := git_history_walk(repo, tip)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	commits := []Commit{}
	err = iter.ForEach(func(c *object.Commit) error {
		commits = append(commits, git_commit_entry(c))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return commits, nil
}
