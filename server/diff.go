// Forge server: Git diffing
// Copyright Alistair Cunningham 2025

package main

import (
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// DiffStat summarises one file's changes between two branches
type DiffStat struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// Resolve two branch tips to their trees
func git_diff_trees(repo *git.Repository, base string, head string) (*object.Tree, *object.Tree, error) {
	base_hash, err := git_branch_tip(repo, base)
	if err != nil {
		return nil, nil, err
	}
	head_hash, err := git_branch_tip(repo, head)
	if err != nil {
		return nil, nil, err
	}

	base_commit, err := repo.CommitObject(base_hash)
	if err != nil {
		return nil, nil, err
	}
	head_commit, err := repo.CommitObject(head_hash)
	if err != nil {
		return nil, nil, err
	}

	base_tree, err := base_commit.Tree()
	if err != nil {
		return nil, nil, err
	}
	head_tree, err := head_commit.Tree()
	if err != nil {
		return nil, nil, err
	}

	return base_tree, head_tree, nil
}

// Produce a unified diff of two branches as patch text. Identical
// branches diff to the empty string.
func git_diff(name string, base string, head string) (string, error) {
	repo, err := git_open(name)
	if err != nil {
		return "", err
	}

	base_tree, head_tree, err := git_diff_trees(repo, base, head)
	if err != nil {
		return "", err
	}

	changes, err := base_tree.Diff(head_tree)
	if err != nil {
		return "", err
	}

	patch, err := changes.Patch()
	if err != nil {
		return "", err
	}

	return patch.String(), nil
}

// Per-file addition and deletion counts between two branches
func git_diff_stats(name string, base string, head string) ([]DiffStat, error) {
	repo, err := git_open(name)
	if err != nil {
		return nil, err
	}

	base_tree, head_tree, err := git_diff_trees(repo, base, head)
	if err != nil {
		return nil, err
	}

	changes, err := base_tree.Diff(head_tree)
	if err != nil {
		return nil, err
	}

	patch, err := changes.Patch()
	if err != nil {
		return nil, err
	}

	stats := []DiffStat{}
	for _, s := range patch.Stats() {
		stats = append(stats, DiffStat{Path: s.Name, Additions: s.Addition, Deletions: s.Deletion})
	}

	return stats, nil
}
