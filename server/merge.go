// Forge server: Git merging
// Copyright Alistair Cunningham 2025

package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
)

type merge_change struct {
	action string // "add", "modify", "delete"
	hash   plumbing.Hash
	mode   filemode.FileMode
}

// Merge a head branch into a base branch with a three-way merge against
// their common ancestor. On success the base branch is advanced to a new
// two-parent commit and its hash returned. Conflicting file changes abort
// the merge before anything is written; the returned list names the
// conflicting paths. The ref update is compare-and-swap against the tip
// observed at the start, so a concurrent push or merge surfaces as
// err_branch_moved rather than being clobbered.
func git_merge(name string, base string, head string, message string, author object.Signature) (plumbing.Hash, []string, error) {
	repo, err := git_open(name)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}

	base_hash, err := git_branch_tip(repo, base)
	if err != nil {
		return plumbing.ZeroHash, nil, fmt.Errorf("base %q: %w", base, err)
	}
	head_hash, err := git_branch_tip(repo, head)
	if err != nil {
		return plumbing.ZeroHash, nil, fmt.Errorf("head %q: %w", head, err)
	}

	base_commit, err := repo.CommitObject(base_hash)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	head_commit, err := repo.CommitObject(head_hash)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}

	ancestors, err := base_commit.MergeBase(head_commit)
	if err != nil || len(ancestors) == 0 {
		return plumbing.ZeroHash, nil, fmt.Errorf("no common ancestor between %q and %q", base, head)
	}
	ancestor := ancestors[0]

	// Head is already contained in base
	if ancestor.Hash == head_hash {
		return base_hash, nil, nil
	}

	// Base hasn't diverged, so advance it to head directly
	if ancestor.Hash == base_hash {
		if err := git_branch_advance(repo, base, base_hash, head_hash); err != nil {
			return plumbing.ZeroHash, nil, err
		}
		return head_hash, nil, nil
	}

	ancestor_tree, err := ancestor.Tree()
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	base_tree, err := base_commit.Tree()
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	head_tree, err := head_commit.Tree()
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}

	head_changes, err := merge_side_changes(ancestor_tree, head_tree)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}
	base_changes, err := merge_side_changes(ancestor_tree, base_tree)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}

	// A file changed on both sides since the ancestor is a conflict. The
	// merge is all-or-nothing: nothing has been written yet at this point.
	var conflicts []string
	for path := range head_changes {
		if _, both := base_changes[path]; both {
			conflicts = append(conflicts, path)
		}
	}
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return plumbing.ZeroHash, conflicts, err_merge_conflict
	}

	// Build the merged tree: base's tree with head's changes applied
	merged := make(map[string]object.TreeEntry)
	if err := merge_tree_flatten(base_tree, "", merged); err != nil {
		return plumbing.ZeroHash, nil, err
	}
	for path, change := range head_changes {
		switch change.action {
		case "delete":
			delete(merged, path)
		case "add", "modify":
			merged[path] = object.TreeEntry{Name: path, Mode: change.mode, Hash: change.hash}
		}
	}

	merged_tree, err := merge_tree_build(repo, merged)
	if err != nil {
		return plumbing.ZeroHash, nil, err
	}

	commit := &object.Commit{
		Author:       author,
		Committer:    author,
		Message:      message,
		TreeHash:     merged_tree,
		ParentHashes: []plumbing.Hash{base_hash, head_hash},
	}
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.CommitObject)
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, nil, fmt.Errorf("unable to encode merge commit: %w", err)
	}
	commit_hash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, nil, fmt.Errorf("unable to store merge commit: %w", err)
	}

	if err := git_branch_advance(repo, base, base_hash, commit_hash); err != nil {
		return plumbing.ZeroHash, nil, err
	}

	return commit_hash, nil, nil
}

// Advance a branch from an observed tip to a new commit. Fails with
// err_branch_moved if another writer got there first; a storage failure
// after the commit object exists is surfaced as-is, since retrying can't
// tell whether the other writer already advanced the branch.
func git_branch_advance(repo *git.Repository, branch string, from plumbing.Hash, to plumbing.Hash) error {
	ref := plumbing.NewBranchReferenceName(branch)
	err := repo.Storer.CheckAndSetReference(
		plumbing.NewHashReference(ref, to),
		plumbing.NewHashReference(ref, from),
	)
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrReferenceHasChanged) {
		return err_branch_moved
	}
	return fmt.Errorf("commit %s written but branch %q not advanced: %w", to, branch, err)
}

// Collect one side's changes since the ancestor as a flat path map
func merge_side_changes(ancestor_tree *object.Tree, side_tree *object.Tree) (map[string]*merge_change, error) {
	changes, err := ancestor_tree.Diff(side_tree)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*merge_change)
	for _, change := range changes {
		from, to, err := change.Files()
		if err != nil {
			return nil, err
		}
		if from != nil && to == nil {
			out[from.Name] = &merge_change{action: "delete"}
		} else if from == nil && to != nil {
			out[to.Name] = &merge_change{action: "add", hash: to.Hash, mode: to.Mode}
		} else if from != nil && to != nil {
			if from.Name != to.Name {
				out[from.Name] = &merge_change{action: "delete"}
				out[to.Name] = &merge_change{action: "add", hash: to.Hash, mode: to.Mode}
			} else {
				out[to.Name] = &merge_change{action: "modify", hash: to.Hash, mode: to.Mode}
			}
		}
	}
	return out, nil
}

// merge_tree_flatten collects all file entries from a tree into a flat map
// keyed by path. An unreadable subtree fails the whole flatten; its files
// would otherwise silently vanish from the merge commit.
func merge_tree_flatten(tree *object.Tree, prefix string, entries map[string]object.TreeEntry) error {
	for _, entry := range tree.Entries {
		path := entry.Name
		if prefix != "" {
			path = prefix + "/" + entry.Name
		}
		if entry.Mode == filemode.Dir {
			subtree, err := tree.Tree(entry.Name)
			if err != nil {
				return fmt.Errorf("unable to read tree %q: %w", path, err)
			}
			if err := merge_tree_flatten(subtree, path, entries); err != nil {
				return err
			}
		} else {
			entries[path] = object.TreeEntry{Name: path, Mode: entry.Mode, Hash: entry.Hash}
		}
	}
	return nil
}

// merge_dir_node represents a directory in a tree being built
type merge_dir_node struct {
	entries  []object.TreeEntry
	children map[string]*merge_dir_node
}

// merge_tree_build builds a tree object hierarchy from a flat map of
// path to entry and stores it in the repository
func merge_tree_build(repo *git.Repository, entries map[string]object.TreeEntry) (plumbing.Hash, error) {
	root := &merge_dir_node{children: make(map[string]*merge_dir_node)}

	paths := make([]string, 0, len(entries))
	for path := range entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		entry := entries[path]
		parts := strings.Split(path, "/")
		node := root
		for i := 0; i < len(parts)-1; i++ {
			child, exists := node.children[parts[i]]
			if !exists {
				child = &merge_dir_node{children: make(map[string]*merge_dir_node)}
				node.children[parts[i]] = child
			}
			node = child
		}
		node.entries = append(node.entries, object.TreeEntry{
			Name: parts[len(parts)-1],
			Mode: entry.Mode,
			Hash: entry.Hash,
		})
	}

	return merge_tree_store(repo, root)
}

// merge_tree_store recursively stores tree objects and returns the root hash
func merge_tree_store(repo *git.Repository, node *merge_dir_node) (plumbing.Hash, error) {
	var all_entries []object.TreeEntry

	child_names := make([]string, 0, len(node.children))
	for name := range node.children {
		child_names = append(child_names, name)
	}
	sort.Strings(child_names)

	for _, name := range child_names {
		child := node.children[name]
		child_hash, err := merge_tree_store(repo, child)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		all_entries = append(all_entries, object.TreeEntry{
			Name: name,
			Mode: filemode.Dir,
			Hash: child_hash,
		})
	}

	all_entries = append(all_entries, node.entries...)

	// Git requires tree entries sorted with directories as if they had a
	// trailing slash
	sort.Slice(all_entries, func(i, j int) bool {
		ni := all_entries[i].Name
		nj := all_entries[j].Name
		if all_entries[i].Mode == filemode.Dir {
			ni += "/"
		}
		if all_entries[j].Mode == filemode.Dir {
			nj += "/"
		}
		return ni < nj
	})

	tree := &object.Tree{Entries: all_entries}
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.TreeObject)
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("unable to encode tree: %w", err)
	}
	return repo.Storer.SetEncodedObject(obj)
}
