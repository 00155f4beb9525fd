// Forge server: Pull requests and reviews
// Copyright Alistair Cunningham 2025

package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-git/go-git/v5/plumbing/object"
)

type Pull struct {
	ID         int    `db:"id" json:"id"`
	Repository int    `db:"repository" json:"-"`
	Title      string `db:"title" json:"title"`
	Body       string `db:"body" json:"body"`
	Base       string `db:"base" json:"base"`
	Head       string `db:"head" json:"head"`
	Author     int    `db:"author" json:"author"`
	Status     string `db:"status" json:"status"`
	Created    int64  `db:"created" json:"created"`
	Updated    int64  `db:"updated" json:"updated"`
}

type PullComment struct {
	ID      int    `db:"id" json:"id"`
	Pull    int    `db:"pull" json:"-"`
	Body    string `db:"body" json:"body"`
	Author  int    `db:"author" json:"author"`
	Created int64  `db:"created" json:"created"`
}

type Review struct {
	ID       int    `db:"id" json:"id"`
	Pull     int    `db:"pull" json:"-"`
	Reviewer int    `db:"reviewer" json:"reviewer"`
	Status   string `db:"status" json:"status"`
	Body     string `db:"body" json:"body"`
	Created  int64  `db:"created" json:"created"`
	Updated  int64  `db:"updated" json:"updated"`
}

func review_status_valid(status string) bool {
	return status == "approved" || status == "changes_requested" || status == "commented"
}

// Resolve the :repo and :pull parameters to a visible repository and one
// of its pull requests. Writes an error response and returns nil on failure.
func pull_from_request(c *gin.Context) (*Repository, *Pull) {
	repo := repo_meta(c.Param("repo"), web_user(c))
	if repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
		return nil, nil
	}

	var pull Pull
	db := db_open("db/forge.db")
	if !db.scan(&pull, "select * from pulls where id=? and repository=?", atoi(c.Param("pull"), 0), repo.ID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "pull request not found"})
		return nil, nil
	}
	return repo, &pull
}

// GET /repos/:repo/pulls - List a repository's pull requests
func web_pull_list(c *gin.Context) {
	repo := repo_meta(c.Param("repo"), web_user(c))
	if repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
		return
	}

	pulls := []Pull{}
	db := db_open("db/forge.db")
	db.scans(&pulls, "select * from pulls where repository=? order by id", repo.ID)
	c.JSON(http.StatusOK, pulls)
}

// POST /repos/:repo/pulls - Open a pull request. Both branches must exist
// at creation time; they may still move or vanish before the merge.
func web_pull_create(c *gin.Context) {
	user := web_user(c)
	repo := repo_meta(c.Param("repo"), user)
	if repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
		return
	}

	var body struct {
		Title string `json:"title"`
		Body  string `json:"body"`
		Base  string `json:"base"`
		Head  string `json:"head"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Title == "" || body.Base == "" || body.Head == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title, base and head required"})
		return
	}
	if body.Base == body.Head {
		c.JSON(http.StatusBadRequest, gin.H{"error": "base and head are the same branch"})
		return
	}

	git, err := git_open(repo.Name)
	if err != nil {
		web_git_error(c, err)
		return
	}
	if _, err := git_branch_tip(git, body.Base); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "base branch not found"})
		return
	}
	if _, err := git_branch_tip(git, body.Head); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "head branch not found"})
		return
	}

	db := db_open("db/forge.db")
	r, err := db.handle.Exec("insert into pulls ( repository, title, body, base, head, author, status, created, updated ) values ( ?, ?, ?, ?, ?, ?, 'open', ?, ? )",
		repo.ID, body.Title, body.Body, body.Base, body.Head, user.ID, now(), now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to create pull request"})
		return
	}
	id, _ := r.LastInsertId()

	var pull Pull
	db.scan(&pull, "select * from pulls where id=?", id)
	c.JSON(http.StatusCreated, pull)
}

// GET /repos/:repo/pulls/:pull - Get one pull request
func web_pull_get(c *gin.Context) {
	_, pull := pull_from_request(c)
	if pull == nil {
		return
	}
	c.JSON(http.StatusOK, pull)
}

// PUT /repos/:repo/pulls/:pull - Update a pull request. Setting status to
// "merged" runs the merge; a conflict or a concurrently moved base branch
// comes back as 409 and leaves the pull request open.
func web_pull_update(c *gin.Context) {
	user := web_user(c)
	repo, pull := pull_from_request(c)
	if pull == nil {
		return
	}

	var body struct {
		Title  *string `json:"title"`
		Body   *string `json:"body"`
		Status *string `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	db := db_open("db/forge.db")
	if body.Title != nil && *body.Title != "" {
		db.exec("update pulls set title=?, updated=? where id=?", *body.Title, now(), pull.ID)
	}
	if body.Body != nil {
		db.exec("update pulls set body=?, updated=? where id=?", *body.Body, now(), pull.ID)
	}

	if body.Status != nil {
		switch *body.Status {
		case "open", "closed":
			if pull.Status == "merged" {
				c.JSON(http.StatusConflict, gin.H{"error": "pull request already merged"})
				return
			}
			db.exec("update pulls set status=?, updated=? where id=?", *body.Status, now(), pull.ID)

		case "merged":
			if pull.Status != "open" {
				c.JSON(http.StatusConflict, gin.H{"error": "pull request not open"})
				return
			}
			if !web_pull_merge(c, repo, pull, user) {
				return
			}

		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
	}

	var updated Pull
	db.scan(&updated, "select * from pulls where id=?", pull.ID)
	c.JSON(http.StatusOK, updated)
}

// Run the merge for a pull request. Writes the error response itself and
// returns false if the merge didn't happen.
func web_pull_merge(c *gin.Context, repo *Repository, pull *Pull, user *User) bool {
	git_job_acquire()
	defer git_job_release()

	author := object.Signature{
		Name:  user.Username,
		Email: user.Username + "@" + ini_string("git", "domain", "forge.local"),
		When:  time.Now(),
	}
	message := fmt.Sprintf("Merge pull request #%d from %s into %s\n\n%s", pull.ID, pull.Head, pull.Base, pull.Title)

	hash, conflicts, err := git_merge(repo.Name, pull.Base, pull.Head, message, author)
	switch {
	case errors.Is(err, err_merge_conflict):
		c.JSON(http.StatusConflict, gin.H{"error": "merge conflict", "conflicts": conflicts})
		return false
	case errors.Is(err, err_branch_moved):
		c.JSON(http.StatusConflict, gin.H{"error": "branch moved, retry the merge"})
		return false
	case errors.Is(err, err_branch_not_found):
		c.JSON(http.StatusBadRequest, gin.H{"error": "branch no longer exists"})
		return false
	case err != nil:
		warn("Unable to merge pull request %d on %q: %v", pull.ID, repo.Name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to merge"})
		return false
	}

	db := db_open("db/forge.db")
	db.exec("update pulls set status='merged', updated=? where id=?", now(), pull.ID)
	info("Merged pull request %d on %q as %s", pull.ID, repo.Name, hash)
	return true
}

// GET /repos/:repo/pulls/:pull/diff - Unified diff of the pull request
func web_pull_diff(c *gin.Context) {
	repo, pull := pull_from_request(c)
	if pull == nil {
		return
	}

	git_job_acquire()
	defer git_job_release()

	patch, err := git_diff(repo.Name, pull.Base, pull.Head)
	if err != nil {
		web_git_error(c, err)
		return
	}
	c.String(http.StatusOK, "%s", patch)
}

// GET /repos/:repo/pulls/:pull/comments - List comments, oldest first
func web_pull_comment_list(c *gin.Context) {
	_, pull := pull_from_request(c)
	if pull == nil {
		return
	}

	comments := []PullComment{}
	db := db_open("db/forge.db")
	db.scans(&comments, "select * from pull_comments where pull=? order by id", pull.ID)
	c.JSON(http.StatusOK, comments)
}

// POST /repos/:repo/pulls/:pull/comments - Add a comment
func web_pull_comment_create(c *gin.Context) {
	user := web_user(c)
	_, pull := pull_from_request(c)
	if pull == nil {
		return
	}

	var body struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Body == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body required"})
		return
	}

	db := db_open("db/forge.db")
	r, err := db.handle.Exec("insert into pull_comments ( pull, body, author, created ) values ( ?, ?, ?, ? )",
		pull.ID, body.Body, user.ID, now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to create comment"})
		return
	}
	id, _ := r.LastInsertId()

	var comment PullComment
	db.scan(&comment, "select * from pull_comments where id=?", id)
	c.JSON(http.StatusCreated, comment)
}

// GET /repos/:repo/pulls/:pull/reviews - List reviews
func web_review_list(c *gin.Context) {
	_, pull := pull_from_request(c)
	if pull == nil {
		return
	}

	reviews := []Review{}
	db := db_open("db/forge.db")
	db.scans(&reviews, "select * from reviews where pull=? order by id", pull.ID)
	c.JSON(http.StatusOK, reviews)
}

// POST /repos/:repo/pulls/:pull/reviews - Submit a review
func web_review_create(c *gin.Context) {
	user := web_user(c)
	_, pull := pull_from_request(c)
	if pull == nil {
		return
	}

	var body struct {
		Status string `json:"status"`
		Body   string `json:"body"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || !review_status_valid(body.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be approved, changes_requested, or commented"})
		return
	}

	db := db_open("db/forge.db")
	r, err := db.handle.Exec("insert into reviews ( pull, reviewer, status, body, created, updated ) values ( ?, ?, ?, ?, ?, ? )",
		pull.ID, user.ID, body.Status, body.Body, now(), now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to create review"})
		return
	}
	id, _ := r.LastInsertId()

	var review Review
	db.scan(&review, "select * from reviews where id=?", id)
	c.JSON(http.StatusCreated, review)
}

// GET /repos/:repo/pulls/:pull/reviews/:review - Get one review
func web_review_get(c *gin.Context) {
	_, pull := pull_from_request(c)
	if pull == nil {
		return
	}

	var review Review
	db := db_open("db/forge.db")
	if !db.scan(&review, "select * from reviews where id=? and pull=?", atoi(c.Param("review"), 0), pull.ID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "review not found"})
		return
	}
	c.JSON(http.StatusOK, review)
}

// PUT /repos/:repo/pulls/:pull/reviews/:review - Revise one's own review
func web_review_update(c *gin.Context) {
	user := web_user(c)
	_, pull := pull_from_request(c)
	if pull == nil {
		return
	}

	var review Review
	db := db_open("db/forge.db")
	if !db.scan(&review, "select * from reviews where id=? and pull=?", atoi(c.Param("review"), 0), pull.ID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "review not found"})
		return
	}
	if review.Reviewer != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your review"})
		return
	}

	var body struct {
		Status *string `json:"status"`
		Body   *string `json:"body"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if body.Status != nil {
		if !review_status_valid(*body.Status) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		db.exec("update reviews set status=?, updated=? where id=?", *body.Status, now(), review.ID)
	}
	if body.Body != nil {
		db.exec("update reviews set body=?, updated=? where id=?", *body.Body, now(), review.ID)
	}

	var updated Review
	db.scan(&updated, "select * from reviews where id=?", review.ID)
	c.JSON(http.StatusOK, updated)
}
