// Forge server: Issues and labels
// Copyright Alistair Cunningham 2025

package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Issue struct {
	ID         int    `db:"id" json:"id"`
	Repository int    `db:"repository" json:"-"`
	Title      string `db:"title" json:"title"`
	Body       string `db:"body" json:"body"`
	Author     int    `db:"author" json:"author"`
	Status     string `db:"status" json:"status"`
	Created    int64  `db:"created" json:"created"`
}

type IssueComment struct {
	ID      int    `db:"id" json:"id"`
	Issue   int    `db:"issue" json:"-"`
	Body    string `db:"body" json:"body"`
	Author  int    `db:"author" json:"author"`
	Created int64  `db:"created" json:"created"`
}

type Label struct {
	ID         int    `db:"id" json:"id"`
	Repository int    `db:"repository" json:"-"`
	Name       string `db:"name" json:"name"`
	Color      string `db:"color" json:"color"`
}

// Resolve the :repo and :issue parameters to a visible repository and one
// of its issues. Writes an error response and returns nil on failure.
func issue_from_request(c *gin.Context) (*Repository, *Issue) {
	repo := repo_meta(c.Param("repo"), web_user(c))
	if repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
		return nil, nil
	}

	var issue Issue
	db := db_open("db/forge.db")
	if !db.scan(&issue, "select * from issues where id=? and repository=?", atoi(c.Param("issue"), 0), repo.ID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "issue not found"})
		return nil, nil
	}
	return repo, &issue
}

// Labels and assignee usernames attached to an issue
func issue_details(issue *Issue) Map {
	db := db_open("db/forge.db")

	labels := []Label{}
	db.scans(&labels, "select labels.* from labels join issue_labels on issue_labels.label=labels.id where issue_labels.issue=? order by labels.name", issue.ID)

	assignees := []string{}
	users := db_open("db/users.db")
	ids := []int{}
	db.scans(&ids, "select user from issue_assignees where issue=? order by user", issue.ID)
	for _, id := range ids {
		if name := users.text("select username from users where id=?", id); name != "" {
			assignees = append(assignees, name)
		}
	}

	return Map{
		"id":        issue.ID,
		"title":     issue.Title,
		"body":      issue.Body,
		"author":    issue.Author,
		"status":    issue.Status,
		"created":   issue.Created,
		"labels":    labels,
		"assignees": assignees,
	}
}

// GET /repos/:repo/issues - List a repository's issues
func web_issue_list(c *gin.Context) {
	repo := repo_meta(c.Param("repo"), web_user(c))
	if repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
		return
	}

	issues := []Issue{}
	db := db_open("db/forge.db")
	db.scans(&issues, "select * from issues where repository=? order by id", repo.ID)

	out := []Map{}
	for i := range issues {
		out = append(out, issue_details(&issues[i]))
	}
	c.JSON(http.StatusOK, out)
}

// POST /repos/:repo/issues - Open a new issue
func web_issue_create(c *gin.Context) {
	user := web_user(c)
	repo := repo_meta(c.Param("repo"), user)
	if repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
		return
	}

	var body struct {
		Title     string   `json:"title"`
		Body      string   `json:"body"`
		Labels    []string `json:"labels"`
		Assignees []string `json:"assignees"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title required"})
		return
	}

	db := db_open("db/forge.db")
	r, err := db.handle.Exec("insert into issues ( repository, title, body, author, status, created ) values ( ?, ?, ?, ?, 'open', ? )",
		repo.ID, body.Title, body.Body, user.ID, now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to create issue"})
		return
	}
	id, _ := r.LastInsertId()

	// Labels and assignees may be attached at creation; unknown names
	// are skipped rather than failing the whole create
	for _, name := range body.Labels {
		var label Label
		if db.scan(&label, "select * from labels where repository=? and name=?", repo.ID, name) {
			db.exec("replace into issue_labels ( issue, label ) values ( ?, ? )", id, label.ID)
		}
	}
	users := db_open("db/users.db")
	for _, name := range body.Assignees {
		var assignee User
		if users.scan(&assignee, "select * from users where username=?", name) {
			db.exec("replace into issue_assignees ( issue, user ) values ( ?, ? )", id, assignee.ID)
		}
	}

	var issue Issue
	db.scan(&issue, "select * from issues where id=?", id)
	c.JSON(http.StatusCreated, issue_details(&issue))
}

// GET /repos/:repo/issues/:issue - Get one issue with labels and assignees
func web_issue_get(c *gin.Context) {
	_, issue := issue_from_request(c)
	if issue == nil {
		return
	}
	c.JSON(http.StatusOK, issue_details(issue))
}

// PUT /repos/:repo/issues/:issue - Update title, body, or status
func web_issue_update(c *gin.Context) {
	_, issue := issue_from_request(c)
	if issue == nil {
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
		db.exec("update issues set title=? where id=?", *body.Title, issue.ID)
	}
	if body.Body != nil {
		db.exec("update issues set body=? where id=?", *body.Body, issue.ID)
	}
	if body.Status != nil {
		if *body.Status != "open" && *body.Status != "closed" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		db.exec("update issues set status=? where id=?", *body.Status, issue.ID)
	}

	var updated Issue
	db.scan(&updated, "select * from issues where id=?", issue.ID)
	c.JSON(http.StatusOK, issue_details(&updated))
}

// GET /repos/:repo/issues/:issue/comments - List comments, oldest first
func web_issue_comment_list(c *gin.Context) {
	_, issue := issue_from_request(c)
	if issue == nil {
		return
	}

	comments := []IssueComment{}
	db := db_open("db/forge.db")
	db.scans(&comments, "select * from issue_comments where issue=? order by id", issue.ID)
	c.JSON(http.StatusOK, comments)
}

// POST /repos/:repo/issues/:issue/comments - Add a comment
func web_issue_comment_create(c *gin.Context) {
	user := web_user(c)
	_, issue := issue_from_request(c)
	if issue == nil {
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
	r, err := db.handle.Exec("insert into issue_comments ( issue, body, author, created ) values ( ?, ?, ?, ? )",
		issue.ID, body.Body, user.ID, now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to create comment"})
		return
	}
	id, _ := r.LastInsertId()

	var comment IssueComment
	db.scan(&comment, "select * from issue_comments where id=?", id)
	c.JSON(http.StatusCreated, comment)
}

// GET /repos/:repo/labels - List a repository's labels
func web_label_list(c *gin.Context) {
	repo := repo_meta(c.Param("repo"), web_user(c))
	if repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
		return
	}

	labels := []Label{}
	db := db_open("db/forge.db")
	db.scans(&labels, "select * from labels where repository=? order by name", repo.ID)
	c.JSON(http.StatusOK, labels)
}

// POST /repos/:repo/labels - Create a label
func web_label_create(c *gin.Context) {
	repo := repo_meta(c.Param("repo"), web_user(c))
	if repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
		return
	}

	var body struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}

	db := db_open("db/forge.db")
	taken, err := db.exists("select id from labels where repository=? and name=?", repo.ID, body.Name)
	if err != nil || taken {
		c.JSON(http.StatusConflict, gin.H{"error": "label already exists"})
		return
	}

	r, err := db.handle.Exec("insert into labels ( repository, name, color ) values ( ?, ?, ? )", repo.ID, body.Name, body.Color)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to create label"})
		return
	}
	id, _ := r.LastInsertId()

	var label Label
	db.scan(&label, "select * from labels where id=?", id)
	c.JSON(http.StatusCreated, label)
}

// DELETE /repos/:repo/labels/:label - Delete a label everywhere it's used
func web_label_delete(c *gin.Context) {
	repo := repo_meta(c.Param("repo"), web_user(c))
	if repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
		return
	}

	db := db_open("db/forge.db")
	var label Label
	if !db.scan(&label, "select * from labels where repository=? and name=?", repo.ID, c.Param("label")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "label not found"})
		return
	}

	db.exec("delete from labels where id=?", label.ID)
	c.JSON(http.StatusOK, gin.H{"name": label.Name})
}

// PUT /repos/:repo/issues/:issue/labels/:label - Attach a label to an issue
func web_issue_label_add(c *gin.Context) {
	repo, issue := issue_from_request(c)
	if issue == nil {
		return
	}

	db := db_open("db/forge.db")
	var label Label
	if !db.scan(&label, "select * from labels where repository=? and name=?", repo.ID, c.Param("label")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "label not found"})
		return
	}

	db.exec("replace into issue_labels ( issue, label ) values ( ?, ? )", issue.ID, label.ID)
	c.JSON(http.StatusOK, issue_details(issue))
}

// DELETE /repos/:repo/issues/:issue/labels/:label - Remove a label from an issue
func web_issue_label_remove(c *gin.Context) {
	repo, issue := issue_from_request(c)
	if issue == nil {
		return
	}

	db := db_open("db/forge.db")
	var label Label
	if !db.scan(&label, "select * from labels where repository=? and name=?", repo.ID, c.Param("label")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "label not found"})
		return
	}

	db.exec("delete from issue_labels where issue=? and label=?", issue.ID, label.ID)
	c.JSON(http.StatusOK, issue_details(issue))
}

// PUT /repos/:repo/issues/:issue/assignees/:username - Assign a user
func web_issue_assignee_add(c *gin.Context) {
	_, issue := issue_from_request(c)
	if issue == nil {
		return
	}

	users := db_open("db/users.db")
	var assignee User
	if !users.scan(&assignee, "select * from users where username=?", c.Param("username")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	db := db_open("db/forge.db")
	db.exec("replace into issue_assignees ( issue, user ) values ( ?, ? )", issue.ID, assignee.ID)
	c.JSON(http.StatusOK, issue_details(issue))
}

// DELETE /repos/:repo/issues/:issue/assignees/:username - Unassign a user
func web_issue_assignee_remove(c *gin.Context) {
	_, issue := issue_from_request(c)
	if issue == nil {
		return
	}

	users := db_open("db/users.db")
	var assignee User
	if !users.scan(&assignee, "select * from users where username=?", c.Param("username")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	db := db_open("db/forge.db")
	db.exec("delete from issue_assignees where issue=? and user=?", issue.ID, assignee.ID)
	c.JSON(http.StatusOK, issue_details(issue))
}
