// Forge server: Web server and routes
// Copyright Alistair Cunningham 2025

package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

func web_start(port int) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), rate_limit_middleware(rate_limit_api))

	router.POST("/register", web_register)
	router.POST("/login", rate_limit_middleware(rate_limit_login), web_login)

	router.GET("/repos", web_repo_list)
	router.POST("/repos/:repo", auth_required(), web_repo_create)
	router.DELETE("/repos/:repo", auth_required(), web_repo_delete)

	router.GET("/repos/:repo/branches", web_branches)
	router.GET("/repos/:repo/tree/:branch", web_tree)
	router.GET("/repos/:repo/tree/:branch/*path", web_tree)
	router.GET("/repos/:repo/commits/:branch", web_commits)
	router.GET("/repos/:repo/diff/:base/:head", web_diff)
	router.GET("/repos/:repo/diff/:base/:head/stats", web_diff_stats)

	router.GET("/repos/:repo/issues", web_issue_list)
	router.POST("/repos/:repo/issues", auth_required(), web_issue_create)
	router.GET("/repos/:repo/issues/:issue", web_issue_get)
	router.PUT("/repos/:repo/issues/:issue", auth_required(), web_issue_update)
	router.GET("/repos/:repo/issues/:issue/comments", web_issue_comment_list)
	router.POST("/repos/:repo/issues/:issue/comments", auth_required(), web_issue_comment_create)
	router.PUT("/repos/:repo/issues/:issue/labels/:label", auth_required(), web_issue_label_add)
	router.DELETE("/repos/:repo/issues/:issue/labels/:label", auth_required(), web_issue_label_remove)
	router.PUT("/repos/:repo/issues/:issue/assignees/:username", auth_required(), web_issue_assignee_add)
	router.DELETE("/repos/:repo/issues/:issue/assignees/:username", auth_required(), web_issue_assignee_remove)

	router.GET("/repos/:repo/labels", web_label_list)
	router.POST("/repos/:repo/labels", auth_required(), web_label_create)
	router.DELETE("/repos/:repo/labels/:label", auth_required(), web_label_delete)

	router.GET("/repos/:repo/pulls", web_pull_list)
	router.POST("/repos/:repo/pulls", auth_required(), web_pull_create)
	router.GET("/repos/:repo/pulls/:pull", web_pull_get)
	router.PUT("/repos/:repo/pulls/:pull", auth_required(), web_pull_update)
	router.GET("/repos/:repo/pulls/:pull/diff", web_pull_diff)
	router.GET("/repos/:repo/pulls/:pull/comments", web_pull_comment_list)
	router.POST("/repos/:repo/pulls/:pull/comments", auth_required(), web_pull_comment_create)
	router.GET("/repos/:repo/pulls/:pull/reviews", web_review_list)
	router.POST("/repos/:repo/pulls/:pull/reviews", auth_required(), web_review_create)
	router.GET("/repos/:repo/pulls/:pull/reviews/:review", web_review_get)
	router.PUT("/repos/:repo/pulls/:pull/reviews/:review", auth_required(), web_review_update)

	// Everything else is the git wire protocol
	router.NoRoute(backend_handler)

	info("Listening on port %d", port)
	check(router.Run(":" + itoa(port)))
}

// Map a git core error to an HTTP response. A path naming a file is the
// caller's mistake, not a missing resource, so it gets a 400.
func web_git_error(c *gin.Context, err error) {
	switch {
	case errors.Is(err, err_repo_not_found):
		c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
	case errors.Is(err, err_branch_not_found):
		c.JSON(http.StatusNotFound, gin.H{"error": "branch not found"})
	case errors.Is(err, err_path_not_found):
		c.JSON(http.StatusNotFound, gin.H{"error": "path not found"})
	case errors.Is(err, err_not_directory):
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is not a directory"})
	default:
		warn("Git error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// GET /repos/:repo/branches - List branches
func web_branches(c *gin.Context) {
	branches, err := git_branches(c.Param("repo"))
	if err != nil {
		web_git_error(c, err)
		return
	}
	if branches == nil {
		branches = []string{}
	}
	c.JSON(http.StatusOK, branches)
}

// GET /repos/:repo/tree/:branch/*path - List a directory in a branch
func web_tree(c *gin.Context) {
	entries, err := git_tree(c.Param("repo"), c.Param("branch"), c.Param("path"))
	if err != nil {
		web_git_error(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// GET /repos/:repo/commits/:branch - List a branch's history, newest first
func web_commits(c *gin.Context) {
	commits, err := git_history(c.Param("repo"), c.Param("branch"))
	if err != nil {
		web_git_error(c, err)
		return
	}
	c.JSON(http.StatusOK, commits)
}

// GET /repos/:repo/diff/:base/:head - Unified diff between two branches
func web_diff(c *gin.Context) {
	git_job_acquire()
	defer git_job_release()

	patch, err := git_diff(c.Param("repo"), c.Param("base"), c.Param("head"))
	if err != nil {
		web_git_error(c, err)
		return
	}
	c.String(http.StatusOK, "%s", patch)
}

// GET /repos/:repo/diff/:base/:head/stats - Per-file change counts
func web_diff_stats(c *gin.Context) {
	git_job_acquire()
	defer git_job_release()

	stats, err := git_diff_stats(c.Param("repo"), c.Param("base"), c.Param("head"))
	if err != nil {
		web_git_error(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
