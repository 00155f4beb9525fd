// Forge server: Rate limiting
// Copyright Alistair Cunningham 2025

package main

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

type rate_limit_entry struct {
	count int
	reset int64
}

type rate_limiter struct {
	entries map[string]*rate_limit_entry
	lock    sync.Mutex
	limit   int
	window  int64 // seconds
}

var (
	// General API rate limiter: 1000 requests per minute
	rate_limit_api = &rate_limiter{
		entries: make(map[string]*rate_limit_entry),
		limit:   1000,
		window:  60,
	}

	// Login rate limiter: 20 attempts per 5 minutes
	rate_limit_login = &rate_limiter{
		entries: make(map[string]*rate_limit_entry),
		limit:   20,
		window:  300,
	}
)

// Check if request is allowed; returns true if allowed, false if rate limited
func (r *rate_limiter) allow(key string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := now()
	e, found := r.entries[key]
	if !found || e.reset <= now {
		r.entries[key] = &rate_limit_entry{count: 1, reset: now + r.window}
		return true
	}

	if e.count >= r.limit {
		return false
	}
	e.count++
	return true
}

// Clear the limit for a key, used after a successful login
func (r *rate_limiter) reset(key string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.entries, key)
}

func rate_limit_client_ip(c *gin.Context) string {
	return c.ClientIP()
}

func rate_limit_middleware(r *rate_limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.allow(rate_limit_client_ip(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		c.Next()
	}
}
