// Forge server: Smart HTTP gateway
// Copyright Alistair Cunningham 2025

package main

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// Semaphore bounding concurrent git subprocesses
var git_slots chan struct{}

func git_jobs_start() {
	jobs := ini_int("git", "jobs", 2*runtime.NumCPU())
	if jobs < 1 {
		jobs = 1
	}
	git_slots = make(chan struct{}, jobs)
}

func git_job_acquire() {
	git_slots <- struct{}{}
}

func git_job_release() {
	<-git_slots
}

// Git protocol fallthrough. Any request not matched by the REST routes
// is handed to "git http-backend" as a CGI subprocess, which serves
// clone, fetch and push for every repository under the data directory.
func backend_handler(c *gin.Context) {
	debug("Gateway %s %s", c.Request.Method, c.Request.URL.Path)

	// Buffer the request body up front. Git clients may send it gzipped;
	// the CGI process expects it decompressed.
	body, err := backend_body(c.Request)
	if err != nil {
		c.String(http.StatusBadRequest, "Bad request body\n")
		return
	}

	git_job_acquire()
	defer git_job_release()

	cmd := exec.Command("git", "http-backend")
	cmd.Env = append(os.Environ(),
		"GIT_PROJECT_ROOT="+repos_dir(),
		"GIT_HTTP_EXPORT_ALL=",
		"PATH_INFO="+c.Request.URL.Path,
		"REQUEST_METHOD="+c.Request.Method,
		"QUERY_STRING="+c.Request.URL.RawQuery,
		"REMOTE_ADDR="+c.ClientIP(),
	)
	if ct := c.GetHeader("Content-Type"); ct != "" {
		cmd.Env = append(cmd.Env, "CONTENT_TYPE="+ct)
	}
	cmd.Env = append(cmd.Env, "CONTENT_LENGTH="+strconv.Itoa(len(body)))

	cmd.Stdin = bytes.NewReader(body)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if err != nil {
		if _, exited := err.(*exec.ExitError); exited {
			// http-backend reports request-level failures on stderr and a
			// non-zero exit; its stdout still carries a usable CGI response
			warn("git http-backend exited: %v: %s", err, stderr.String())
		} else {
			warn("Unable to spawn git http-backend: %v", err)
			c.String(http.StatusInternalServerError, "Failed to spawn git http-backend\n")
			return
		}
	}

	status, headers, out := backend_parse(stdout.Bytes(), stderr.Bytes())
	for key, value := range headers {
		c.Writer.Header().Add(key, value)
	}
	c.Writer.WriteHeader(status)
	c.Writer.Write(out)
}

// Read the request body, transparently decompressing gzip
func backend_body(r *http.Request) ([]byte, error) {
	reader := io.Reader(r.Body)
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(reader)
}

// Parse a CGI response from git http-backend into an HTTP status, headers
// and body. The header block ends at the first blank line, whichever of
// "\n\n" or "\r\n\r\n" appears first. A "Status:" pseudo-header sets the
// status code, defaulting to 200. Malformed header lines are dropped. If
// no header boundary is found at all the subprocess failed before
// emitting CGI output, so its stderr becomes a 500 response.
func backend_parse(stdout []byte, stderr []byte) (int, map[string]string, []byte) {
	boundary := -1
	length := 0
	if i := bytes.Index(stdout, []byte("\n\n")); i >= 0 {
		boundary, length = i, 2
	}
	if i := bytes.Index(stdout, []byte("\r\n\r\n")); i >= 0 && (boundary < 0 || i < boundary) {
		boundary, length = i, 4
	}

	if boundary < 0 {
		if len(stderr) > 0 {
			return http.StatusInternalServerError, map[string]string{"Content-Type": "text/plain"}, stderr
		}
		return http.StatusOK, map[string]string{}, stdout
	}

	status := http.StatusOK
	headers := map[string]string{}
	for _, line := range strings.Split(string(stdout[:boundary]), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(strings.ToLower(line), "status:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if code, err := strconv.Atoi(fields[1]); err == nil {
					status = code
				}
			}
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		headers[key] = value
	}

	return status, headers, stdout[boundary+length:]
}
