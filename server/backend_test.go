// Forge server: Smart HTTP gateway tests
// Copyright Alistair Cunningham 2025

package main

import (
	"bytes"
	"testing"
)

func TestBackendParseStatus(t *testing.T) {
	stdout := []byte("Status: 404 Not Found\r\nContent-Type: text/plain\r\n\r\nnot here")
	status, headers, body := backend_parse(stdout, nil)
	if status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
	if headers["Content-Type"] != "text/plain" {
		t.Fatalf("unexpected headers %v", headers)
	}
	if string(body) != "not here" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestBackendParseDefaultStatus(t *testing.T) {
	stdout := []byte("Content-Type: application/x-git-upload-pack-advertisement\n\npayload")
	status, headers, body := backend_parse(stdout, nil)
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	if headers["Content-Type"] != "application/x-git-upload-pack-advertisement" {
		t.Fatalf("unexpected headers %v", headers)
	}
	if string(body) != "payload" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestBackendParseNoBoundaryStderr(t *testing.T) {
	status, headers, body := backend_parse(nil, []byte("fatal: something broke\n"))
	if status != 500 {
		t.Fatalf("expected 500, got %d", status)
	}
	if headers["Content-Type"] != "text/plain" {
		t.Fatalf("unexpected headers %v", headers)
	}
	if !bytes.Contains(body, []byte("something broke")) {
		t.Fatalf("stderr not surfaced: %q", body)
	}
}

func TestBackendParseNoBoundaryNoStderr(t *testing.T) {
	status, _, body := backend_parse([]byte("raw"), nil)
	if status != 200 || string(body) != "raw" {
		t.Fatalf("unexpected result %d %q", status, body)
	}
}

func TestBackendParseDropsMalformedHeaders(t *testing.T) {
	stdout := []byte("Content-Type: text/plain\nno colon here\nEmpty:\n: novalue\n\nbody")
	status, headers, body := backend_parse(stdout, nil)
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(headers) != 1 || headers["Content-Type"] != "text/plain" {
		t.Fatalf("malformed headers not dropped: %v", headers)
	}
	if string(body) != "body" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestBackendParseEarliestBoundary(t *testing.T) {
	// An LF blank line before a CRLF one ends the headers
	stdout := []byte("Content-Type: text/plain\n\nbody with \r\n\r\n inside")
	_, _, body := backend_parse(stdout, nil)
	if string(body) != "body with \r\n\r\n inside" {
		t.Fatalf("wrong boundary chosen: %q", body)
	}
}

func TestBackendParseStatusCaseInsensitive(t *testing.T) {
	stdout := []byte("status: 403 Forbidden\n\ndenied")
	status, _, _ := backend_parse(stdout, nil)
	if status != 403 {
		t.Fatalf("expected 403, got %d", status)
	}
}
