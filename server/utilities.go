// Forge server: Utilities
// Copyright Alistair Cunningham 2025

package main

import (
	"crypto/rand"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	alphanumeric = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

var (
	match_hyphens = regexp.MustCompile(`-`)
)

func atoi(s string, def int64) int64 {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return int64(i)
}

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func file_create(path string) {
	file_mkdir_for_file(path)
	f := must(os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0644))
	f.Close()
}

func file_exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func file_mkdir(path string) {
	check(os.MkdirAll(path, 0755))
}

func file_mkdir_for_file(path string) {
	file_mkdir(filepath.Dir(path))
}

func itoa(in int) string {
	return strconv.Itoa(in)
}

func must[T any](v T, errors ...error) T {
	if len(errors) == 0 {
		switch e := any(v).(type) {
		case error:
			if e == nil {
				return v
			}
		default:
			return v
		}
		panic(v)
	}
	err := errors[0]
	if err != nil {
		panic(err)
	}
	return v
}

func now() int64 {
	return time.Now().Unix()
}

func random_alphanumeric(length int) string {
	out := make([]rune, length)
	l := big.NewInt(int64(len(alphanumeric)))
	for i := range out {
		index := must(rand.Int(rand.Reader, l))
		out[i] = rune(alphanumeric[index.Int64()])
	}
	return string(out)
}

func uid() string {
	u := must(uuid.NewV7())
	return match_hyphens.ReplaceAllLiteralString(u.String(), "")
}
