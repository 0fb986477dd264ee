// paths.go: Path classification and validation for strata
//
// Every engine entry point that takes a path rejects invalid input early with
// a typed error. The predicates here are total: they return a verdict for any
// string, never panic.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"strings"

	"github.com/agilira/go-errors"
)

// A path is a UTF-8 string beginning with '/'. A key does not end with '/'
// and a dir does. Neither may contain "//". A relative path is the portion
// after a dir: no leading '/' and no "//".
//
//	"/a/b"   key
//	"/a/b/"  dir
//	"b/c"    relative path
//	"b/c/"   relative path (a dir, relative to some prefix)

// IsPath reports whether s is a valid path (key or dir).
func IsPath(s string) bool {
	return CheckPath(s) == nil
}

// IsKey reports whether s is a valid key.
func IsKey(s string) bool {
	return CheckKey(s) == nil
}

// IsDir reports whether s is a valid dir.
func IsDir(s string) bool {
	return CheckDir(s) == nil
}

// IsRelPath reports whether s is a valid relative path.
func IsRelPath(s string) bool {
	return CheckRelPath(s) == nil
}

// CheckPath validates s as a path, returning a typed error naming the
// offending condition, or nil.
func CheckPath(s string) error {
	if s == "" {
		return errors.New(ErrCodeInvalidPath, "empty string given as path")
	}
	if s[0] != '/' {
		return errors.New(ErrCodeInvalidPath, "path must begin with a slash").
			WithContext("path", s)
	}
	if strings.Contains(s, "//") {
		return errors.New(ErrCodeInvalidPath, "path must not contain two adjacent slashes").
			WithContext("path", s)
	}
	return nil
}

// CheckKey validates s as a key: a path with no trailing slash.
func CheckKey(s string) error {
	if err := CheckPath(s); err != nil {
		return err
	}
	if s[len(s)-1] == '/' {
		return errors.New(ErrCodeInvalidPath, "key must not end with a slash").
			WithContext("path", s)
	}
	return nil
}

// CheckDir validates s as a dir: a path with a trailing slash.
func CheckDir(s string) error {
	if err := CheckPath(s); err != nil {
		return err
	}
	if s[len(s)-1] != '/' {
		return errors.New(ErrCodeInvalidPath, "dir must end with a slash").
			WithContext("path", s)
	}
	return nil
}

// CheckRelPath validates s as a relative path: non-empty, no leading slash,
// no "//".
func CheckRelPath(s string) error {
	if s == "" {
		return errors.New(ErrCodeInvalidPath, "empty string given as relative path")
	}
	if s[0] == '/' {
		return errors.New(ErrCodeInvalidPath, "relative path must not begin with a slash").
			WithContext("path", s)
	}
	if strings.Contains(s, "//") {
		return errors.New(ErrCodeInvalidPath, "relative path must not contain two adjacent slashes").
			WithContext("path", s)
	}
	return nil
}
