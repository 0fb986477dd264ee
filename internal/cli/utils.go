// Utility functions for the strata CLI
//
// This file provides helpers for key-file loading and path assembly shared
// by the command handlers.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/agilira/go-errors"
	"github.com/agilira/strata"
	"go.yaml.in/yaml/v3"
)

// keyFile is the YAML document consumed by the load and compile commands:
// a map of paths to typed literals, plus an optional list of locked keys.
//
//	settings:
//	  /apps/editor/font-size: i32:11
//	  /apps/editor/theme: str:dark
//	locks:
//	  - /apps/editor/theme
type keyFile struct {
	Settings map[string]string `yaml:"settings"`
	Locks    []string          `yaml:"locks"`
}

// loadKeyFile reads and parses one key file.
func loadKeyFile(path string) (*keyFile, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- file path is a CLI argument
	if err != nil {
		return nil, errors.Wrap(err, strata.ErrCodeInvalidConfig, "unable to read key file").
			WithContext("path", path)
	}

	parsed := &keyFile{}
	if err := yaml.Unmarshal(data, parsed); err != nil {
		return nil, errors.Wrap(err, strata.ErrCodeInvalidConfig, "unable to parse key file").
			WithContext("path", path)
	}

	return parsed, nil
}

// joinPath appends a relative path to a dir without doubling slashes.
func joinPath(dir, rel string) string {
	return dir + strings.TrimPrefix(rel, "/")
}

// baseName returns the final path element.
func baseName(path string) string {
	return filepath.Base(path)
}
