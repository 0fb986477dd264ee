// profile.go: Profile assembly for strata
//
// A profile is an ordered list of sources computed once at engine
// construction. Profile loading never aborts: every situation has a defined
// outcome, at worst a warning on stderr and the null profile (zero sources,
// nothing writable, all reads nil).
//
// Selector precedence:
//
//  1. an explicit selector passed by the caller
//  2. the mandatory per-uid file <mandatory dir>/<uid>
//  3. the STRATA_PROFILE environment variable
//  4. the per-user runtime profile <runtime dir>/profile
//  5. a profile named "user" under the sysconf and data dirs
//  6. the built-in default of a single writable user source
//
// A selector beginning with '/' is an absolute profile path; otherwise it is
// searched under the sysconf profile dir first, then each data dir. A
// missing explicitly-named profile yields the null profile with a warning;
// a missing implicit profile silently falls through to the default.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// defaultProfileLine is what an absent implicit profile behaves as.
const defaultProfileLine = "user-db:user"

// openProfile computes the source list for the optional selector.
func openProfile(selector string, dirs *Dirs, transport Transport) []*Source {
	var file *os.File

	// 1. Explicit selector wins outright; otherwise walk the fallbacks until
	// we hold either a selector or an open file, never both.

	// 2. Mandatory profile.
	if selector == "" {
		file = openFile(filepath.Join(dirs.MandatoryProfileDir, fmt.Sprintf("%d", os.Getuid())))
	}

	// 3. Environment variable.
	if selector == "" && file == nil {
		selector = os.Getenv(EnvProfile)
	}

	// 4. Runtime profile.
	if selector == "" && file == nil {
		file = openFile(filepath.Join(dirs.RuntimeDir, "profile"))
	}

	// 5. Profile named "user".
	if selector == "" && file == nil {
		file = searchProfile("user", dirs)
	}

	// 6. Built-in default.
	if selector == "" && file == nil {
		return parseProfile(strings.NewReader(defaultProfileLine), dirs, transport)
	}

	if selector != "" {
		if selector[0] == '/' {
			file = openFile(selector)
		} else {
			file = searchProfile(selector, dirs)
		}
		if file == nil {
			log.Printf("strata: unable to open named profile (%s): using the null configuration", selector)
			return nil
		}
	}

	defer func() { _ = file.Close() }()
	return parseProfile(file, dirs, transport)
}

func openFile(path string) *os.File {
	file, err := os.Open(path) // #nosec G304 -- profile paths come from the configured dirs
	if err != nil {
		return nil
	}
	return file
}

// searchProfile looks for a named profile under the sysconf profile dir,
// then each data dir, in order.
func searchProfile(name string, dirs *Dirs) *os.File {
	if file := openFile(filepath.Join(dirs.SysconfProfileDir, name)); file != nil {
		return file
	}
	for _, dir := range dirs.DataDirs {
		if file := openFile(filepath.Join(dir, name)); file != nil {
			return file
		}
	}
	return nil
}

// parseProfile reads one source description per line. Comments start at '#',
// surrounding whitespace is trimmed, empty lines are skipped and unknown
// prefixes produce a warning. Writability belongs to the first source only.
func parseProfile(r io.Reader, dirs *Dirs, transport Transport) []*Source {
	var sources []*Source

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		source := sourceFromLine(line, len(sources) == 0, dirs, transport)
		if source == nil {
			log.Printf("strata: unknown database description: %s", line)
			continue
		}
		sources = append(sources, source)
	}

	return sources
}

// sourceFromLine parses one "<kind>-db:<name-or-path>" description.
func sourceFromLine(line string, first bool, dirs *Dirs, transport Transport) *Source {
	prefix, name, ok := strings.Cut(line, ":")
	if !ok || name == "" {
		return nil
	}

	switch prefix {
	case "user-db":
		return newSource(SourceUser, name, first, dirs, transport)
	case "system-db":
		return newSource(SourceSystem, name, false, dirs, transport)
	case "service-db":
		return newSource(SourceService, name, first, dirs, transport)
	case "file-db":
		if name[0] != '/' {
			return nil
		}
		return newSource(SourceFile, name, false, dirs, transport)
	default:
		return nil
	}
}
