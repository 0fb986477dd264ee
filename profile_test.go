// profile_test.go - Profile assembly tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func testDirs(t *testing.T) Dirs {
	t.Helper()
	tmp := t.TempDir()
	dirs := Dirs{
		SysconfProfileDir:   filepath.Join(tmp, "profile"),
		MandatoryProfileDir: filepath.Join(tmp, "mandatory"),
		RuntimeDir:          filepath.Join(tmp, "runtime"),
		ShmDir:              filepath.Join(tmp, "shm"),
		ConfigHomeDir:       filepath.Join(tmp, "config"),
		SystemDBDir:         filepath.Join(tmp, "db"),
		DataDirs:            []string{filepath.Join(tmp, "data")},
	}
	for _, dir := range []string{dirs.SysconfProfileDir, dirs.MandatoryProfileDir, dirs.RuntimeDir, dirs.DataDirs[0]} {
		mustMkdir(t, dir)
	}
	return dirs
}

func TestParseProfileLines(t *testing.T) {
	dirs := testDirs(t)
	contents := `
# leading comment
  user-db:user   # trailing comment

system-db:site
file-db:/var/lib/strata/extra.db
nonsense-db:wat
service-db:svc
no-colon-line
`
	sources := parseProfile(strings.NewReader(contents), &dirs, &mockTransport{})

	if len(sources) != 4 {
		t.Fatalf("parsed %d sources, want 4", len(sources))
	}

	if sources[0].Kind != SourceUser || sources[0].Name != "user" || !sources[0].Writable {
		t.Errorf("first source wrong: %+v", sources[0])
	}
	if sources[1].Kind != SourceSystem || sources[1].Writable {
		t.Errorf("second source wrong: %+v", sources[1])
	}
	if sources[2].Kind != SourceFile || sources[2].Name != "/var/lib/strata/extra.db" {
		t.Errorf("third source wrong: %+v", sources[2])
	}
	if sources[3].Kind != SourceService || sources[3].Writable {
		t.Errorf("fourth source wrong: %+v", sources[3])
	}

	if sources[0].Bus != BusSession || sources[0].ObjectPath != "/io/strata/Writer/user" {
		t.Errorf("user source bus coordinates wrong: %+v", sources[0])
	}
	if sources[1].Bus != BusNone {
		t.Errorf("system source has a bus: %+v", sources[1])
	}
}

func TestParseProfileSystemFirstIsReadOnly(t *testing.T) {
	dirs := testDirs(t)
	sources := parseProfile(strings.NewReader("system-db:site\nuser-db:user\n"), &dirs, nil)

	if len(sources) != 2 {
		t.Fatalf("parsed %d sources, want 2", len(sources))
	}
	if sources[0].Writable {
		t.Error("a system-db first source must be read-only")
	}
	if sources[1].Writable {
		t.Error("a non-first user-db must be read-only")
	}
}

func TestParseProfileRelativeFilePathIgnored(t *testing.T) {
	dirs := testDirs(t)
	sources := parseProfile(strings.NewReader("file-db:relative/path\n"), &dirs, nil)
	if len(sources) != 0 {
		t.Errorf("a relative file-db path was accepted: %v", sources)
	}
}

func TestOpenProfileExplicitAbsolute(t *testing.T) {
	dirs := testDirs(t)
	path := filepath.Join(dirs.SysconfProfileDir, "explicit")
	mustWriteFile(t, path, "user-db:primary\n")

	sources := openProfile(path, &dirs, nil)
	if len(sources) != 1 || sources[0].Name != "primary" {
		t.Fatalf("explicit profile not honoured: %v", sources)
	}
}

func TestOpenProfileExplicitMissingYieldsNull(t *testing.T) {
	dirs := testDirs(t)

	sources := openProfile("/does/not/exist", &dirs, nil)
	if len(sources) != 0 {
		t.Errorf("missing explicit profile did not yield the null profile: %v", sources)
	}
}

func TestOpenProfileNamedSearchesSysconfThenData(t *testing.T) {
	dirs := testDirs(t)
	mustWriteFile(t, filepath.Join(dirs.DataDirs[0], "shared"), "user-db:fromdata\n")

	sources := openProfile("shared", &dirs, nil)
	if len(sources) != 1 || sources[0].Name != "fromdata" {
		t.Fatalf("data-dir fallback failed: %v", sources)
	}

	// A sysconf profile of the same name takes precedence.
	mustWriteFile(t, filepath.Join(dirs.SysconfProfileDir, "shared"), "user-db:fromsysconf\n")
	sources = openProfile("shared", &dirs, nil)
	if len(sources) != 1 || sources[0].Name != "fromsysconf" {
		t.Fatalf("sysconf precedence failed: %v", sources)
	}
}

func TestOpenProfileDefaultChain(t *testing.T) {
	dirs := testDirs(t)
	t.Setenv(EnvProfile, "")

	sources := openProfile("", &dirs, nil)
	if len(sources) != 1 {
		t.Fatalf("default chain produced %d sources, want 1", len(sources))
	}
	if sources[0].Kind != SourceUser || sources[0].Name != "user" || !sources[0].Writable {
		t.Errorf("default source wrong: %+v", sources[0])
	}
}

func TestOpenProfileEnvironmentSelector(t *testing.T) {
	dirs := testDirs(t)
	mustWriteFile(t, filepath.Join(dirs.SysconfProfileDir, "fromenv"), "user-db:envdb\n")
	t.Setenv(EnvProfile, "fromenv")

	sources := openProfile("", &dirs, nil)
	if len(sources) != 1 || sources[0].Name != "envdb" {
		t.Fatalf("environment selector ignored: %v", sources)
	}
}

func TestOpenProfileRuntimeProfile(t *testing.T) {
	dirs := testDirs(t)
	t.Setenv(EnvProfile, "")
	mustWriteFile(t, filepath.Join(dirs.RuntimeDir, "profile"), "user-db:runtime\n")

	sources := openProfile("", &dirs, nil)
	if len(sources) != 1 || sources[0].Name != "runtime" {
		t.Fatalf("runtime profile ignored: %v", sources)
	}
}

func TestOpenProfileMandatoryWinsOverEnvironment(t *testing.T) {
	dirs := testDirs(t)
	mustWriteFile(t, filepath.Join(dirs.SysconfProfileDir, "fromenv"), "user-db:envdb\n")
	t.Setenv(EnvProfile, "fromenv")

	uid := strconv.Itoa(os.Getuid())
	mustWriteFile(t, filepath.Join(dirs.MandatoryProfileDir, uid), "system-db:mandated\n")

	sources := openProfile("", &dirs, nil)
	if len(sources) != 1 || sources[0].Name != "mandated" {
		t.Fatalf("mandatory profile did not win: %v", sources)
	}
}
