// database_test.go - Database handle tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"path/filepath"
	"sort"
	"testing"
)

func buildDatabase(t *testing.T, path string, values map[string]*Value, locks []string) *Database {
	t.Helper()

	contents := NewDatabaseChangeset(nil)
	for key, value := range values {
		if err := contents.Set(key, value); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	if err := WriteDatabaseFile(path, contents, locks); err != nil {
		t.Fatalf("WriteDatabaseFile failed: %v", err)
	}

	db, err := OpenDatabase(path)
	if err != nil {
		t.Fatalf("OpenDatabase failed: %v", err)
	}
	return db
}

func TestDatabaseLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db := buildDatabase(t, path, map[string]*Value{
		"/a/one":   Int32Value(1),
		"/a/two":   StringValue("2"),
		"/a/sub/x": BoolValue(true),
		"/b/other": DoubleValue(0.5),
	}, nil)

	if !db.Has("/a/one") || db.Has("/a/missing") {
		t.Error("Has gave wrong answers")
	}
	if got := db.Get("/a/two"); !got.Equal(StringValue("2")) {
		t.Errorf("Get(/a/two) = %s", got)
	}
	if got := db.Get("/a/missing"); got != nil {
		t.Errorf("Get(missing) = %s", got)
	}

	list := db.List("/a/")
	sort.Strings(list)
	want := []string{"one", "sub/", "two"}
	if len(list) != len(want) {
		t.Fatalf("List(/a/) = %v, want %v", list, want)
	}
	for i := range want {
		if list[i] != want[i] {
			t.Fatalf("List(/a/) = %v, want %v", list, want)
		}
	}

	if db.Locks() != nil {
		t.Error("database without locks reports a locks table")
	}
	if !db.IsValid() {
		t.Error("freshly opened database is invalid")
	}
}

func TestDatabaseLocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locked.db")
	db := buildDatabase(t, path, map[string]*Value{"/a/b": Int32Value(1)}, []string{"/a/b", "/a/c"})

	locks := db.Locks()
	if locks == nil {
		t.Fatal("locks table missing")
	}
	if !locks.Has("/a/b") || locks.Has("/a/z") {
		t.Error("lock lookup gave wrong answers")
	}
	names := locks.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "/a/b" || names[1] != "/a/c" {
		t.Errorf("Names() = %v", names)
	}
}

func TestDatabaseInvalidatedByReplacement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swap.db")
	db := buildDatabase(t, path, map[string]*Value{"/k": Int32Value(1)}, nil)

	if !db.IsValid() {
		t.Fatal("database invalid before replacement")
	}

	// Atomic replacement swaps in a fresh inode.
	contents := NewDatabaseChangeset(nil)
	_ = contents.Set("/k", Int32Value(2))
	if err := WriteDatabaseFile(path, contents, nil); err != nil {
		t.Fatalf("replacement failed: %v", err)
	}

	if db.IsValid() {
		t.Error("stale handle still reports valid after replacement")
	}

	// The snapshot itself is unchanged.
	if got := db.Get("/k"); !got.Equal(Int32Value(1)) {
		t.Errorf("stale snapshot mutated: %s", got)
	}

	fresh, err := OpenDatabase(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if got := fresh.Get("/k"); !got.Equal(Int32Value(2)) {
		t.Errorf("fresh handle reads %s, want i32:2", got)
	}
}

func TestDatabaseSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.db")
	db := buildDatabase(t, path, map[string]*Value{
		"/a": Int32Value(1),
		"/b": Int32Value(2),
	}, nil)

	snapshot := db.Snapshot()
	if snapshot.Size() != 2 {
		t.Fatalf("snapshot size = %d", snapshot.Size())
	}
	if found, value := snapshot.Get("/a"); !found || !value.Equal(Int32Value(1)) {
		t.Error("snapshot lost a value")
	}
}

func TestOpenDatabaseMissing(t *testing.T) {
	if _, err := OpenDatabase(filepath.Join(t.TempDir(), "nope.db")); err == nil {
		t.Error("OpenDatabase succeeded on a missing file")
	}
}

func TestNilDatabaseIsInert(t *testing.T) {
	var db *Database
	if db.Has("/k") || db.Get("/k") != nil || db.IsValid() {
		t.Error("nil database is not inert")
	}
	if db.List("/") != nil || db.Locks() != nil {
		t.Error("nil database lists contents")
	}
	if db.Snapshot().Size() != 0 {
		t.Error("nil database snapshot is not empty")
	}
}
