// changeset_test.go - Changeset behaviour tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"strings"
	"testing"
)

func TestChangesetSetAndGet(t *testing.T) {
	changeset := NewChangeset()

	if err := changeset.Set("/a/b", Int32Value(1)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := changeset.Set("/a/c", nil); err != nil {
		t.Fatalf("Set(reset) failed: %v", err)
	}

	if found, value := changeset.Get("/a/b"); !found || !value.Equal(Int32Value(1)) {
		t.Errorf("Get(/a/b) = (%v, %s)", found, value)
	}
	if found, value := changeset.Get("/a/c"); !found || value != nil {
		t.Errorf("Get(/a/c) = (%v, %s), want a reset", found, value)
	}
	if found, _ := changeset.Get("/a/d"); found {
		t.Error("Get found a key that was never set")
	}
	if changeset.IsEmpty() || changeset.Size() != 2 {
		t.Errorf("Size = %d, want 2", changeset.Size())
	}
}

func TestChangesetSetRejectsInvalid(t *testing.T) {
	changeset := NewChangeset()

	if err := changeset.Set("no-slash", Int32Value(1)); err == nil {
		t.Error("Set accepted a relative path")
	}
	if err := changeset.Set("/a//b", Int32Value(1)); err == nil {
		t.Error("Set accepted a double slash")
	}
	if err := changeset.Set("/a/", Int32Value(1)); err == nil {
		t.Error("Set accepted a value for a dir")
	}
}

func TestChangesetSealedIsImmutable(t *testing.T) {
	changeset := NewChangeset()
	if err := changeset.Set("/a/b", Int32Value(1)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	changeset.Seal()
	changeset.Seal() // idempotent

	err := changeset.Set("/a/c", Int32Value(2))
	if err == nil {
		t.Fatal("Set succeeded on a sealed changeset")
	}
	if !strings.Contains(err.Error(), "sealed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestChangesetDirResetRemovesContained(t *testing.T) {
	changeset := NewChangeset()
	_ = changeset.Set("/a/b", Int32Value(1))
	_ = changeset.Set("/a/sub/c", Int32Value(2))
	_ = changeset.Set("/z", Int32Value(3))

	if err := changeset.Set("/a/", nil); err != nil {
		t.Fatalf("dir reset failed: %v", err)
	}

	if found, _ := changeset.Get("/a/b"); found {
		t.Error("dir reset left a contained key behind")
	}
	if found, value := changeset.Get("/a/"); !found || value != nil {
		t.Error("dir reset itself was not recorded")
	}
	if found, _ := changeset.Get("/z"); !found {
		t.Error("dir reset removed an unrelated key")
	}
}

func TestDescribeSinglePath(t *testing.T) {
	changeset, _ := NewWriteChangeset("/a/b", Int32Value(1))

	prefix, paths, values, n := changeset.Describe()
	if n != 1 || prefix != "/a/b" {
		t.Fatalf("Describe = (%q, %d)", prefix, n)
	}
	if len(paths) != 1 || paths[0] != "" {
		t.Errorf("paths = %v, want [\"\"]", paths)
	}
	if !values[0].Equal(Int32Value(1)) {
		t.Errorf("values[0] = %s", values[0])
	}
	if !changeset.IsSealed() {
		t.Error("Describe did not seal")
	}
}

func TestDescribePrefixTrimming(t *testing.T) {
	changeset := NewChangeset()
	_ = changeset.Set("/a/ab", Int32Value(1))
	_ = changeset.Set("/a/ac", Int32Value(2))

	prefix, paths, _, _ := changeset.Describe()
	if prefix != "/a/" {
		t.Errorf("prefix = %q, want /a/ (trimmed back to the last slash)", prefix)
	}
	if len(paths) != 2 || paths[0] != "ab" || paths[1] != "ac" {
		t.Errorf("paths = %v", paths)
	}
}

func TestDescribeRootPrefix(t *testing.T) {
	changeset := NewChangeset()
	_ = changeset.Set("/a", Int32Value(1))
	_ = changeset.Set("/b", Int32Value(2))

	prefix, _, _, _ := changeset.Describe()
	if prefix != "/" {
		t.Errorf("prefix = %q, want /", prefix)
	}
}

func TestDescribeDirResetsPrecedeKeys(t *testing.T) {
	changeset := NewChangeset()
	_ = changeset.Set("/a/sub/x", Int32Value(1))
	_ = changeset.Set("/a/sub/", nil)
	_ = changeset.Set("/a/sub/y", Int32Value(2))
	_ = changeset.Set("/a/other", Int32Value(3))

	prefix, paths, _, n := changeset.Describe()

	// Reconstruction recovers the key set.
	seen := make(map[string]struct{}, n)
	for _, rel := range paths {
		seen[prefix+rel] = struct{}{}
	}
	for _, want := range []string{"/a/sub/", "/a/sub/y", "/a/other"} {
		if _, ok := seen[want]; !ok {
			t.Errorf("description lost %s (paths=%v)", want, paths)
		}
	}

	// The dir reset precedes every key it dominates.
	resetAt, keyAt := -1, -1
	for i, rel := range paths {
		switch prefix + rel {
		case "/a/sub/":
			resetAt = i
		case "/a/sub/y":
			keyAt = i
		}
	}
	if resetAt < 0 || keyAt < 0 || resetAt > keyAt {
		t.Errorf("dir reset at %d does not precede contained key at %d", resetAt, keyAt)
	}
}

func TestChangeAppliesResetBeforeWrites(t *testing.T) {
	base := NewChangeset()
	_ = base.Set("/a/b", Int32Value(1))

	changes := NewChangeset()
	_ = changes.Set("/a/", nil)
	_ = changes.Set("/a/c", Int32Value(2))

	if err := base.Change(changes); err != nil {
		t.Fatalf("Change failed: %v", err)
	}

	if found, _ := base.Get("/a/b"); found {
		t.Error("reset did not remove /a/b")
	}
	if found, value := base.Get("/a/c"); !found || !value.Equal(Int32Value(2)) {
		t.Error("write after reset was lost")
	}
}

func TestChangeOnDatabaseResolvesResets(t *testing.T) {
	db := NewDatabaseChangeset(nil)
	_ = db.Set("/a/b", Int32Value(1))

	changes := NewChangeset()
	_ = changes.Set("/a/b", nil)

	if err := db.Change(changes); err != nil {
		t.Fatalf("Change failed: %v", err)
	}
	if found, _ := db.Get("/a/b"); found {
		t.Error("database changeset kept a reset entry")
	}
	if db.Size() != 0 {
		t.Errorf("database size = %d, want 0", db.Size())
	}
}

func TestIsSimilarTo(t *testing.T) {
	a := NewChangeset()
	_ = a.Set("/x", Int32Value(1))
	b := NewChangeset()
	_ = b.Set("/x", Int32Value(99))
	c := NewChangeset()
	_ = c.Set("/y", Int32Value(1))

	if !a.IsSimilarTo(b) {
		t.Error("same key set with different values should be similar")
	}
	if a.IsSimilarTo(c) {
		t.Error("different key sets should not be similar")
	}
}

func TestDiffChangesets(t *testing.T) {
	from := NewDatabaseChangeset(nil)
	_ = from.Set("/keep", Int32Value(1))
	_ = from.Set("/change", Int32Value(2))
	_ = from.Set("/remove", Int32Value(3))

	to := NewDatabaseChangeset(nil)
	_ = to.Set("/keep", Int32Value(1))
	_ = to.Set("/change", Int32Value(22))
	_ = to.Set("/add", Int32Value(4))

	diff := DiffChangesets(from, to)
	if diff == nil {
		t.Fatal("diff of different databases is nil")
	}

	// Applying the diff to a copy of from yields to.
	applied := NewDatabaseChangeset(from)
	if err := applied.Change(diff); err != nil {
		t.Fatalf("applying diff failed: %v", err)
	}
	if DiffChangesets(applied, to) != nil {
		t.Error("applying the diff did not converge")
	}

	if DiffChangesets(to, to) != nil {
		t.Error("diff of equal databases is not nil")
	}
}

func TestFilterChanges(t *testing.T) {
	base := NewDatabaseChangeset(nil)
	_ = base.Set("/a/b", Int32Value(1))
	_ = base.Set("/a/c", Int32Value(2))

	// Everything already matches: nil.
	same := NewChangeset()
	_ = same.Set("/a/b", Int32Value(1))
	if FilterChanges(base, same) != nil {
		t.Error("redundant delta was not filtered to nil")
	}

	// A reset of an absent key is redundant; of a present key is not.
	resets := NewChangeset()
	_ = resets.Set("/missing", nil)
	if FilterChanges(base, resets) != nil {
		t.Error("reset of an absent key survived the filter")
	}
	_ = resets.Set("/a/b", nil)
	filtered := FilterChanges(base, resets)
	if filtered == nil || filtered.Size() != 1 {
		t.Fatalf("filter kept %v entries, want 1", filtered)
	}

	// A dir reset survives iff the base holds keys under it.
	dirReset := NewChangeset()
	_ = dirReset.Set("/a/", nil)
	if FilterChanges(base, dirReset) == nil {
		t.Error("dir reset over existing keys was filtered out")
	}
	emptyDirReset := NewChangeset()
	_ = emptyDirReset.Set("/nothing/", nil)
	if FilterChanges(base, emptyDirReset) != nil {
		t.Error("dir reset over nothing survived the filter")
	}
}

func TestSerialiseRoundTrip(t *testing.T) {
	changeset := NewChangeset()
	_ = changeset.Set("/a/b", Int32Value(7))
	_ = changeset.Set("/a/s", StringValue("hello"))
	_ = changeset.Set("/a/list", StringListValue([]string{"x", "y"}))
	_ = changeset.Set("/a/reset", nil)
	_ = changeset.Set("/dir/", nil)

	decoded := DeserialiseChangeset(changeset.Serialise())

	if !decoded.IsSimilarTo(changeset) {
		t.Fatal("round trip changed the key set")
	}
	for _, key := range []string{"/a/b", "/a/s", "/a/list", "/a/reset", "/dir/"} {
		_, wantValue := changeset.Get(key)
		found, gotValue := decoded.Get(key)
		if !found || !gotValue.Equal(wantValue) {
			t.Errorf("round trip changed %s: %s != %s", key, gotValue, wantValue)
		}
	}
}

func TestDeserialiseIgnoresJunk(t *testing.T) {
	decoded := DeserialiseChangeset([]byte(`{
		"not-a-path": {"sig": "i", "data": 1},
		"/dir/": {"sig": "i", "data": 1},
		"/ok": {"sig": "i", "data": 5},
		"/bad-sig": {"sig": "zz", "data": 5}
	}`))

	if decoded.Size() != 1 {
		t.Errorf("deserialise kept %d entries, want 1", decoded.Size())
	}
	if found, value := decoded.Get("/ok"); !found || !value.Equal(Int32Value(5)) {
		t.Error("the one valid entry was lost")
	}

	if DeserialiseChangeset([]byte("garbage")).Size() != 0 {
		t.Error("garbage input did not produce an empty changeset")
	}
}

func TestChangesetAll(t *testing.T) {
	changeset := NewChangeset()
	_ = changeset.Set("/a", Int32Value(1))
	_ = changeset.Set("/b", nil)

	if !changeset.All(func(path string, value *Value) bool { return true }) {
		t.Error("All with a vacuous predicate failed")
	}
	if changeset.All(func(path string, value *Value) bool { return value != nil }) {
		t.Error("All ignored a failing entry")
	}
	if !NewChangeset().All(func(string, *Value) bool { return false }) {
		t.Error("All on an empty changeset is vacuously true")
	}
}
