// changeset.go: Sets of changes to a strata database
//
// A Changeset represents a set of changes that can be made to a strata
// database: writing new values to keys and resetting keys or whole dirs.
// Create one with NewChangeset, populate it with Set, then submit it with
// Client.ChangeFast or Client.Change. NewWriteChangeset is a convenience
// constructor for the common single-write case.
//
// A changeset starts out mutable and non-threadsafe. Sealing it makes it
// immutable and safe to share between threads; sealing is required before a
// changeset crosses a thread boundary or goes on the wire. Describe
// implicitly seals.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/agilira/go-errors"
)

// Changeset is an ordered map of path -> (value | reset). Two modes exist:
//
//   - delta: entries map paths to new values or to a reset sentinel (a nil
//     Value); a reset may target a dir, meaning "reset every key under it".
//
//   - database: entries are always key -> value; resets are resolved on
//     insertion. A database changeset never contains a reset and a dir may
//     never appear in it.
type Changeset struct {
	table      map[string]*Value
	isDatabase bool
	sealed     bool

	// Description, built by Seal for non-empty changesets.
	prefix string
	paths  []string
	values []*Value
}

// NewChangeset creates a new, empty changeset in delta mode.
func NewChangeset() *Changeset {
	return &Changeset{table: make(map[string]*Value)}
}

// NewDatabaseChangeset creates a changeset in database mode, optionally
// copying the contents of another database-mode changeset.
func NewDatabaseChangeset(copyOf *Changeset) *Changeset {
	changeset := NewChangeset()
	changeset.isDatabase = true

	if copyOf != nil && copyOf.isDatabase {
		for key, value := range copyOf.table {
			changeset.table[key] = value
		}
	}

	return changeset
}

// NewWriteChangeset creates a changeset with a single change. Equivalent to
// NewChangeset followed by Set.
func NewWriteChangeset(path string, value *Value) (*Changeset, error) {
	changeset := NewChangeset()
	if err := changeset.Set(path, value); err != nil {
		return nil, err
	}
	return changeset, nil
}

// Set adds an operation to modify path. path may be a key or a dir. If it is
// a key then value may be a Value or nil (to set or reset the key). If it is
// a dir then this must be a reset: value must be nil.
func (c *Changeset) Set(path string, value *Value) error {
	if c.sealed {
		return errors.New(ErrCodeSealed, "changeset is sealed and cannot be modified").
			WithContext("path", path)
	}
	if err := CheckPath(path); err != nil {
		return err
	}

	// A dir can only be reset, never assigned.
	if strings.HasSuffix(path, "/") {
		if value != nil {
			return errors.New(ErrCodeInvalidPath, "a dir cannot be assigned a value, only reset").
				WithContext("path", path)
		}

		// Resetting a dir also resets every path under it.
		for key := range c.table {
			if strings.HasPrefix(key, path) {
				delete(c.table, key)
			}
		}

		if !c.isDatabase {
			c.table[path] = nil
		}
	} else if value == nil {
		if !c.isDatabase {
			c.table[path] = nil
		} else {
			delete(c.table, path)
		}
	} else {
		c.table[path] = value
	}

	return nil
}

// Get checks if the changeset has an outstanding request to change the value
// of key. Returns (false, nil) if key is not involved; otherwise (true, v)
// where v is the new value, or nil for a reset.
func (c *Changeset) Get(key string) (bool, *Value) {
	value, present := c.table[key]
	return present, value
}

// All checks if every change satisfies predicate. The predicate is called on
// each entry in turn until it returns false. Vacuously true when empty.
func (c *Changeset) All(predicate func(path string, value *Value) bool) bool {
	for path, value := range c.table {
		if !predicate(path, value) {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the changeset contains no changes.
func (c *Changeset) IsEmpty() bool {
	return len(c.table) == 0
}

// Size returns the number of changes.
func (c *Changeset) Size() int {
	return len(c.table)
}

// IsSimilarTo checks if two changesets write to the exact same set of paths.
// Values are not considered. Lets a caller recognise repeated writes of the
// same keys (as seen when an application writes a key on every move of a
// slider); the engine's write queue does not call it.
func (c *Changeset) IsSimilarTo(other *Changeset) bool {
	if len(c.table) != len(other.table) {
		return false
	}
	for path := range c.table {
		if _, present := other.table[path]; !present {
			return false
		}
	}
	return true
}

// IsSealed reports whether the changeset has been sealed.
func (c *Changeset) IsSealed() bool {
	return c.sealed
}

// Seal makes the changeset immutable and builds its description: the longest
// common prefix, the sorted list of relative paths and the parallel list of
// values. The sort places dir resets ahead of the keys they contain, which a
// downstream writer relies on to apply deletes before inserts.
//
// Idempotent. After sealing, Set fails with a typed error.
func (c *Changeset) Seal() {
	if c.sealed {
		return
	}
	c.sealed = true

	if len(c.table) == 0 {
		return
	}

	// Pass 1: the common prefix.
	var first string
	prefixLen := -1
	for path := range c.table {
		if prefixLen < 0 {
			first = path
			prefixLen = len(path)
			continue
		}
		for i := 0; i < prefixLen; i++ {
			if i >= len(path) || first[i] != path[i] {
				prefixLen = i
				break
			}
		}
	}

	// A common prefix of "/a/a" between "/a/ab" and "/a/ac" must be trimmed
	// back to "/a/". A single path keeps its full length.
	if len(c.table) > 1 {
		for first[prefixLen-1] != '/' {
			prefixLen--
		}
	}
	c.prefix = first[:prefixLen]

	// Pass 2: the relative paths, sorted. Lexicographic order places any dir
	// reset before the keys it dominates, because a dir is a strict prefix of
	// every path under it.
	c.paths = make([]string, 0, len(c.table))
	for path := range c.table {
		c.paths = append(c.paths, path[prefixLen:])
	}
	sort.Strings(c.paths)

	// Pass 3: the values, in path order.
	c.values = make([]*Value, len(c.paths))
	for i, rel := range c.paths {
		c.values[i] = c.table[c.prefix+rel]
	}
}

// Describe seals the changeset (if not already sealed) and returns its
// description: the common prefix, the list of changed paths relative to that
// prefix, and the parallel list of values (nil for a reset). The paths come
// in an order such that dirs always precede keys contained within them.
// Returns n == 0 with empty slices for an empty changeset.
func (c *Changeset) Describe() (prefix string, paths []string, values []*Value, n int) {
	c.Seal()
	return c.prefix, c.paths, c.values, len(c.table)
}

// Serialise encodes the changeset as a self-describing path -> maybe-value
// map. The returned bytes have no particular format guarantees beyond being
// accepted by DeserialiseChangeset.
func (c *Changeset) Serialise() []byte {
	// encoding/json emits map keys in sorted order, giving a canonical form.
	data, err := json.Marshal(c.table)
	if err != nil {
		// Values hold pre-validated JSON; the map itself cannot fail.
		return []byte("{}")
	}
	return data
}

// DeserialiseChangeset rebuilds a changeset from the output of an earlier
// Serialise. This call never fails: improperly-formatted parts are simply
// ignored. A nil value may reset a key or a dir; a non-nil value may only be
// assigned to a key.
func DeserialiseChangeset(data []byte) *Changeset {
	changeset := NewChangeset()

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return changeset
	}

	for path, payload := range raw {
		if string(payload) == "null" {
			if IsPath(path) {
				changeset.table[path] = nil
			}
		} else if IsKey(path) {
			var value Value
			if err := json.Unmarshal(payload, &value); err == nil {
				changeset.table[path] = &value
			}
		}
	}

	return changeset
}

// Change applies changes to c. Dir resets in changes first remove every
// entry of c under the dir, then the writes are copied down. Resets are
// processed before the keys they dominate (the description order guarantees
// this), so a reset of "/a/" followed by a write of "/a/c" leaves "/a/c" as
// the only key under "/a/" (a delta-mode c also keeps the "/a/" reset).
//
// Describing changes implicitly seals it; c itself must be unsealed.
func (c *Changeset) Change(changes *Changeset) error {
	if c.sealed {
		return errors.New(ErrCodeSealed, "changeset is sealed and cannot be modified")
	}

	prefix, paths, values, n := changes.Describe()
	if n == 0 {
		return nil
	}

	for i, rel := range paths {
		if err := c.Set(prefix+rel, values[i]); err != nil {
			return err
		}
	}

	return nil
}

// DiffChangesets compares two database-mode changesets and produces a delta
// describing their differences, or nil when they are equal. Applying the
// result to a copy of from yields a changeset equal to to.
//
// No attempt is made to synthesise dir resets; each removed key is reset
// individually.
func DiffChangesets(from, to *Changeset) *Changeset {
	if !from.isDatabase || !to.isDatabase {
		return nil
	}

	var changeset *Changeset

	record := func(path string, value *Value) {
		if changeset == nil {
			changeset = NewChangeset()
		}
		changeset.table[path] = value
	}

	for key, value := range to.table {
		if fromValue, present := from.table[key]; !present || !value.Equal(fromValue) {
			record(key, value)
		}
	}

	for key := range from.table {
		if _, present := to.table[key]; !present {
			record(key, nil)
		}
	}

	return changeset
}

// FilterChanges returns the subset of delta that would actually alter the
// database-mode changeset base, or nil when applying delta would leave base
// unchanged. A dir reset survives the filter iff base holds at least one key
// under that dir; a key write survives iff base disagrees about its value.
func FilterChanges(base, delta *Changeset) *Changeset {
	var filtered *Changeset

	record := func(path string, value *Value) {
		if filtered == nil {
			filtered = NewChangeset()
		}
		filtered.table[path] = value
	}

	for path, value := range delta.table {
		if strings.HasSuffix(path, "/") {
			for key := range base.table {
				if strings.HasPrefix(key, path) {
					record(path, nil)
					break
				}
			}
		} else {
			current, present := base.table[path]
			if value == nil {
				if present {
					record(path, nil)
				}
			} else if !present || !value.Equal(current) {
				record(path, value)
			}
		}
	}

	return filtered
}
