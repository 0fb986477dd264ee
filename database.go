// database.go: Opaque database handles for strata sources
//
// A Database is an immutable snapshot of one backing database file: a
// key -> value lookup plus an optional locks sub-table. The engine treats it
// as opaque; the SQLite representation is an implementation detail of the
// handle. A handle becomes invalid when the backing file is replaced, at
// which point the owning source closes and re-opens it.
//
// WriteDatabaseFile is the writer-side counterpart used by the compile
// tooling and by tests: it builds a complete database file from a
// database-mode changeset and a list of locked keys.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/agilira/go-errors"
	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
	"golang.org/x/sys/unix"
)

// fileIdentity captures the identity of a backing file. Two stats with equal
// identity refer to the same file contents; a replaced file always changes
// identity because the writer renames a fresh inode into place.
type fileIdentity struct {
	dev   uint64
	ino   uint64
	size  int64
	mtime int64
}

func statIdentity(path string) (fileIdentity, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return fileIdentity{}, err
	}
	return fileIdentity{
		dev:   uint64(st.Dev), // #nosec G115 -- platform-width device id
		ino:   st.Ino,
		size:  st.Size,
		mtime: st.Mtim.Nano(),
	}, nil
}

// LockTable is the optional locks sub-table of a database.
type LockTable struct {
	names map[string]struct{}
}

// Has reports whether key is locked.
func (t *LockTable) Has(key string) bool {
	if t == nil {
		return false
	}
	_, present := t.names[key]
	return present
}

// Names returns every locked key, in no particular order.
func (t *LockTable) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.names))
	for name := range t.names {
		names = append(names, name)
	}
	return names
}

// Database is an immutable snapshot of a backing database file.
type Database struct {
	path     string
	identity fileIdentity
	values   map[string]*Value
	locks    *LockTable
}

// OpenDatabase loads a snapshot of the database file at path. The file is
// read once; subsequent replacement of the file renders the handle invalid
// but never corrupts it.
func OpenDatabase(path string) (*Database, error) {
	identity, err := statIdentity(path)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeDatabaseError, "unable to stat database file").
			WithContext("path", path)
	}

	handle, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=1000")
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeDatabaseError, "unable to open database file").
			WithContext("path", path)
	}
	defer func() { _ = handle.Close() }()

	db := &Database{
		path:     path,
		identity: identity,
		values:   make(map[string]*Value),
	}

	rows, err := handle.Query("SELECT path, sig, data FROM settings")
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeDatabaseError, "unable to read settings table").
			WithContext("path", path)
	}
	for rows.Next() {
		var key, sig, data string
		if err := rows.Scan(&key, &sig, &data); err != nil {
			_ = rows.Close()
			return nil, errors.Wrap(err, ErrCodeDatabaseError, "unable to scan settings row").
				WithContext("path", path)
		}
		value, err := valueFromWire(sig, []byte(data))
		if err != nil || !IsKey(key) {
			// A malformed row degrades to "key absent" rather than poisoning
			// the whole snapshot.
			continue
		}
		db.values[key] = value
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, errors.Wrap(err, ErrCodeDatabaseError, "unable to iterate settings table").
			WithContext("path", path)
	}
	_ = rows.Close()

	// The locks sub-table is optional.
	lockRows, err := handle.Query("SELECT path FROM locks")
	if err == nil {
		names := make(map[string]struct{})
		for lockRows.Next() {
			var key string
			if err := lockRows.Scan(&key); err != nil {
				break
			}
			names[key] = struct{}{}
		}
		_ = lockRows.Close()
		if len(names) > 0 {
			db.locks = &LockTable{names: names}
		}
	}

	return db, nil
}

// Has reports whether the snapshot contains key.
func (db *Database) Has(key string) bool {
	if db == nil {
		return false
	}
	_, present := db.values[key]
	return present
}

// Get returns the value for key, or nil when absent.
func (db *Database) Get(key string) *Value {
	if db == nil {
		return nil
	}
	return db.values[key]
}

// List returns the relative names directly under dir: plain names for keys,
// names with a trailing slash for sub-dirs. Order is unspecified.
func (db *Database) List(dir string) []string {
	if db == nil {
		return nil
	}

	seen := make(map[string]struct{})
	for key := range db.values {
		if !strings.HasPrefix(key, dir) {
			continue
		}
		rel := key[len(dir):]
		if i := strings.IndexByte(rel, '/'); i >= 0 {
			rel = rel[:i+1]
		}
		seen[rel] = struct{}{}
	}

	list := make([]string, 0, len(seen))
	for rel := range seen {
		list = append(list, rel)
	}
	return list
}

// Locks returns the locks sub-table, or nil when the database carries none.
func (db *Database) Locks() *LockTable {
	if db == nil {
		return nil
	}
	return db.locks
}

// IsValid reports whether the backing file still has the identity observed
// at open time. A missing or replaced file invalidates the handle.
func (db *Database) IsValid() bool {
	if db == nil {
		return false
	}
	identity, err := statIdentity(db.path)
	if err != nil {
		return false
	}
	return identity == db.identity
}

// Snapshot returns the database contents as a database-mode changeset.
func (db *Database) Snapshot() *Changeset {
	changeset := NewDatabaseChangeset(nil)
	if db != nil {
		for key, value := range db.values {
			changeset.table[key] = value
		}
	}
	return changeset
}

// WriteDatabaseFile builds a complete database file at path from a
// database-mode changeset and a list of locked keys, atomically replacing
// any previous file. The writer service and the compile tooling use this;
// the engine itself never writes database files.
func WriteDatabaseFile(path string, contents *Changeset, locks []string) error {
	if contents != nil && !contents.isDatabase {
		return errors.New(ErrCodeDatabaseError, "database files are built from database-mode changesets")
	}

	tmp := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	handle, err := sql.Open("sqlite3", "file:"+tmp+"?_busy_timeout=1000")
	if err != nil {
		return errors.Wrap(err, ErrCodeDatabaseError, "unable to create database file").
			WithContext("path", tmp)
	}

	fail := func(step string, err error) error {
		_ = handle.Close()
		_ = os.Remove(tmp)
		return errors.Wrap(err, ErrCodeDatabaseError, step).WithContext("path", path)
	}

	if _, err := handle.Exec(`
		CREATE TABLE settings (path TEXT PRIMARY KEY, sig TEXT NOT NULL, data TEXT NOT NULL);
		CREATE TABLE locks (path TEXT PRIMARY KEY);
	`); err != nil {
		return fail("unable to create database schema", err)
	}

	if contents != nil {
		for key, value := range contents.table {
			if value == nil {
				continue
			}
			if _, err := handle.Exec(
				"INSERT INTO settings (path, sig, data) VALUES (?, ?, ?)",
				key, value.sig, value.data); err != nil {
				return fail("unable to insert settings row", err)
			}
		}
	}

	for _, key := range locks {
		if _, err := handle.Exec("INSERT OR IGNORE INTO locks (path) VALUES (?)", key); err != nil {
			return fail("unable to insert locks row", err)
		}
	}

	if err := handle.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, ErrCodeDatabaseError, "unable to finalise database file").
			WithContext("path", path)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, ErrCodeDatabaseError, "unable to move database file into place").
			WithContext("path", path)
	}

	return nil
}
