// source.go: Configuration source layers for strata
//
// A source is one layer in the stack: a kind, a writability flag, bus
// coordinates and a (lazily opened) database snapshot. The static attributes
// never change after construction; only the database, its locks and their
// validity change across refreshes.
//
// Each kind supplies a small capability implementation with needsReopen,
// reopen and finalize; the shared Source carries everything else.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"context"
	"log"
	"path/filepath"
)

// SourceKind enumerates the source flavours a profile can name.
type SourceKind int

const (
	// SourceUser is the writable per-user database, invalidated through the
	// shared-memory flag.
	SourceUser SourceKind = iota

	// SourceSystem is a read-only database under the system db dir.
	SourceSystem

	// SourceFile is a read-only database at an absolute path.
	SourceFile

	// SourceService is a database materialised on demand by the writer; the
	// first failed open kicks the writer with an Init request.
	SourceService

	// SourceProxied is a per-application database mediated by the
	// confinement proxy.
	SourceProxied
)

// String returns the profile-line prefix for the kind.
func (k SourceKind) String() string {
	switch k {
	case SourceUser:
		return "user-db"
	case SourceSystem:
		return "system-db"
	case SourceFile:
		return "file-db"
	case SourceService:
		return "service-db"
	case SourceProxied:
		return "proxied-db"
	default:
		return "unknown-db"
	}
}

// sourceOps is the per-kind capability surface.
type sourceOps interface {
	// needsReopen reports whether the current database snapshot is stale.
	needsReopen() bool

	// reopen opens a fresh snapshot, or nil. Errors are handled per-kind;
	// a nil database is a valid steady state.
	reopen() *Database

	// finalize releases kind-specific resources.
	finalize()
}

// Source is one layer of the configuration stack.
type Source struct {
	// Static attributes, set at construction and never changed.
	Name       string
	Kind       SourceKind
	Writable   bool
	Bus        BusType
	BusName    string
	ObjectPath string

	// Mutable under the engine's sources lock.
	values *Database
	locks  *LockTable

	ops sourceOps
}

// newSource wires a source of the given kind. writable is honoured only for
// the kinds that can be writable at all (user, service, proxied); the
// profile layer passes true only for the first source.
func newSource(kind SourceKind, name string, writable bool, dirs *Dirs, transport Transport) *Source {
	source := &Source{Name: name, Kind: kind}

	switch kind {
	case SourceUser:
		source.Writable = writable
		source.Bus = BusSession
		source.BusName = WriterBusName
		source.ObjectPath = "/io/strata/Writer/" + name
		source.ops = &userSource{
			source: source,
			shmDir: dirs.ShmDir,
			dbPath: filepath.Join(dirs.ConfigHomeDir, name+".db"),
		}

	case SourceSystem:
		source.Bus = BusNone
		source.ops = &fileSource{
			source: source,
			path:   filepath.Join(dirs.SystemDBDir, name+".db"),
		}

	case SourceFile:
		source.Bus = BusNone
		source.ops = &fileSource{source: source, path: name}

	case SourceService:
		source.Writable = writable
		source.Bus = BusSession
		source.BusName = WriterBusName
		source.ObjectPath = "/io/strata/Writer/" + name
		source.ops = &serviceSource{
			source:    source,
			path:      filepath.Join(dirs.RuntimeDir, name+".db"),
			iface:     WriterInterface,
			transport: transport,
		}

	case SourceProxied:
		source.Writable = writable
		if writable {
			source.Bus = BusSession
		}
		source.BusName = ProxyBusName
		source.ops = &serviceSource{
			source:    source,
			path:      filepath.Join(dirs.RuntimeDir, "app", name+".db"),
			iface:     ProxyBusName,
			transport: transport,
		}
	}

	return source
}

// NewProxiedSource builds the source used by a confined application: the
// per-app database mediated by the proxy, addressed as <app-id>/<name>.
func NewProxiedSource(appID, name string, writable bool, dirs *Dirs, transport Transport) *Source {
	source := newSource(SourceProxied, appID+"/"+name, writable, dirs, transport)
	source.ObjectPath = "/io/strata/Proxy/" + appID
	return source
}

// Refresh re-opens the database snapshot when the kind reports it stale.
// Returns true iff the open database identity changed. Called with the
// engine's sources lock held.
func (s *Source) Refresh() bool {
	if !s.ops.needsReopen() {
		return false
	}

	old := s.values
	s.values = s.ops.reopen()
	s.locks = s.values.Locks()

	return old != nil || s.values != nil
}

// Values returns the current database snapshot, possibly nil. Only valid
// under the engine's sources lock.
func (s *Source) Values() *Database {
	return s.values
}

// LockedKeys returns the current locks sub-table, possibly nil. Only valid
// under the engine's sources lock.
func (s *Source) LockedKeys() *LockTable {
	return s.locks
}

// Free releases the source's resources.
func (s *Source) Free() {
	s.ops.finalize()
	s.values = nil
	s.locks = nil
}

// userSource reopens when the shared-memory flag fires; it maps a fresh
// flag before opening the table so an invalidation arriving mid-open is
// caught by the next refresh.
type userSource struct {
	source *Source
	shmDir string
	dbPath string
	shm    *ShmFlag
}

func (u *userSource) needsReopen() bool {
	return u.source.values == nil || u.shm.IsFlagged()
}

func (u *userSource) reopen() *Database {
	u.shm.Close()
	u.shm = OpenShmFlag(u.shmDir, u.source.Name)

	db, err := OpenDatabase(u.dbPath)
	if err != nil {
		return nil
	}
	return db
}

func (u *userSource) finalize() {
	u.shm.Close()
}

// fileSource serves the system and file kinds: a read-only database whose
// staleness is detected by file identity. The first failed open logs one
// warning; later failures are silent.
type fileSource struct {
	source *Source
	path   string
	warned bool
}

func (f *fileSource) needsReopen() bool {
	return f.source.values == nil || !f.source.values.IsValid()
}

func (f *fileSource) reopen() *Database {
	db, err := OpenDatabase(f.path)
	if err != nil {
		if !f.warned {
			log.Printf("strata: unable to open %s: %v", f.path, err)
			f.warned = true
		}
		return nil
	}
	return db
}

func (f *fileSource) finalize() {}

// serviceSource serves the service and proxied kinds: like a file source,
// but a failed open kicks the writer with an Init request to materialise the
// backing file, then retries once. Errors are silent; a missing service
// simply leaves the layer empty until the next refresh.
type serviceSource struct {
	source    *Source
	path      string
	iface     string
	transport Transport
}

func (s *serviceSource) needsReopen() bool {
	return s.source.values == nil || !s.source.values.IsValid()
}

func (s *serviceSource) reopen() *Database {
	db, err := OpenDatabase(s.path)
	if err == nil {
		return db
	}

	if !s.source.Writable || s.transport == nil {
		return nil
	}

	_, _ = s.transport.CallSync(context.Background(), s.source.Bus, s.source.BusName,
		s.source.ObjectPath, s.iface, "Init", nil, replyUnit)

	db, err = OpenDatabase(s.path)
	if err != nil {
		return nil
	}
	return db
}

func (s *serviceSource) finalize() {}
