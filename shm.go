// shm.go: Shared-memory invalidation flags for strata databases
//
// For a database name N there is a one-byte file <shm dir>/N. The engine
// maps it read-only and checks the byte on every refresh; the writer service
// (and the compile tooling) sets the byte to 0xff when the backing database
// file has been replaced. Flagging is idempotent and a mapping never moves.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"log"
	"os"
	"path/filepath"

	"github.com/agilira/go-errors"
	"golang.org/x/sys/unix"
)

// ShmFlag is a read-only shared mapping of a one-byte invalidation flag
// file. A nil or unmapped flag behaves as permanently flagged, so the owner
// will reopen its database on every refresh.
type ShmFlag struct {
	mapping []byte
}

// OpenShmFlag creates (if needed) and maps the flag file for the named
// database under dir. The byte is initialised to zero at creation.
//
// Failures here mean the process cannot distinguish invalidation from
// corruption: they are logged and the returned flag reads as permanently
// flagged.
func OpenShmFlag(dir, name string) *ShmFlag {
	flag := &ShmFlag{}

	if err := os.MkdirAll(dir, 0700); err != nil {
		log.Printf("strata: unable to create shm directory %s: %v", dir, err)
		return flag
	}

	path := filepath.Join(dir, name)
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 -- path is derived from the configured shm dir
	if err != nil {
		log.Printf("strata: unable to create shm file %s: %v", path, err)
		return flag
	}
	defer func() { _ = fd.Close() }()

	// Size the file to exactly one byte. An existing flag file keeps its
	// contents; truncating a fresh file initialises the byte to zero.
	if err := fd.Truncate(1); err != nil {
		log.Printf("strata: unable to size shm file %s: %v", path, err)
		return flag
	}

	mapping, err := unix.Mmap(int(fd.Fd()), 0, 1, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		log.Printf("strata: unable to map shm file %s: %v", path, err)
		return flag
	}

	flag.mapping = mapping
	return flag
}

// IsFlagged reads the invalidation byte from the mapping. An unmapped flag
// always reads as flagged.
func (f *ShmFlag) IsFlagged() bool {
	if f == nil || f.mapping == nil {
		return true
	}
	return f.mapping[0] != 0
}

// Close unmaps the flag file. Safe on a nil or unmapped flag.
func (f *ShmFlag) Close() {
	if f == nil || f.mapping == nil {
		return
	}
	_ = unix.Munmap(f.mapping)
	f.mapping = nil
}

// FlagShm sets the invalidation byte for the named database, notifying every
// process holding a mapping that the backing file was replaced. Idempotent.
// Used by the writer side (the service and the compile tooling).
func FlagShm(dir, name string) error {
	path := filepath.Join(dir, name)
	fd, err := os.OpenFile(path, os.O_WRONLY, 0600) // #nosec G304 -- path is derived from the configured shm dir
	if err != nil {
		if os.IsNotExist(err) {
			// No flag file means no reader holds a mapping; nothing to do.
			return nil
		}
		return errors.Wrap(err, ErrCodeShmError, "unable to open shm file for flagging").
			WithContext("path", path)
	}
	defer func() { _ = fd.Close() }()

	if _, err := unix.Pwrite(int(fd.Fd()), []byte{0xff}, 0); err != nil {
		return errors.Wrap(err, ErrCodeShmError, "unable to write shm invalidation byte").
			WithContext("path", path)
	}

	// Unlink the flagged file: live mappings keep reading 0xff, while the
	// next OpenShmFlag creates a fresh zeroed file for the reopened
	// database.
	_ = os.Remove(path)

	return nil
}
