// Package strata provides the client-side engine for a layered key/value
// configuration store.
//
// # Philosophy
//
// Applications read typed configuration values at hierarchical paths,
// subscribe to change notifications, and write or reset values. Reads consult
// a user-writable database stacked over zero or more read-only system
// databases, with lock entries that can pin a key to a non-writable layer.
// Writes travel to a remote writer service over a message bus; the engine
// offers both synchronous writes and an optimistic "fast" mode that returns
// immediately after recording an in-memory shadow of the change and later
// reconciles with the authoritative reply.
//
// # Architecture Overview
//
// Strata consists of six integrated subsystems:
//  1. **Engine**: layered read with lock semantics, write queue, subscriptions
//  2. **Sources**: one layer per profile line (user/system/file/service/proxied)
//  3. **Changesets**: ordered path->value|reset maps with a canonical wire form
//  4. **Transport Facade**: sync/async bus calls and signal dispatch, pluggable for tests
//  5. **Shared-Memory Invalidation**: one-byte mmap flags for user databases
//  6. **Audit Trail**: buffered security/compliance logging with SQLite/JSONL backends
//
// The engine owns no thread and schedules no timers: calls enter on caller
// threads, reply callbacks and signal deliveries arrive on whichever thread
// the transport chooses. Every operation is safe to invoke concurrently.
//
// Example Usage:
//
//	client, err := strata.NewClient("", nil)
//	if err != nil {
//		// handle profile problems
//	}
//	defer client.Close()
//
//	value := client.Read("/apps/editor/font-size")
//	client.WriteFast("/apps/editor/font-size", strata.Int32Value(11), nil)
//	client.Sync()
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package strata

// Error codes for strata operations
const (
	ErrCodeInvalidPath     = "STRATA_INVALID_PATH"
	ErrCodeNotWritable     = "STRATA_NOT_WRITABLE"
	ErrCodeTransportFailed = "STRATA_TRANSPORT_FAILED"
	ErrCodeSealed          = "STRATA_SEALED"
	ErrCodeCancelled       = "STRATA_CANCELLED"
	ErrCodeInvalidConfig   = "STRATA_INVALID_CONFIG"
	ErrCodeInvalidValue    = "STRATA_INVALID_VALUE"
	ErrCodeDatabaseError   = "STRATA_DATABASE_ERROR"
	ErrCodeShmError        = "STRATA_SHM_ERROR"
	ErrCodeAuditError      = "STRATA_AUDIT_ERROR"
)
