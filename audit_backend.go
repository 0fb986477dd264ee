// audit_backend.go: Storage backends for the strata audit trail
//
// The backend interface abstracts the storage mechanism so deployments can
// pick between a queryable unified SQLite database and grep-able JSONL
// files without changing the logger API. Backend selection degrades
// gracefully: SQLite first, JSONL as fallback, so audit logging never
// prevents engine construction.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// auditBackend is the minimal storage contract: batch write, flush, close.
type auditBackend interface {
	// Write persists a batch of audit events. Safe for concurrent use.
	Write(events []AuditEvent) error

	// Flush commits pending writes. AuditLogger does not call it: its
	// periodic and shutdown flushes go through Write, then Close.
	Flush() error

	// Close releases resources. The backend must not be used afterwards.
	Close() error
}

// createAuditBackend selects the backend for the configuration: JSONL when
// the output file asks for it by extension, otherwise SQLite with JSONL as
// the fallback when SQLite cannot initialise.
func createAuditBackend(config AuditConfig) (auditBackend, error) {
	if config.OutputFile != "" && filepath.Ext(config.OutputFile) == ".jsonl" {
		return newJSONLBackend(config)
	}

	backend, err := newSQLiteBackend(config)
	if err == nil {
		return backend, nil
	}

	jsonlBackend, jsonlErr := newJSONLBackend(config)
	if jsonlErr != nil {
		return nil, fmt.Errorf("all audit backends failed - SQLite: %w, JSONL: %v", err, jsonlErr)
	}

	return jsonlBackend, nil
}

// getUnifiedAuditPath returns the standard path of the unified SQLite audit
// database, consolidating every strata process on the machine.
func getUnifiedAuditPath() string {
	return filepath.Join(os.TempDir(), "strata", "system-audit.db")
}

// sqliteAuditBackend stores audit events in a single SQLite database.
type sqliteAuditBackend struct {
	db         *sql.DB
	insertStmt *sql.Stmt
	mu         sync.Mutex
	closed     bool
}

// newSQLiteBackend opens (or creates) the audit database and prepares the
// batch insert. WAL mode keeps writers from blocking the occasional reader.
func newSQLiteBackend(config AuditConfig) (*sqliteAuditBackend, error) {
	dbPath := getUnifiedAuditPath()
	if config.OutputFile != "" && filepath.Ext(config.OutputFile) == ".db" {
		dbPath = config.OutputFile
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create audit database directory: %w", err)
	}

	db, err := sql.Open("sqlite3",
		fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			level TEXT NOT NULL,
			event TEXT NOT NULL,
			component TEXT NOT NULL,
			prefix TEXT,
			paths TEXT,
			process_id INTEGER NOT NULL,
			process_name TEXT NOT NULL,
			checksum TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events (timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_events (event);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	insertStmt, err := db.Prepare(`
		INSERT INTO audit_events
			(timestamp, level, event, component, prefix, paths, process_id, process_name, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare audit insert: %w", err)
	}

	return &sqliteAuditBackend{db: db, insertStmt: insertStmt}, nil
}

// Write persists a batch of events inside one transaction.
func (s *sqliteAuditBackend) Write(events []AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("audit backend is closed")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}

	stmt := tx.Stmt(s.insertStmt)
	for _, event := range events {
		paths, _ := json.Marshal(event.Paths)
		if _, err := stmt.Exec(
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z"),
			event.Level.String(),
			event.Event,
			event.Component,
			event.Prefix,
			string(paths),
			event.ProcessID,
			event.ProcessName,
			event.Checksum,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit transaction: %w", err)
	}
	return nil
}

// Flush is a no-op: every Write commits its own transaction.
func (s *sqliteAuditBackend) Flush() error {
	return nil
}

// Close releases the prepared statement and the database handle.
func (s *sqliteAuditBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.insertStmt != nil {
		_ = s.insertStmt.Close()
	}
	return s.db.Close()
}

// jsonlAuditBackend appends one JSON document per line to a log file.
type jsonlAuditBackend struct {
	file *os.File
	mu   sync.Mutex
}

func newJSONLBackend(config AuditConfig) (*jsonlAuditBackend, error) {
	path := config.OutputFile
	if path == "" {
		path = filepath.Join(os.TempDir(), "strata", "audit.jsonl")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) // #nosec G304 -- operator-configured audit path
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	return &jsonlAuditBackend{file: file}, nil
}

// Write appends the batch, one line per event.
func (j *jsonlAuditBackend) Write(events []AuditEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, event := range events {
		line, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to encode audit event: %w", err)
		}
		line = append(line, '\n')
		if _, err := j.file.Write(line); err != nil {
			return fmt.Errorf("failed to append audit event: %w", err)
		}
	}
	return nil
}

// Flush syncs the file to stable storage.
func (j *jsonlAuditBackend) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Sync()
}

// Close flushes and closes the log file.
func (j *jsonlAuditBackend) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.file.Sync(); err != nil {
		_ = j.file.Close()
		return err
	}
	return j.file.Close()
}
