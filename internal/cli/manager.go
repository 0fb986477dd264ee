// Package cli provides the command-line interface for strata.
//
// The tool speaks to the live configuration stack through a Client: reads,
// writes, lock listing, change watching, plus the offline compile command
// that builds database files for the system layers.
//
// Architecture:
// - Manager: command routing on top of the Orpheus framework
// - Handlers: individual command implementations
// - Utils: key-file loading and path assembly helpers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package cli

import (
	"github.com/agilira/orpheus/pkg/orpheus"
	"github.com/agilira/strata"
)

// Manager routes strata CLI commands.
type Manager struct {
	app         *orpheus.App
	auditLogger *strata.AuditLogger // Optional audit integration
}

// NewManager creates the CLI manager with the full command tree.
func NewManager() *Manager {
	app := orpheus.New("strata").
		SetDescription("Layered configuration store client").
		SetVersion("1.0.0")

	manager := &Manager{app: app}

	manager.setupReadCommands()
	manager.setupWriteCommands()
	manager.setupWatchCommands()
	manager.setupToolCommands()

	return manager
}

// WithAudit enables audit logging of the CLI's read and write commands.
func (m *Manager) WithAudit(auditLogger *strata.AuditLogger) *Manager {
	m.auditLogger = auditLogger
	return m
}

// Run executes the CLI with the provided arguments.
func (m *Manager) Run(args []string) error {
	return m.app.Run(args)
}

// setupReadCommands configures the read-side commands.
func (m *Manager) setupReadCommands() {
	readCmd := orpheus.NewCommand("read", "Read the value of a key").
		AddFlag("profile", "p", "", "Profile selector").
		AddBoolFlag("default", "d", false, "Read the default value (as after a reset)").
		AddBoolFlag("user", "u", false, "Read the user value, ignoring locks").
		SetHandler(m.handleRead)
	m.app.AddCommand(readCmd)

	listCmd := orpheus.NewCommand("list", "List the contents of a dir").
		AddFlag("profile", "p", "", "Profile selector").
		SetHandler(m.handleList)
	m.app.AddCommand(listCmd)

	locksCmd := orpheus.NewCommand("list-locks", "List the locks under a dir").
		AddFlag("profile", "p", "", "Profile selector").
		SetHandler(m.handleListLocks)
	m.app.AddCommand(locksCmd)

	writableCmd := orpheus.NewCommand("writable", "Check whether a key is writable").
		AddFlag("profile", "p", "", "Profile selector").
		SetHandler(m.handleWritable)
	m.app.AddCommand(writableCmd)

	dumpCmd := orpheus.NewCommand("dump", "Print every key under a dir with its value").
		AddFlag("profile", "p", "", "Profile selector").
		SetHandler(m.handleDump)
	m.app.AddCommand(dumpCmd)
}

// setupWriteCommands configures the write-side commands.
func (m *Manager) setupWriteCommands() {
	writeCmd := orpheus.NewCommand("write", "Write a new value to a key").
		AddFlag("profile", "p", "", "Profile selector").
		SetHandler(m.handleWrite)
	m.app.AddCommand(writeCmd)

	resetCmd := orpheus.NewCommand("reset", "Reset a key or an entire dir").
		AddFlag("profile", "p", "", "Profile selector").
		SetHandler(m.handleReset)
	m.app.AddCommand(resetCmd)

	loadCmd := orpheus.NewCommand("load", "Load a key file into a dir").
		AddFlag("profile", "p", "", "Profile selector").
		SetHandler(m.handleLoad)
	m.app.AddCommand(loadCmd)
}

// setupWatchCommands configures the watch command.
func (m *Manager) setupWatchCommands() {
	watchCmd := orpheus.NewCommand("watch", "Watch a path for changes").
		AddFlag("profile", "p", "", "Profile selector").
		SetHandler(m.handleWatch)
	m.app.AddCommand(watchCmd)
}

// setupToolCommands configures the offline tooling.
func (m *Manager) setupToolCommands() {
	compileCmd := orpheus.NewCommand("compile", "Compile a key file into a database file").
		SetHandler(m.handleCompile)
	m.app.AddCommand(compileCmd)
}
