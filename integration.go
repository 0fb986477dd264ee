// integration.go: Unified Integration Layer for strata + FlashFlags
//
// Embedding applications usually want the profile, directory overrides and
// audit switches exposed as command-line flags with environment fallbacks.
// ClientManager bundles that: FlashFlags parsing, environment support under
// the upper-cased application name as prefix, the optional YAML settings file, and client construction, in one
// fluent interface.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"fmt"
	"os"
	"strings"
	"time"

	flashflags "github.com/agilira/flash-flags"
)

// ClientManager assembles ClientOptions from flags, environment variables
// and the settings file, then builds the Client.
type ClientManager struct {
	flags   *flashflags.FlagSet
	appName string
}

// NewClientManager creates a manager with the standard strata flag set
// registered under the application's name.
func NewClientManager(appName string) *ClientManager {
	manager := &ClientManager{
		flags:   flashflags.New(appName),
		appName: appName,
	}

	manager.flags.String("profile", "", "Profile selector (absolute path or profile name)")
	manager.flags.String("settings", "", "YAML settings file overriding directories and audit")
	manager.flags.String("shm-dir", "", "Override the shared-memory flag directory")
	manager.flags.String("runtime-dir", "", "Override the runtime directory")
	manager.flags.Bool("async-notify", false, "Deliver change notifications from a dedicated goroutine")
	manager.flags.Bool("audit", true, "Enable the audit trail")
	manager.flags.String("audit-file", "", "Audit output file (.db or .jsonl)")
	manager.flags.Duration("audit-flush-interval", 5*time.Second, "Audit flush interval")

	return manager
}

// SetDescription sets the application description for help text.
func (m *ClientManager) SetDescription(description string) *ClientManager {
	m.flags.SetDescription(description)
	return m
}

// SetVersion sets the application version for help text.
func (m *ClientManager) SetVersion(version string) *ClientManager {
	m.flags.SetVersion(version)
	return m
}

// Parse parses command-line arguments, with environment variables prefixed
// by the upper-cased application name filling in unset flags.
func (m *ClientManager) Parse(args []string) error {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return fmt.Errorf("help requested")
		}
	}

	m.flags.SetEnvPrefix(strings.ToUpper(m.appName))
	if err := m.flags.Parse(args); err != nil {
		return fmt.Errorf("failed to parse command-line flags: %w", err)
	}

	return nil
}

// ParseArgsOrExit parses os.Args[1:] and exits gracefully on help or error.
func (m *ClientManager) ParseArgsOrExit() {
	if err := m.Parse(os.Args[1:]); err != nil {
		if err.Error() == "help requested" {
			m.flags.PrintHelp()
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		m.flags.PrintHelp()
		os.Exit(1)
	}
}

// Options resolves the parsed flags into ClientOptions.
func (m *ClientManager) Options() ClientOptions {
	settings := &Settings{}

	if path := m.flags.GetString("settings"); path != "" {
		if loaded, err := LoadSettingsFile(path); err == nil {
			settings = loaded
		}
	}

	if dir := m.flags.GetString("shm-dir"); dir != "" {
		settings.Dirs.ShmDir = dir
	}
	if dir := m.flags.GetString("runtime-dir"); dir != "" {
		settings.Dirs.RuntimeDir = dir
	}

	settings.Audit.Enabled = m.flags.GetBool("audit")
	if file := m.flags.GetString("audit-file"); file != "" {
		settings.Audit.OutputFile = file
	}
	if interval := m.flags.GetDuration("audit-flush-interval"); interval > 0 {
		settings.Audit.FlushInterval = interval
	}

	return ClientOptions{
		Profile:     m.flags.GetString("profile"),
		Settings:    settings,
		AsyncNotify: m.flags.GetBool("async-notify"),
	}
}

// BuildClient constructs the Client from the parsed configuration.
func (m *ClientManager) BuildClient(onChange func(*ChangeEvent)) (*Client, error) {
	return NewClientWithOptions(m.Options(), onChange)
}
