// settings.go: Environment and settings-file support for strata
//
// The engine finds its files through a small set of well-known directories,
// resolved from the XDG environment with compiled-in fallbacks. Deployments
// can override any of them through an optional YAML settings file named by
// STRATA_SETTINGS; precedence is explicit struct values, then the settings
// file, then the XDG environment, then the compiled-in fallbacks.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agilira/go-errors"
	"go.yaml.in/yaml/v3"
)

// Environment variables consulted by strata.
const (
	// EnvProfile selects the profile, like an explicit NewEngine argument.
	EnvProfile = "STRATA_PROFILE"

	// EnvSettingsFile points at an optional YAML settings file.
	EnvSettingsFile = "STRATA_SETTINGS"
)

// Dirs names every directory the engine touches. The zero value is not
// usable; call DefaultDirs (or Settings.WithDefaults) to resolve from the
// environment. Tests override individual fields to point at temp dirs.
type Dirs struct {
	// SysconfProfileDir holds named profiles: <dir>/<selector>.
	SysconfProfileDir string `yaml:"sysconf_profile_dir"`

	// MandatoryProfileDir holds the per-uid mandatory profile: <dir>/<uid>.
	MandatoryProfileDir string `yaml:"mandatory_profile_dir"`

	// RuntimeDir is the per-user runtime root. The runtime profile lives at
	// <dir>/profile, service databases at <dir>/<name>.db and proxied
	// databases at <dir>/app/<app-id>/<name>.db.
	RuntimeDir string `yaml:"runtime_dir"`

	// ShmDir holds the one-byte invalidation flags, one file per database.
	ShmDir string `yaml:"shm_dir"`

	// ConfigHomeDir holds the user databases: <dir>/<name>.db.
	ConfigHomeDir string `yaml:"config_home_dir"`

	// SystemDBDir holds the system databases: <dir>/<name>.db.
	SystemDBDir string `yaml:"system_db_dir"`

	// DataDirs is the profile search fallback, highest priority first.
	DataDirs []string `yaml:"data_dirs"`
}

// Settings bundles everything tunable about an engine besides the profile.
type Settings struct {
	Dirs  Dirs        `yaml:"dirs"`
	Audit AuditConfig `yaml:"audit"`
}

// DefaultDirs resolves the directory set from the XDG environment with
// compiled-in fallbacks.
func DefaultDirs() Dirs {
	runtimeRoot := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeRoot == "" {
		runtimeRoot = filepath.Join(os.TempDir(), fmt.Sprintf("strata-%d", os.Getuid()))
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		configHome = filepath.Join(home, ".config")
	}

	dataDirs := strings.Split(os.Getenv("XDG_DATA_DIRS"), ":")
	cleaned := dataDirs[:0]
	for _, dir := range dataDirs {
		if dir != "" {
			cleaned = append(cleaned, filepath.Join(dir, "strata", "profile"))
		}
	}
	if len(cleaned) == 0 {
		cleaned = []string{
			"/usr/local/share/strata/profile",
			"/usr/share/strata/profile",
		}
	}

	return Dirs{
		SysconfProfileDir:   "/etc/strata/profile",
		MandatoryProfileDir: "/run/strata/user",
		RuntimeDir:          filepath.Join(runtimeRoot, "strata"),
		ShmDir:              filepath.Join(runtimeRoot, "strata", "shm"),
		ConfigHomeDir:       filepath.Join(configHome, "strata"),
		SystemDBDir:         "/etc/strata/db",
		DataDirs:            cleaned,
	}
}

// WithDefaults fills every unset field of the settings: first from the
// STRATA_SETTINGS file (when present), then from the environment defaults.
func (s *Settings) WithDefaults() *Settings {
	settings := *s

	if path := os.Getenv(EnvSettingsFile); path != "" {
		if loaded, err := LoadSettingsFile(path); err == nil {
			settings.mergeUnset(loaded)
		}
	}

	defaults := &Settings{Dirs: DefaultDirs(), Audit: DefaultAuditConfig()}
	settings.mergeUnset(defaults)

	return &settings
}

// mergeUnset copies fields from other into s where s has the zero value.
func (s *Settings) mergeUnset(other *Settings) {
	if s.Dirs.SysconfProfileDir == "" {
		s.Dirs.SysconfProfileDir = other.Dirs.SysconfProfileDir
	}
	if s.Dirs.MandatoryProfileDir == "" {
		s.Dirs.MandatoryProfileDir = other.Dirs.MandatoryProfileDir
	}
	if s.Dirs.RuntimeDir == "" {
		s.Dirs.RuntimeDir = other.Dirs.RuntimeDir
	}
	if s.Dirs.ShmDir == "" {
		s.Dirs.ShmDir = other.Dirs.ShmDir
	}
	if s.Dirs.ConfigHomeDir == "" {
		s.Dirs.ConfigHomeDir = other.Dirs.ConfigHomeDir
	}
	if s.Dirs.SystemDBDir == "" {
		s.Dirs.SystemDBDir = other.Dirs.SystemDBDir
	}
	if len(s.Dirs.DataDirs) == 0 {
		s.Dirs.DataDirs = other.Dirs.DataDirs
	}
	if s.Audit == (AuditConfig{}) {
		s.Audit = other.Audit
	}
}

// LoadSettingsFile parses a YAML settings file.
func LoadSettingsFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- settings path is operator-provided intentionally
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "unable to read settings file").
			WithContext("path", path)
	}

	settings := &Settings{}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "unable to parse settings file").
			WithContext("path", path)
	}

	return settings, nil
}
