// Package config loads pipeline configuration from file, environment
// variables, and CLI flags, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
)

// ErrInvalid marks configuration a run cannot proceed with. Callers map
// it to the same exit code as routing errors.
var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved pipeline configuration.
type Config struct {
	// ProjectRoot anchors relative paths. Set during loading, never from
	// the config file itself.
	ProjectRoot string `koanf:"-"`

	// SnapshotRoot is the directory holding raw snapshots, laid out as
	// <root>/date=<version>/source=<id>/.
	SnapshotRoot string `koanf:"snapshot_root"`

	// RulesPath points at the routing rule file.
	RulesPath string `koanf:"rules_path"`

	// ManifestPath is the SQLite manifest database, or ":memory:".
	ManifestPath string `koanf:"manifest_path"`

	// Workers bounds parallel hashing and manifest writes.
	Workers int `koanf:"workers"`

	// VerifyHashes recomputes sidecar-declared content hashes.
	VerifyHashes bool `koanf:"verify_hashes"`

	// CountRecords opens partition files to recount records when no
	// sidecar declared a count.
	CountRecords bool `koanf:"count_records"`

	Verbose bool   `koanf:"verbose"`
	Output  string `koanf:"output"` // "text" | "json"
}

// Validate checks the configuration for values no run can proceed with.
func (c *Config) Validate() error {
	if c.SnapshotRoot == "" {
		return fmt.Errorf("%w: snapshot_root is required", ErrInvalid)
	}
	if c.RulesPath == "" {
		return fmt.Errorf("%w: rules_path is required", ErrInvalid)
	}
	if _, err := os.Stat(c.RulesPath); err != nil {
		return fmt.Errorf("%w: rules_path: %v", ErrInvalid, err)
	}
	if c.ManifestPath == "" {
		return fmt.Errorf("%w: manifest_path is required", ErrInvalid)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalid, c.Workers)
	}
	if c.Output != "text" && c.Output != "json" {
		return fmt.Errorf("%w: output must be text or json, got %q", ErrInvalid, c.Output)
	}
	return nil
}
