// Package engine runs the incremental pipeline stages: discovery scans a
// raw snapshot, routes it onto canonical partitions, and diffs content
// hashes against the manifest; the gate stage evaluates data-quality
// checks and drives the per-partition promotion state machine.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/driftline-labs/driftline/internal/dq"
	"github.com/driftline-labs/driftline/internal/manifest"
	"github.com/driftline-labs/driftline/internal/routing"
	"github.com/driftline-labs/driftline/internal/snapshot"
	"github.com/driftline-labs/driftline/pkg/core"
)

// RecordCounter recomputes the record count of a partition file when no
// sidecar declared one.
type RecordCounter func(ctx context.Context, path string) (int64, error)

// Config assembles an Engine.
type Config struct {
	Store   manifest.Store
	Rules   *routing.RuleSet
	Scanner *snapshot.Scanner
	Logger  *slog.Logger

	// Layer is the layer discovery writes manifest entries at. Defaults
	// to silver: the bronze layer is the raw snapshot itself.
	Layer core.Layer

	// Workers bounds parallel hashing and manifest writes.
	Workers int

	// VerifyHashes recomputes sidecar-declared hashes instead of
	// trusting them. A disagreement is recorded in the DQ trail and the
	// partition is rejected at the gate.
	VerifyHashes bool

	// Counter fills in record counts for partitions without a sidecar.
	// Nil leaves them unknown, which the gate fails closed on.
	Counter RecordCounter

	// Checks overrides the gate's check set; nil means dq.DefaultChecks.
	Checks []dq.Check
}

// Engine runs discovery and gate stages against one manifest store.
type Engine struct {
	store   manifest.Store
	rules   *routing.RuleSet
	scanner *snapshot.Scanner
	gate    *dq.Gate
	logger  *slog.Logger

	layer        core.Layer
	workers      int
	verifyHashes bool
	counter      RecordCounter
}

// New validates the configuration and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: manifest store required")
	}
	if cfg.Rules == nil {
		return nil, fmt.Errorf("engine: routing rules required")
	}
	if cfg.Scanner == nil {
		return nil, fmt.Errorf("engine: snapshot scanner required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Layer == "" {
		cfg.Layer = core.LayerSilver
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	return &Engine{
		store:        cfg.Store,
		rules:        cfg.Rules,
		scanner:      cfg.Scanner,
		gate:         dq.NewGate(cfg.Checks, cfg.Logger),
		logger:       cfg.Logger,
		layer:        cfg.Layer,
		workers:      cfg.Workers,
		verifyHashes: cfg.VerifyHashes,
		counter:      cfg.Counter,
	}, nil
}

// Layer returns the layer this engine writes discovery entries at.
func (e *Engine) Layer() core.Layer { return e.layer }
