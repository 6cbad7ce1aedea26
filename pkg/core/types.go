// Package core defines the shared domain types for Driftline: partition
// keys, manifest entries, data-quality results, and the error taxonomy.
// It has no dependencies so that every layer of the pipeline can import it.
package core

import (
	"fmt"
	"time"
)

// Layer identifies a stage of the medallion pipeline.
type Layer string

const (
	LayerBronze Layer = "bronze"
	LayerSilver Layer = "silver"
	LayerGold   Layer = "gold"
)

// Grain is the partition granularity of an entity.
type Grain string

const (
	GrainYear  Grain = "year"
	GrainMonth Grain = "month"
)

// Valid reports whether g is a known grain.
func (g Grain) Valid() bool {
	return g == GrainYear || g == GrainMonth
}

// Status is the incremental state of a manifest entry, maintained by the
// discovery engine.
type Status string

const (
	StatusNew     Status = "new"
	StatusDirty   Status = "dirty"
	StatusClean   Status = "clean"
	StatusDeleted Status = "deleted"
)

// PromoState is the per-layer promotion lifecycle of a partition.
type PromoState string

const (
	PromoPending   PromoState = "pending"
	PromoEvaluated PromoState = "evaluated"
	PromoPromoted  PromoState = "promoted"
	PromoRejected  PromoState = "rejected"
)

// Severity is the ordered outcome level of a data-quality check.
// CRITICAL blocks promotion; WARNING and INFO are advisory.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns the ordering of a severity (higher is worse). Unknown
// severities rank above CRITICAL so that malformed input fails closed.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 3
	}
}

// MaxSeverity returns the worse of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// PartitionKey identifies one canonical partition. It is the join key
// across the manifest, the dirty set, and the DQ audit trail, and is
// immutable once created.
type PartitionKey struct {
	Source    string `json:"source"`
	Entity    string `json:"entity"`
	Partition string `json:"partition"`
}

// String renders the key as source/entity/partition.
func (k PartitionKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Source, k.Entity, k.Partition)
}

// ManifestEntry is the last-known state of one partition at one layer.
// Version implements optimistic concurrency: an upsert must carry the
// version the caller read (zero for a new entry) and fails with a
// ConflictError when it is stale.
type ManifestEntry struct {
	Key             PartitionKey
	Layer           Layer
	ContentHash     string
	RecordCount     int64
	ByteSize        int64
	SnapshotVersion string
	Status          Status
	Promoted        bool
	PromoState      PromoState
	DQLevel         Severity
	Version         int64
	FirstSeenAt     time.Time
	LastSeenAt      time.Time
}

// DQResult is one data-quality check outcome for a partition at a layer.
// Results are append-only and form the audit trail behind dq_level.
type DQResult struct {
	Key             PartitionKey
	Layer           Layer
	Check           string
	Severity        Severity
	Passed          bool
	Metric          float64
	SnapshotVersion string
	CreatedAt       time.Time
}

// DirtyPartition is one element of a discovery run's output: a canonical
// partition whose content changed since the last recorded state.
type DirtyPartition struct {
	Key         PartitionKey `json:"key"`
	Status      Status       `json:"status"`
	ContentHash string       `json:"content_hash"`
}

// DirtySet is the ephemeral output of one discovery run, consumed once by
// the next layer's build.
type DirtySet []DirtyPartition

// RoutingRule maps a raw source onto a canonical entity and partition
// granularity. Rules are loaded from configuration and immutable for the
// duration of a run.
type RoutingRule struct {
	// SourcePattern matches raw source identifiers; either an exact id
	// or a glob pattern (path.Match syntax).
	SourcePattern string `yaml:"source"`
	Entity        string `yaml:"entity"`
	Grain         Grain  `yaml:"grain"`
	// RouteID names the rule in manifest lineage; defaults to
	// "<source>-><entity>" when empty.
	RouteID string `yaml:"route_id"`
	// FieldMap optionally renames raw columns to canonical ones; it is
	// carried for the downstream harmonizer and not interpreted here.
	FieldMap map[string]string `yaml:"field_map"`
	Disabled bool              `yaml:"disabled"`
}

// Run records one discovery or gate execution.
type Run struct {
	ID              string
	Kind            string // "discover" | "gate" | "snapshot"
	SnapshotVersion string
	Status          string // "running" | "completed" | "failed"
	StartedAt       time.Time
	CompletedAt     *time.Time
	Error           string
}

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)
