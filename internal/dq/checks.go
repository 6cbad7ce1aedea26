// Package dq implements the data-quality gate: validation checks with
// ordered severities, the bronze write policy, and the per-partition
// promotion state machine.
package dq

import (
	"errors"

	"github.com/driftline-labs/driftline/pkg/core"
)

// Input carries the per-partition facts the built-in checks evaluate.
// Records is -1 when no sidecar declared a count and none could be
// recomputed.
type Input struct {
	Key             core.PartitionKey
	Layer           core.Layer
	SnapshotVersion string
	Records         int64
	Bytes           int64
	ContentHash     string
	HashMismatch    bool
}

// CheckFunc runs one validation against a partition. It returns the
// observed metric and whether the check passed. A returned error means
// the check could not execute at all; the gate treats that as a CRITICAL
// failure (fail closed, never fail open).
type CheckFunc func(in Input) (metric float64, passed bool, err error)

// Check is one named validation rule with a fixed severity.
type Check struct {
	Name     string
	Severity core.Severity
	Run      CheckFunc
}

var errRecordCountUnknown = errors.New("record count unavailable")

// DefaultChecks returns the built-in partition checks, mirroring the
// bronze acceptance policy plus sidecar integrity validation.
func DefaultChecks() []Check {
	return []Check{
		{
			Name:     "records_present",
			Severity: core.SeverityCritical,
			Run: func(in Input) (float64, bool, error) {
				if in.Records < 0 {
					return 0, false, errRecordCountUnknown
				}
				return float64(in.Records), in.Records > 0, nil
			},
		},
		{
			Name:     "bytes_present",
			Severity: core.SeverityCritical,
			Run: func(in Input) (float64, bool, error) {
				return float64(in.Bytes), in.Bytes > 0, nil
			},
		},
		{
			Name:     "hash_present",
			Severity: core.SeverityCritical,
			Run: func(in Input) (float64, bool, error) {
				if in.ContentHash == "" {
					return 0, false, nil
				}
				return 1, true, nil
			},
		},
		{
			Name:     "hash_match",
			Severity: core.SeverityCritical,
			Run: func(in Input) (float64, bool, error) {
				if in.HashMismatch {
					return 0, false, nil
				}
				return 1, true, nil
			},
		},
		{
			Name:     "snapshot_version_present",
			Severity: core.SeverityWarning,
			Run: func(in Input) (float64, bool, error) {
				if in.SnapshotVersion == "" {
					return 0, false, nil
				}
				return 1, true, nil
			},
		},
	}
}
