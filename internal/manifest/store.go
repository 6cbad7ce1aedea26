// Package manifest provides the durable partition manifest: the single
// source of truth for incremental state across discovery runs, backed by
// SQLite with conflict-checked writes.
package manifest

import (
	"context"
	"time"

	"github.com/driftline-labs/driftline/pkg/core"
)

// Store is the manifest registry contract. Implementations must be
// durable across process restarts and keep a single current entry per
// (PartitionKey, layer). Writes are conflict-checked: an upsert carries
// the version its caller read and fails with *core.ConflictError when
// that version is stale, so concurrent writers never silently lose an
// update.
type Store interface {
	// Lookup returns the current entry or core.ErrNotFound.
	Lookup(ctx context.Context, key core.PartitionKey, layer core.Layer) (*core.ManifestEntry, error)

	// Upsert inserts (entry.Version == 0) or updates (entry.Version ==
	// the version read) an entry, bumping entry.Version on success.
	// Re-writing identical observable state only refreshes
	// last_seen_at.
	Upsert(ctx context.Context, entry *core.ManifestEntry) error

	// Touch refreshes last_seen_at without any other state change.
	Touch(ctx context.Context, key core.PartitionKey, layer core.Layer, at time.Time) error

	// ListByStatus returns entries at a layer in any of the given
	// statuses, ordered by key.
	ListByStatus(ctx context.Context, layer core.Layer, statuses ...core.Status) ([]core.ManifestEntry, error)

	// ListByLayer returns all entries at a layer, ordered by key.
	ListByLayer(ctx context.Context, layer core.Layer) ([]core.ManifestEntry, error)

	// SetPromotion writes the promotion fields (promo_state, promoted,
	// dq_level) of an entry, conflict-checked on entry.Version.
	SetPromotion(ctx context.Context, entry *core.ManifestEntry) error

	// AppendDQResults appends check outcomes to the audit trail.
	// Results are never mutated after creation.
	AppendDQResults(ctx context.Context, results []core.DQResult) error

	// ListDQResults returns the audit trail for one partition at one
	// layer, newest first.
	ListDQResults(ctx context.Context, key core.PartitionKey, layer core.Layer) ([]core.DQResult, error)

	// CreateRun opens a run record; CompleteRun closes it.
	CreateRun(ctx context.Context, kind, snapshotVersion string) (*core.Run, error)
	CompleteRun(ctx context.Context, id, status, errMsg string) error

	Close() error
}
