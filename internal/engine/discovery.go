package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftline-labs/driftline/internal/hash"
	"github.com/driftline-labs/driftline/internal/manifest"
	"github.com/driftline-labs/driftline/internal/snapshot"
	"github.com/driftline-labs/driftline/pkg/core"
)

// ErrStaleSnapshot is returned when discovery is asked to diff a snapshot
// older than one the manifest has already observed at this layer.
var ErrStaleSnapshot = errors.New("snapshot version older than manifest")

// DiscoverResult contains statistics about one discovery run.
type DiscoverResult struct {
	RunID           string
	SnapshotVersion string

	// Dirty holds every NEW or DIRTY canonical partition, sorted by key.
	Dirty core.DirtySet

	New     int
	Changed int
	Clean   int
	Deleted int

	// ScanErrors are non-fatal per-file problems (unparseable names,
	// unreadable sidecars). The affected files were not processed.
	ScanErrors []snapshot.ScanError

	// Mismatches lists raw files whose sidecar-declared hash disagreed
	// with the recomputed one. Their partitions stay in the dirty set
	// but will be rejected at the gate.
	Mismatches []string

	Duration time.Duration
}

// Summary returns a human-readable one-line summary.
func (r *DiscoverResult) Summary() string {
	return fmt.Sprintf(
		"snapshot %s: %d dirty (%d new, %d changed) | %d clean | %d deleted | "+
			"%d scan errors | %s",
		r.SnapshotVersion, len(r.Dirty), r.New, r.Changed, r.Clean, r.Deleted,
		len(r.ScanErrors), r.Duration.Round(time.Millisecond),
	)
}

// hashedPartition is a raw partition with its content hash settled:
// either trusted from the sidecar or recomputed.
type hashedPartition struct {
	snapshot.RawPartition
	mismatch bool
}

// keyState accumulates all raw contributions to one canonical key.
type keyState struct {
	hashes         []string
	records        int64
	bytes          int64
	unknownRecords bool
	mismatch       bool
}

// recordCount is the summed contributor count, or -1 when any
// contributor's count is unknown.
func (s *keyState) recordCount() int64 {
	if s.unknownRecords {
		return -1
	}
	return s.records
}

// contentHash folds the contributions into the canonical content hash.
// A single contributor keeps its hash; collapse combines all of them, so
// any contributor change dirties the key.
func (s *keyState) contentHash() string {
	if len(s.hashes) == 1 {
		return s.hashes[0]
	}
	return hash.Combine(s.hashes)
}

// Discover scans the raw snapshot for version, routes every partition
// onto canonical keys, and diffs content hashes against the manifest.
// It returns the dirty set of NEW and DIRTY partitions. Routing failures
// abort the run before any manifest entry is written. Re-running against
// an unchanged snapshot is a no-op apart from freshness timestamps. A
// snapshot older than the manifest's latest is refused with
// ErrStaleSnapshot.
func (e *Engine) Discover(ctx context.Context, version string) (*DiscoverResult, error) {
	start := time.Now()
	result := &DiscoverResult{SnapshotVersion: version}

	e.logger.Info("starting discovery", "snapshot_version", version, "layer", e.layer)

	// 1. Enumerate raw partitions.
	parts, scanErrs, err := e.scanner.Scan(ctx, version)
	if err != nil {
		return result, err
	}
	result.ScanErrors = scanErrs
	for _, se := range scanErrs {
		e.logger.Warn("snapshot scan problem", "path", se.Path, "error", se.Message)
	}

	// 2. Settle content hashes and record counts, in parallel.
	hashed, err := e.hashPartitions(ctx, parts)
	if err != nil {
		return result, err
	}
	for _, hp := range hashed {
		if hp.mismatch {
			result.Mismatches = append(result.Mismatches, hp.Path)
		}
	}

	// 3. Route everything before touching the manifest: an unroutable
	// source is a configuration error, never a partial run.
	states, err := e.routeAll(hashed)
	if err != nil {
		return result, err
	}

	// 4. Backfill guard: diffing an older snapshot against a manifest
	// that has moved past it would flag live keys deleted and regress
	// their hashes.
	if err := e.guardSnapshotOrder(ctx, version); err != nil {
		return result, err
	}

	run, err := e.store.CreateRun(ctx, "discover", version)
	if err != nil {
		return result, err
	}
	result.RunID = run.ID

	// 5. Diff each canonical key against the manifest.
	if err := e.diffKeys(ctx, version, states, result); err != nil {
		_ = e.store.CompleteRun(ctx, run.ID, core.RunStatusFailed, err.Error())
		return result, err
	}

	// 6. Mark registered keys that vanished from this snapshot.
	if err := e.markDeleted(ctx, states, result); err != nil {
		_ = e.store.CompleteRun(ctx, run.ID, core.RunStatusFailed, err.Error())
		return result, err
	}

	sort.Slice(result.Dirty, func(i, j int) bool {
		return result.Dirty[i].Key.String() < result.Dirty[j].Key.String()
	})

	if err := e.store.CompleteRun(ctx, run.ID, core.RunStatusCompleted, ""); err != nil {
		return result, err
	}

	result.Duration = time.Since(start)
	e.logger.Info("discovery completed",
		"snapshot_version", version,
		"dirty", len(result.Dirty),
		"new", result.New,
		"changed", result.Changed,
		"clean", result.Clean,
		"deleted", result.Deleted,
		"duration_ms", result.Duration.Milliseconds())

	return result, nil
}

// hashPartitions fills in the content hash of every raw partition:
// trusted from the sidecar when present, recomputed otherwise. With
// VerifyHashes the sidecar hash is recomputed and a disagreement flags
// the partition. Missing record counts are recomputed when a counter is
// configured.
func (e *Engine) hashPartitions(ctx context.Context, parts []snapshot.RawPartition) ([]hashedPartition, error) {
	hashed := make([]hashedPartition, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, p := range parts {
		g.Go(func() error {
			hp := hashedPartition{RawPartition: p}

			if p.Hash == "" || e.verifyHashes {
				computed, err := hash.File(p.Path)
				if err != nil {
					return err
				}
				if p.Hash != "" && p.Hash != computed {
					hmErr := &core.HashMismatchError{
						Path: p.Path, Declared: p.Hash, Computed: computed,
					}
					e.logger.Error("sidecar hash mismatch", "error", hmErr)
					hp.mismatch = true
				}
				hp.Hash = computed
			}

			if hp.Records < 0 && e.counter != nil {
				n, err := e.counter(gctx, p.Path)
				if err != nil {
					e.logger.Warn("record count unavailable", "path", p.Path, "error", err)
				} else {
					hp.Records = n
				}
			}

			hashed[i] = hp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return hashed, nil
}

// routeAll resolves every raw partition onto canonical keys and
// accumulates per-key contributions. Fan-out slices derive their hash
// from the parent content scoped to the sub-key; fan-in keys later
// combine all contributor hashes.
func (e *Engine) routeAll(hashed []hashedPartition) (map[core.PartitionKey]*keyState, error) {
	states := make(map[core.PartitionKey]*keyState)

	for _, hp := range hashed {
		targets, err := e.rules.Resolve(hp.Source, hp.Coverage)
		if err != nil {
			return nil, err
		}

		for _, t := range targets {
			fanOut := len(t.Partitions) > 1
			for _, key := range t.Keys(hp.Source) {
				contribHash := hp.Hash
				if fanOut {
					contribHash = hash.Slice(hp.Hash, key.Partition)
				}

				st := states[key]
				if st == nil {
					st = &keyState{}
					states[key] = st
				}
				st.hashes = append(st.hashes, contribHash)
				// Counts describe the covering raw content; a fan-out
				// slice carries its parent's totals.
				if hp.Records < 0 {
					st.unknownRecords = true
				} else {
					st.records += hp.Records
				}
				st.bytes += hp.Bytes
				st.mismatch = st.mismatch || hp.mismatch
			}
		}
	}
	return states, nil
}

// diffKeys upserts every contributed key and classifies it NEW, DIRTY or
// CLEAN. Writes to distinct keys run in parallel; each key is written
// exactly once per run.
func (e *Engine) diffKeys(ctx context.Context, version string, states map[core.PartitionKey]*keyState, result *DiscoverResult) error {
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for key, st := range states {
		g.Go(func() error {
			contentHash := st.contentHash()

			entry, err := manifest.UpsertRetry(gctx, e.store, key, e.layer,
				func(current *core.ManifestEntry) (*core.ManifestEntry, error) {
					switch {
					case current == nil:
						return &core.ManifestEntry{
							Key:             key,
							Layer:           e.layer,
							ContentHash:     contentHash,
							RecordCount:     st.recordCount(),
							ByteSize:        st.bytes,
							SnapshotVersion: version,
							Status:          core.StatusNew,
							PromoState:      core.PromoPending,
							DQLevel:         core.SeverityInfo,
						}, nil

					case current.Status == core.StatusDeleted ||
						current.ContentHash != contentHash:
						// A reappeared key is dirty even with unchanged
						// content: downstream may have retired it while
						// it was deleted.
						next := *current
						next.ContentHash = contentHash
						next.RecordCount = st.recordCount()
						next.ByteSize = st.bytes
						next.SnapshotVersion = version
						next.Status = core.StatusDirty
						// A content change restarts the promotion
						// machine for this key.
						next.PromoState = core.PromoPending
						next.Promoted = false
						next.DQLevel = core.SeverityInfo
						return &next, nil

					default:
						next := *current
						next.Status = core.StatusClean
						return &next, nil
					}
				})
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			switch entry.Status {
			case core.StatusNew:
				result.New++
				result.Dirty = append(result.Dirty, core.DirtyPartition{
					Key: key, Status: entry.Status, ContentHash: contentHash,
				})
			case core.StatusDirty:
				result.Changed++
				result.Dirty = append(result.Dirty, core.DirtyPartition{
					Key: key, Status: entry.Status, ContentHash: contentHash,
				})
			default:
				result.Clean++
			}

			if st.mismatch {
				return e.store.AppendDQResults(gctx, []core.DQResult{{
					Key:             key,
					Layer:           e.layer,
					Check:           "hash_match",
					Severity:        core.SeverityCritical,
					Passed:          false,
					SnapshotVersion: version,
				}})
			}
			return nil
		})
	}
	return g.Wait()
}

// guardSnapshotOrder refuses out-of-order discovery. Snapshot versions
// are ISO dates, so string comparison is chronological.
func (e *Engine) guardSnapshotOrder(ctx context.Context, version string) error {
	entries, err := e.store.ListByLayer(ctx, e.layer)
	if err != nil {
		return err
	}

	latest := ""
	for _, entry := range entries {
		if entry.SnapshotVersion > latest {
			latest = entry.SnapshotVersion
		}
	}
	if latest != "" && version < latest {
		return fmt.Errorf("%w: %s precedes %s", ErrStaleSnapshot, version, latest)
	}
	return nil
}

// markDeleted flags every registered key absent from this snapshot.
// Deleted keys keep their last-known state for lineage and never join
// the dirty set.
func (e *Engine) markDeleted(ctx context.Context, states map[core.PartitionKey]*keyState, result *DiscoverResult) error {
	entries, err := e.store.ListByLayer(ctx, e.layer)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if _, seen := states[entry.Key]; seen {
			continue
		}
		if entry.Status == core.StatusDeleted {
			continue
		}

		_, err := manifest.UpsertRetry(ctx, e.store, entry.Key, e.layer,
			func(current *core.ManifestEntry) (*core.ManifestEntry, error) {
				if current == nil || current.Status == core.StatusDeleted {
					return nil, nil
				}
				next := *current
				next.Status = core.StatusDeleted
				return &next, nil
			})
		if err != nil {
			return err
		}
		result.Deleted++
		e.logger.Info("partition vanished from snapshot",
			"key", entry.Key.String(), "layer", e.layer)
	}
	return nil
}
