package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftline-labs/driftline/internal/dq"
	"github.com/driftline-labs/driftline/pkg/core"
)

// GateResult contains statistics about one gate run.
type GateResult struct {
	RunID string
	Layer core.Layer

	Evaluated int
	Promoted  int
	Rejected  int
	Skipped   int

	// RejectedKeys lists the partitions that failed the gate, sorted the
	// way they were listed.
	RejectedKeys []core.PartitionKey

	Duration time.Duration
}

// Summary returns a human-readable one-line summary.
func (r *GateResult) Summary() string {
	return fmt.Sprintf("layer %s: %d evaluated | %d promoted | %d rejected | %d skipped | %s",
		r.Layer, r.Evaluated, r.Promoted, r.Rejected, r.Skipped,
		r.Duration.Round(time.Millisecond))
}

// Gate evaluates the data-quality checks against every NEW or DIRTY
// partition at a layer and drives each one to PROMOTED or REJECTED.
// Bronze is never gated: raw data is always persisted. A run in which
// every evaluated partition was rejected returns core.ErrAllRejected
// after all state has been written; partial rejection is not an error.
func (e *Engine) Gate(ctx context.Context, layer core.Layer) (*GateResult, error) {
	if layer == core.LayerBronze {
		return nil, fmt.Errorf("bronze layer is never gated: raw data is always persisted")
	}

	start := time.Now()
	result := &GateResult{Layer: layer}

	entries, err := e.store.ListByStatus(ctx, layer, core.StatusNew, core.StatusDirty)
	if err != nil {
		return result, err
	}

	run, err := e.store.CreateRun(ctx, "gate", "")
	if err != nil {
		return result, err
	}
	result.RunID = run.ID

	e.logger.Info("starting gate", "layer", layer, "candidates", len(entries))

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, entry := range entries {
		g.Go(func() error {
			// Already decided for this snapshot version; a later
			// snapshot restarts the machine via discovery.
			if dq.Terminal(entry.PromoState) {
				mu.Lock()
				result.Skipped++
				mu.Unlock()
				return nil
			}

			promoted, err := e.evaluateEntry(gctx, entry)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			result.Evaluated++
			if promoted {
				result.Promoted++
			} else {
				result.Rejected++
				result.RejectedKeys = append(result.RejectedKeys, entry.Key)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = e.store.CompleteRun(ctx, run.ID, core.RunStatusFailed, err.Error())
		return result, err
	}

	result.Duration = time.Since(start)
	e.logger.Info("gate completed",
		"layer", layer,
		"evaluated", result.Evaluated,
		"promoted", result.Promoted,
		"rejected", result.Rejected,
		"skipped", result.Skipped,
		"duration_ms", result.Duration.Milliseconds())

	if result.Evaluated > 0 && result.Promoted == 0 {
		_ = e.store.CompleteRun(ctx, run.ID, core.RunStatusFailed, core.ErrAllRejected.Error())
		return result, core.ErrAllRejected
	}

	if err := e.store.CompleteRun(ctx, run.ID, core.RunStatusCompleted, ""); err != nil {
		return result, err
	}
	return result, nil
}

// evaluateEntry runs the checks for one partition, appends the results to
// the audit trail, and persists the promotion decision. It reports
// whether the partition was promoted.
func (e *Engine) evaluateEntry(ctx context.Context, entry core.ManifestEntry) (bool, error) {
	mismatch, err := e.hashMismatchRecorded(ctx, entry)
	if err != nil {
		return false, err
	}

	rep := e.gate.Evaluate(ctx, dq.Input{
		Key:             entry.Key,
		Layer:           entry.Layer,
		SnapshotVersion: entry.SnapshotVersion,
		Records:         entry.RecordCount,
		Bytes:           entry.ByteSize,
		ContentHash:     entry.ContentHash,
		HashMismatch:    mismatch,
	})

	if err := e.store.AppendDQResults(ctx, rep.Results); err != nil {
		return false, err
	}

	if err := dq.Advance(&entry, rep); err != nil {
		return false, err
	}
	if err := e.store.SetPromotion(ctx, &entry); err != nil {
		return false, err
	}

	if !rep.Passed {
		e.logger.Warn("partition rejected",
			"key", entry.Key.String(),
			"layer", entry.Layer,
			"level", rep.Level,
			"failed_checks", rep.FailedChecks())
	}
	return rep.Passed, nil
}

// hashMismatchRecorded reports whether discovery logged a hash_match
// failure for the entry's current snapshot version.
func (e *Engine) hashMismatchRecorded(ctx context.Context, entry core.ManifestEntry) (bool, error) {
	trail, err := e.store.ListDQResults(ctx, entry.Key, entry.Layer)
	if err != nil {
		return false, err
	}
	for _, r := range trail {
		if r.Check == "hash_match" && !r.Passed && r.SnapshotVersion == entry.SnapshotVersion {
			return true, nil
		}
	}
	return false, nil
}
