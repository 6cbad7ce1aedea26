package manifest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/driftline-labs/driftline/pkg/core"
)

// DefaultUpsertAttempts bounds how often a conflicted upsert is retried
// before the conflict is surfaced to the caller.
const DefaultUpsertAttempts = 4

// UpsertRetry performs a read-mutate-write cycle against the store,
// retrying a bounded number of times when a concurrent writer wins the
// race. mutate receives the current entry (nil when absent) and returns
// the desired entry; the store fills in Version from the read. Conflicts
// that outlast the retries propagate as *core.ConflictError.
func UpsertRetry(ctx context.Context, store Store, key core.PartitionKey, layer core.Layer,
	mutate func(current *core.ManifestEntry) (*core.ManifestEntry, error)) (*core.ManifestEntry, error) {

	backoff := retry.WithMaxRetries(DefaultUpsertAttempts-1,
		retry.NewExponential(10*time.Millisecond))

	var result *core.ManifestEntry
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		current, err := store.Lookup(ctx, key, layer)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return err
		}

		next, err := mutate(current)
		if err != nil {
			return err
		}
		if next == nil {
			result = current
			return nil
		}

		next.Key = key
		next.Layer = layer
		if current != nil {
			next.Version = current.Version
		} else {
			next.Version = 0
		}

		if err := store.Upsert(ctx, next); err != nil {
			if core.IsConflict(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert %s@%s: %w", key, layer, err)
	}
	return result, nil
}
