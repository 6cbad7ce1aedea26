package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline-labs/driftline/internal/hash"
	"github.com/driftline-labs/driftline/internal/manifest"
	"github.com/driftline-labs/driftline/internal/routing"
	"github.com/driftline-labs/driftline/internal/snapshot"
	"github.com/driftline-labs/driftline/pkg/core"
)

// writeRaw drops one raw partition file (plus sidecar) into the snapshot
// layout the scanner expects.
func writeRaw(t *testing.T, root, version, source, stem, content string, sidecar bool) {
	t.Helper()
	dir := filepath.Join(root, "date="+version, "source="+source)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, stem+".parquet")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	if sidecar {
		sc := &snapshot.Sidecar{
			SnapshotVersion: version,
			Source:          source,
			File:            stem + ".parquet",
			Records:         int64(len(content)),
			Bytes:           int64(len(content)),
			Hash:            hash.Bytes([]byte(content)),
			DQPassed:        true,
			DQLevel:         string(core.SeverityInfo),
			CreatedAt:       time.Now().UTC(),
		}
		require.NoError(t, snapshot.WriteSidecar(snapshot.SidecarPath(path), sc))
	}
}

func yearRules(t *testing.T) *routing.RuleSet {
	t.Helper()
	rules, err := routing.New([]core.RoutingRule{
		{SourcePattern: "census-*", Entity: "population", Grain: core.GrainYear},
	})
	require.NoError(t, err)
	return rules
}

func newTestEngine(t *testing.T, root string, rules *routing.RuleSet, mutate ...func(*Config)) (*Engine, manifest.Store) {
	t.Helper()
	store := manifest.NewSQLiteStore(nil)
	require.NoError(t, store.Open(":memory:"))
	t.Cleanup(func() { _ = store.Close() })

	cfg := Config{
		Store:   store,
		Rules:   rules,
		Scanner: snapshot.NewScanner(root, nil),
		Workers: 2,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	eng, err := New(cfg)
	require.NoError(t, err)
	return eng, store
}

func dirtyPartitions(set core.DirtySet) []string {
	var out []string
	for _, d := range set {
		out = append(out, d.Key.Partition)
	}
	return out
}

func TestDiscoverFirstRunAllNew(t *testing.T) {
	root := t.TempDir()
	writeRaw(t, root, "2026-08-01", "census-a", "2020", "population 2020", true)
	writeRaw(t, root, "2026-08-01", "census-a", "2021", "population 2021", true)

	eng, store := newTestEngine(t, root, yearRules(t))
	res, err := eng.Discover(context.Background(), "2026-08-01")
	require.NoError(t, err)

	assert.Equal(t, 2, res.New)
	assert.Equal(t, 0, res.Changed)
	assert.Equal(t, []string{"2020", "2021"}, dirtyPartitions(res.Dirty))
	assert.NotEmpty(t, res.RunID)

	entry, err := store.Lookup(context.Background(),
		core.PartitionKey{Source: "census-a", Entity: "population", Partition: "2020"},
		core.LayerSilver)
	require.NoError(t, err)
	assert.Equal(t, core.StatusNew, entry.Status)
	assert.Equal(t, core.PromoPending, entry.PromoState)
	assert.Equal(t, hash.Bytes([]byte("population 2020")), entry.ContentHash)
	assert.Equal(t, "2026-08-01", entry.SnapshotVersion)
}

func TestDiscoverIdempotent(t *testing.T) {
	root := t.TempDir()
	writeRaw(t, root, "2026-08-01", "census-a", "2020", "population 2020", true)
	writeRaw(t, root, "2026-08-01", "census-a", "2021", "population 2021", true)

	eng, store := newTestEngine(t, root, yearRules(t))
	ctx := context.Background()

	first, err := eng.Discover(ctx, "2026-08-01")
	require.NoError(t, err)
	require.Len(t, first.Dirty, 2)

	// Second run over the same snapshot: empty dirty set, everything
	// clean, stored state unchanged except freshness.
	second, err := eng.Discover(ctx, "2026-08-01")
	require.NoError(t, err)
	assert.Empty(t, second.Dirty)
	assert.Equal(t, 2, second.Clean)

	third, err := eng.Discover(ctx, "2026-08-01")
	require.NoError(t, err)
	assert.Empty(t, third.Dirty)

	entries, err := store.ListByLayer(ctx, core.LayerSilver)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, core.StatusClean, e.Status)
		// First run bumped new->clean once; re-runs only touch.
		assert.Equal(t, int64(2), e.Version)
	}
}

func TestDiscoverDiffCorrectness(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	writeRaw(t, root, "2026-08-01", "census-a", "2020", "population 2020", true)
	writeRaw(t, root, "2026-08-01", "census-a", "2021", "population 2021", true)

	eng, store := newTestEngine(t, root, yearRules(t))
	_, err := eng.Discover(ctx, "2026-08-01")
	require.NoError(t, err)

	// Next snapshot adds 2022 and changes the content of 2021.
	writeRaw(t, root, "2026-08-15", "census-a", "2020", "population 2020", true)
	writeRaw(t, root, "2026-08-15", "census-a", "2021", "population 2021 restated", true)
	writeRaw(t, root, "2026-08-15", "census-a", "2022", "population 2022", true)

	res, err := eng.Discover(ctx, "2026-08-15")
	require.NoError(t, err)

	assert.Equal(t, []string{"2021", "2022"}, dirtyPartitions(res.Dirty))
	assert.Equal(t, 1, res.New)
	assert.Equal(t, 1, res.Changed)
	assert.Equal(t, 1, res.Clean)

	clean, err := store.Lookup(ctx,
		core.PartitionKey{Source: "census-a", Entity: "population", Partition: "2020"},
		core.LayerSilver)
	require.NoError(t, err)
	assert.Equal(t, core.StatusClean, clean.Status)
	assert.Equal(t, "2026-08-01", clean.SnapshotVersion)

	changed, err := store.Lookup(ctx,
		core.PartitionKey{Source: "census-a", Entity: "population", Partition: "2021"},
		core.LayerSilver)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDirty, changed.Status)
	assert.Equal(t, "2026-08-15", changed.SnapshotVersion)
	assert.Equal(t, core.PromoPending, changed.PromoState)
}

func TestDiscoverDeletionDetection(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	writeRaw(t, root, "2026-08-01", "census-a", "2020", "population 2020", true)
	writeRaw(t, root, "2026-08-01", "census-a", "2021", "population 2021", true)

	eng, store := newTestEngine(t, root, yearRules(t))
	_, err := eng.Discover(ctx, "2026-08-01")
	require.NoError(t, err)

	// 2021 vanished from the next snapshot.
	writeRaw(t, root, "2026-08-15", "census-a", "2020", "population 2020", true)

	res, err := eng.Discover(ctx, "2026-08-15")
	require.NoError(t, err)
	assert.Empty(t, res.Dirty)
	assert.Equal(t, 1, res.Deleted)

	gone, err := store.Lookup(ctx,
		core.PartitionKey{Source: "census-a", Entity: "population", Partition: "2021"},
		core.LayerSilver)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDeleted, gone.Status)
	// Lineage preserved: last-known content stays on the entry.
	assert.Equal(t, hash.Bytes([]byte("population 2021")), gone.ContentHash)

	// A deleted key stays deleted on re-run without re-counting.
	res2, err := eng.Discover(ctx, "2026-08-15")
	require.NoError(t, err)
	assert.Equal(t, 0, res2.Deleted)
}

func TestDiscoverDeletedPartitionReappearsAsDirty(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	writeRaw(t, root, "2026-08-01", "census-a", "2020", "population 2020", true)
	writeRaw(t, root, "2026-08-01", "census-a", "2021", "population 2021", true)

	eng, store := newTestEngine(t, root, yearRules(t))
	_, err := eng.Discover(ctx, "2026-08-01")
	require.NoError(t, err)

	// 2021 vanishes, then comes back byte-identical two snapshots later.
	writeRaw(t, root, "2026-08-15", "census-a", "2020", "population 2020", true)
	_, err = eng.Discover(ctx, "2026-08-15")
	require.NoError(t, err)

	writeRaw(t, root, "2026-09-01", "census-a", "2020", "population 2020", true)
	writeRaw(t, root, "2026-09-01", "census-a", "2021", "population 2021", true)
	res, err := eng.Discover(ctx, "2026-09-01")
	require.NoError(t, err)

	// Unchanged content is not enough to stay clean: downstream may have
	// retired the partition while it was deleted.
	assert.Equal(t, []string{"2021"}, dirtyPartitions(res.Dirty))
	assert.Equal(t, 1, res.Changed)

	back, err := store.Lookup(ctx,
		core.PartitionKey{Source: "census-a", Entity: "population", Partition: "2021"},
		core.LayerSilver)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDirty, back.Status)
	assert.Equal(t, core.PromoPending, back.PromoState)
	assert.Equal(t, "2026-09-01", back.SnapshotVersion)
	assert.Equal(t, hash.Bytes([]byte("population 2021")), back.ContentHash)
}

func TestDiscoverRefusesOutOfOrderSnapshot(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	writeRaw(t, root, "2026-08-15", "census-a", "2020", "population 2020", true)
	writeRaw(t, root, "2026-08-01", "census-a", "2020", "population 2020 older", true)
	writeRaw(t, root, "2026-08-01", "census-a", "2021", "population 2021", true)

	eng, store := newTestEngine(t, root, yearRules(t))
	_, err := eng.Discover(ctx, "2026-08-15")
	require.NoError(t, err)

	// Backfilling the older snapshot would mark 2020 dirty with stale
	// content and is refused before any manifest write.
	_, err = eng.Discover(ctx, "2026-08-01")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStaleSnapshot)

	entry, err := store.Lookup(ctx,
		core.PartitionKey{Source: "census-a", Entity: "population", Partition: "2020"},
		core.LayerSilver)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-15", entry.SnapshotVersion)
	assert.Equal(t, hash.Bytes([]byte("population 2020")), entry.ContentHash)

	_, err = store.Lookup(ctx,
		core.PartitionKey{Source: "census-a", Entity: "population", Partition: "2021"},
		core.LayerSilver)
	assert.ErrorIs(t, err, core.ErrNotFound)

	// Re-running the latest version stays allowed.
	res, err := eng.Discover(ctx, "2026-08-15")
	require.NoError(t, err)
	assert.Empty(t, res.Dirty)
}

func TestDiscoverFanOutYearToMonths(t *testing.T) {
	root := t.TempDir()
	writeRaw(t, root, "2026-08-01", "prices-x", "2021", "prices 2021", true)

	rules, err := routing.New([]core.RoutingRule{
		{SourcePattern: "prices-*", Entity: "prices", Grain: core.GrainMonth},
	})
	require.NoError(t, err)

	eng, store := newTestEngine(t, root, rules)
	res, err := eng.Discover(context.Background(), "2026-08-01")
	require.NoError(t, err)

	require.Len(t, res.Dirty, 12)
	assert.Equal(t, "2021-01", res.Dirty[0].Key.Partition)
	assert.Equal(t, "2021-12", res.Dirty[11].Key.Partition)

	// Each expanded slice inherits the parent content scoped to its
	// sub-key: distinct hashes per month.
	parent := hash.Bytes([]byte("prices 2021"))
	jan, err := store.Lookup(context.Background(),
		core.PartitionKey{Source: "prices-x", Entity: "prices", Partition: "2021-01"},
		core.LayerSilver)
	require.NoError(t, err)
	assert.Equal(t, hash.Slice(parent, "2021-01"), jan.ContentHash)

	feb, err := store.Lookup(context.Background(),
		core.PartitionKey{Source: "prices-x", Entity: "prices", Partition: "2021-02"},
		core.LayerSilver)
	require.NoError(t, err)
	assert.NotEqual(t, jan.ContentHash, feb.ContentHash)
}

func TestDiscoverCollapseMonthsToYear(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	writeRaw(t, root, "2026-08-01", "trades-y", "2021-01", "trades january", true)
	writeRaw(t, root, "2026-08-01", "trades-y", "2021-02", "trades february", true)

	rules, err := routing.New([]core.RoutingRule{
		{SourcePattern: "trades-*", Entity: "trades", Grain: core.GrainYear},
	})
	require.NoError(t, err)

	eng, store := newTestEngine(t, root, rules)
	res, err := eng.Discover(ctx, "2026-08-01")
	require.NoError(t, err)

	require.Len(t, res.Dirty, 1)
	key := core.PartitionKey{Source: "trades-y", Entity: "trades", Partition: "2021"}
	assert.Equal(t, key, res.Dirty[0].Key)

	entry, err := store.Lookup(ctx, key, core.LayerSilver)
	require.NoError(t, err)
	want := hash.Combine([]string{
		hash.Bytes([]byte("trades january")),
		hash.Bytes([]byte("trades february")),
	})
	assert.Equal(t, want, entry.ContentHash)
	assert.Equal(t, int64(len("trades january")+len("trades february")), entry.RecordCount)

	// One contributor changes: the collapsed key is dirty, no partial
	// patching.
	writeRaw(t, root, "2026-08-15", "trades-y", "2021-01", "trades january fixed", true)
	writeRaw(t, root, "2026-08-15", "trades-y", "2021-02", "trades february", true)

	res2, err := eng.Discover(ctx, "2026-08-15")
	require.NoError(t, err)
	require.Len(t, res2.Dirty, 1)
	assert.Equal(t, core.StatusDirty, res2.Dirty[0].Status)
}

func TestDiscoverUnmatchedSourceAbortsBeforeMutation(t *testing.T) {
	root := t.TempDir()
	writeRaw(t, root, "2026-08-01", "census-a", "2020", "population 2020", true)
	writeRaw(t, root, "2026-08-01", "unknown-feed", "2020", "mystery", true)

	eng, store := newTestEngine(t, root, yearRules(t))
	_, err := eng.Discover(context.Background(), "2026-08-01")
	require.Error(t, err)
	assert.True(t, core.IsRouteError(err))

	// Routing happens before any manifest write: even the routable
	// source left no entry behind.
	entries, listErr := store.ListByLayer(context.Background(), core.LayerSilver)
	require.NoError(t, listErr)
	assert.Empty(t, entries)
}

func TestDiscoverMissingSnapshot(t *testing.T) {
	eng, _ := newTestEngine(t, t.TempDir(), yearRules(t))
	_, err := eng.Discover(context.Background(), "2026-01-01")
	assert.Error(t, err)
}

func TestDiscoverRecomputesHashWithoutSidecar(t *testing.T) {
	root := t.TempDir()
	writeRaw(t, root, "2026-08-01", "census-a", "2020", "population 2020", false)

	eng, store := newTestEngine(t, root, yearRules(t))
	res, err := eng.Discover(context.Background(), "2026-08-01")
	require.NoError(t, err)
	require.Len(t, res.Dirty, 1)

	entry, err := store.Lookup(context.Background(),
		core.PartitionKey{Source: "census-a", Entity: "population", Partition: "2020"},
		core.LayerSilver)
	require.NoError(t, err)
	assert.Equal(t, hash.Bytes([]byte("population 2020")), entry.ContentHash)
	// No sidecar: record count is unknown until the gate fails on it or
	// a counter fills it in.
	assert.Equal(t, int64(-1), entry.RecordCount)
}

func TestDiscoverCounterFillsRecordCount(t *testing.T) {
	root := t.TempDir()
	writeRaw(t, root, "2026-08-01", "census-a", "2020", "population 2020", false)

	eng, store := newTestEngine(t, root, yearRules(t), func(cfg *Config) {
		cfg.Counter = func(ctx context.Context, path string) (int64, error) {
			return 42, nil
		}
	})
	_, err := eng.Discover(context.Background(), "2026-08-01")
	require.NoError(t, err)

	entry, err := store.Lookup(context.Background(),
		core.PartitionKey{Source: "census-a", Entity: "population", Partition: "2020"},
		core.LayerSilver)
	require.NoError(t, err)
	assert.Equal(t, int64(42), entry.RecordCount)
}

func TestDiscoverVerifyHashesFlagsMismatch(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	writeRaw(t, root, "2026-08-01", "census-a", "2020", "population 2020", true)
	// Tamper with the file after its sidecar was written.
	path := filepath.Join(root, "date=2026-08-01", "source=census-a", "2020.parquet")
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))

	eng, store := newTestEngine(t, root, yearRules(t), func(cfg *Config) {
		cfg.VerifyHashes = true
	})
	res, err := eng.Discover(ctx, "2026-08-01")
	require.NoError(t, err)

	require.Len(t, res.Mismatches, 1)
	assert.Equal(t, path, res.Mismatches[0])

	// The recomputed hash is recorded, not the declared one, and the
	// mismatch lands in the DQ trail.
	key := core.PartitionKey{Source: "census-a", Entity: "population", Partition: "2020"}
	entry, err := store.Lookup(ctx, key, core.LayerSilver)
	require.NoError(t, err)
	assert.Equal(t, hash.Bytes([]byte("tampered")), entry.ContentHash)

	trail, err := store.ListDQResults(ctx, key, core.LayerSilver)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "hash_match", trail[0].Check)
	assert.False(t, trail[0].Passed)
	assert.Equal(t, core.SeverityCritical, trail[0].Severity)
}

func TestDiscoverScanErrorsAreReportedNotFatal(t *testing.T) {
	root := t.TempDir()
	writeRaw(t, root, "2026-08-01", "census-a", "2020", "population 2020", true)
	writeRaw(t, root, "2026-08-01", "census-a", "notes", "not a coverage token", false)

	eng, _ := newTestEngine(t, root, yearRules(t))
	res, err := eng.Discover(context.Background(), "2026-08-01")
	require.NoError(t, err)

	require.Len(t, res.ScanErrors, 1)
	assert.Contains(t, res.ScanErrors[0].Path, "notes.parquet")
	assert.Len(t, res.Dirty, 1)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	store := manifest.NewSQLiteStore(nil)
	require.NoError(t, store.Open(":memory:"))
	defer func() { _ = store.Close() }()

	_, err = New(Config{Store: store})
	assert.Error(t, err)

	_, err = New(Config{Store: store, Rules: yearRules(t)})
	assert.Error(t, err)

	eng, err := New(Config{Store: store, Rules: yearRules(t),
		Scanner: snapshot.NewScanner(t.TempDir(), nil)})
	require.NoError(t, err)
	assert.Equal(t, core.LayerSilver, eng.Layer())
}
