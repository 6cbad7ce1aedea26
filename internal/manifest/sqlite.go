package manifest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/driftline-labs/driftline/pkg/core"
)

const entryColumns = `source_id, entity, partition_key, layer, content_hash,
	record_count, byte_size, snapshot_version, status, promoted, promo_state,
	dq_level, version, first_seen_at, last_seen_at`

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates an unopened store instance.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// Open opens the database and applies pending migrations. Use ":memory:"
// for an in-memory store.
func (s *SQLiteStore) Open(path string) error {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open manifest database: %w", err)
	}
	// One writer connection: SQLite serializes writes anyway, and the
	// in-memory DSN would otherwise give each pooled connection its own
	// database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping manifest database: %w", err)
	}

	s.db = db
	s.path = path

	if err := s.Migrate(); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}

	s.logger.Debug("manifest store opened", "path", path)
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Lookup returns the current entry for a key at a layer.
func (s *SQLiteStore) Lookup(ctx context.Context, key core.PartitionKey, layer core.Layer) (*core.ManifestEntry, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM manifest_entries
		 WHERE source_id = ? AND entity = ? AND partition_key = ? AND layer = ?`,
		key.Source, key.Entity, key.Partition, layer,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s@%s: %w", key, layer, err)
	}
	return entry, nil
}

// Upsert writes an entry with optimistic concurrency on Version.
func (s *SQLiteStore) Upsert(ctx context.Context, entry *core.ManifestEntry) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := lookupTx(ctx, tx, entry.Key, entry.Layer)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}

	now := entry.LastSeenAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	switch {
	case entry.Version == 0:
		if current != nil {
			return &core.ConflictError{Key: entry.Key, Layer: entry.Layer, Expected: 0, Found: current.Version}
		}
		if entry.FirstSeenAt.IsZero() {
			entry.FirstSeenAt = now
		}
		entry.LastSeenAt = now
		entry.Version = 1
		if entry.PromoState == "" {
			entry.PromoState = core.PromoPending
		}
		if entry.DQLevel == "" {
			entry.DQLevel = core.SeverityInfo
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO manifest_entries (`+entryColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.Key.Source, entry.Key.Entity, entry.Key.Partition, entry.Layer,
			entry.ContentHash, entry.RecordCount, entry.ByteSize, entry.SnapshotVersion,
			entry.Status, entry.Promoted, entry.PromoState, entry.DQLevel,
			entry.Version, entry.FirstSeenAt, entry.LastSeenAt,
		); err != nil {
			return fmt.Errorf("insert %s@%s: %w", entry.Key, entry.Layer, err)
		}

	case current == nil:
		return &core.ConflictError{Key: entry.Key, Layer: entry.Layer, Expected: entry.Version, Found: 0}

	case current.Version != entry.Version:
		return &core.ConflictError{Key: entry.Key, Layer: entry.Layer, Expected: entry.Version, Found: current.Version}

	case sameObservableState(current, entry):
		// Idempotent re-write: only freshness advances.
		entry.LastSeenAt = now
		entry.FirstSeenAt = current.FirstSeenAt
		if _, err := tx.ExecContext(ctx,
			`UPDATE manifest_entries SET last_seen_at = ?
			 WHERE source_id = ? AND entity = ? AND partition_key = ? AND layer = ?`,
			now, entry.Key.Source, entry.Key.Entity, entry.Key.Partition, entry.Layer,
		); err != nil {
			return fmt.Errorf("touch %s@%s: %w", entry.Key, entry.Layer, err)
		}

	default:
		entry.LastSeenAt = now
		entry.FirstSeenAt = current.FirstSeenAt
		res, err := tx.ExecContext(ctx,
			`UPDATE manifest_entries SET content_hash = ?, record_count = ?,
			 byte_size = ?, snapshot_version = ?, status = ?, promoted = ?,
			 promo_state = ?, dq_level = ?, version = version + 1, last_seen_at = ?
			 WHERE source_id = ? AND entity = ? AND partition_key = ? AND layer = ?
			   AND version = ?`,
			entry.ContentHash, entry.RecordCount, entry.ByteSize, entry.SnapshotVersion,
			entry.Status, entry.Promoted, entry.PromoState, entry.DQLevel, now,
			entry.Key.Source, entry.Key.Entity, entry.Key.Partition, entry.Layer,
			entry.Version,
		)
		if err != nil {
			return fmt.Errorf("update %s@%s: %w", entry.Key, entry.Layer, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return &core.ConflictError{Key: entry.Key, Layer: entry.Layer, Expected: entry.Version, Found: current.Version}
		}
		entry.Version++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Touch refreshes last_seen_at for an existing entry.
func (s *SQLiteStore) Touch(ctx context.Context, key core.PartitionKey, layer core.Layer, at time.Time) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE manifest_entries SET last_seen_at = ?
		 WHERE source_id = ? AND entity = ? AND partition_key = ? AND layer = ?`,
		at.UTC(), key.Source, key.Entity, key.Partition, layer,
	)
	if err != nil {
		return fmt.Errorf("touch %s@%s: %w", key, layer, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ListByStatus returns entries at a layer in any of the given statuses.
func (s *SQLiteStore) ListByStatus(ctx context.Context, layer core.Layer, statuses ...core.Status) ([]core.ManifestEntry, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if len(statuses) == 0 {
		return nil, fmt.Errorf("at least one status required")
	}

	placeholders := strings.Repeat("?,", len(statuses))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(statuses)+1)
	args = append(args, layer)
	for _, st := range statuses {
		args = append(args, st)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM manifest_entries
		 WHERE layer = ? AND status IN (`+placeholders+`)
		 ORDER BY entity, partition_key, source_id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectEntries(rows)
}

// ListByLayer returns all entries at a layer.
func (s *SQLiteStore) ListByLayer(ctx context.Context, layer core.Layer) ([]core.ManifestEntry, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM manifest_entries
		 WHERE layer = ? ORDER BY entity, partition_key, source_id`,
		layer,
	)
	if err != nil {
		return nil, fmt.Errorf("list layer %s: %w", layer, err)
	}
	defer func() { _ = rows.Close() }()

	return collectEntries(rows)
}

// SetPromotion writes the promotion fields, conflict-checked on Version.
func (s *SQLiteStore) SetPromotion(ctx context.Context, entry *core.ManifestEntry) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE manifest_entries SET promoted = ?, promo_state = ?, dq_level = ?,
		 version = version + 1, last_seen_at = ?
		 WHERE source_id = ? AND entity = ? AND partition_key = ? AND layer = ?
		   AND version = ?`,
		entry.Promoted, entry.PromoState, entry.DQLevel, time.Now().UTC(),
		entry.Key.Source, entry.Key.Entity, entry.Key.Partition, entry.Layer,
		entry.Version,
	)
	if err != nil {
		return fmt.Errorf("set promotion %s@%s: %w", entry.Key, entry.Layer, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		current, lookErr := s.Lookup(ctx, entry.Key, entry.Layer)
		found := int64(0)
		if lookErr == nil {
			found = current.Version
		}
		return &core.ConflictError{Key: entry.Key, Layer: entry.Layer, Expected: entry.Version, Found: found}
	}
	entry.Version++
	return nil
}

// AppendDQResults appends check outcomes to the audit trail.
func (s *SQLiteStore) AppendDQResults(ctx context.Context, results []core.DQResult) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dq append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dq_results (id, source_id, entity, partition_key, layer,
		 check_name, severity, passed, metric, snapshot_version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare dq insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range results {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(), r.Key.Source, r.Key.Entity, r.Key.Partition,
			r.Layer, r.Check, r.Severity, r.Passed, r.Metric,
			r.SnapshotVersion, createdAt,
		); err != nil {
			return fmt.Errorf("insert dq result %s/%s: %w", r.Key, r.Check, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit dq append: %w", err)
	}
	return nil
}

// ListDQResults returns the audit trail for one partition, newest first.
func (s *SQLiteStore) ListDQResults(ctx context.Context, key core.PartitionKey, layer core.Layer) ([]core.DQResult, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, entity, partition_key, layer, check_name, severity,
		 passed, metric, snapshot_version, created_at
		 FROM dq_results
		 WHERE source_id = ? AND entity = ? AND partition_key = ? AND layer = ?
		 ORDER BY created_at DESC, check_name`,
		key.Source, key.Entity, key.Partition, layer,
	)
	if err != nil {
		return nil, fmt.Errorf("list dq results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []core.DQResult
	for rows.Next() {
		var r core.DQResult
		if err := rows.Scan(&r.Key.Source, &r.Key.Entity, &r.Key.Partition,
			&r.Layer, &r.Check, &r.Severity, &r.Passed, &r.Metric,
			&r.SnapshotVersion, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dq result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CreateRun opens a run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, kind, snapshotVersion string) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &core.Run{
		ID:              uuid.New().String(),
		Kind:            kind,
		SnapshotVersion: snapshotVersion,
		Status:          core.RunStatusRunning,
		StartedAt:       time.Now().UTC(),
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, snapshot_version, status, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.SnapshotVersion, run.Status, run.StartedAt,
	); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// CompleteRun closes a run record with the given status.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id, status, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		status, time.Now().UTC(), errPtr, id,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*core.ManifestEntry, error) {
	var e core.ManifestEntry
	err := row.Scan(
		&e.Key.Source, &e.Key.Entity, &e.Key.Partition, &e.Layer,
		&e.ContentHash, &e.RecordCount, &e.ByteSize, &e.SnapshotVersion,
		&e.Status, &e.Promoted, &e.PromoState, &e.DQLevel,
		&e.Version, &e.FirstSeenAt, &e.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEntries(rows *sql.Rows) ([]core.ManifestEntry, error) {
	var entries []core.ManifestEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manifest entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func lookupTx(ctx context.Context, tx *sql.Tx, key core.PartitionKey, layer core.Layer) (*core.ManifestEntry, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM manifest_entries
		 WHERE source_id = ? AND entity = ? AND partition_key = ? AND layer = ?`,
		key.Source, key.Entity, key.Partition, layer,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s@%s: %w", key, layer, err)
	}
	return entry, nil
}

func sameObservableState(current, next *core.ManifestEntry) bool {
	return current.ContentHash == next.ContentHash &&
		current.SnapshotVersion == next.SnapshotVersion &&
		current.Status == next.Status &&
		current.RecordCount == next.RecordCount &&
		current.ByteSize == next.ByteSize &&
		current.Promoted == next.Promoted &&
		current.PromoState == next.PromoState &&
		current.DQLevel == next.DQLevel
}

// Ensure SQLiteStore implements the Store interface.
var _ Store = (*SQLiteStore)(nil)
