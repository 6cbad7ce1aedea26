package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver

	"github.com/driftline-labs/driftline/internal/dq"
	"github.com/driftline-labs/driftline/internal/hash"
)

// WriteRequest describes one cumulative snapshot extraction: all records
// of a CSV source up to the cutoff year, frozen as a parquet partition
// plus sidecar summary.
type WriteRequest struct {
	CSVPath         string
	OutRoot         string
	Source          string
	YearColumn      string
	StartYear       int
	CutoffYear      int
	SnapshotVersion string
	Overwrite       bool
}

// WriteResult reports where the partition landed and its recorded DQ
// outcome.
type WriteResult struct {
	Path     string `json:"path"`
	Sidecar  string `json:"sidecar"`
	Records  int64  `json:"records"`
	Bytes    int64  `json:"bytes"`
	Hash     string `json:"hash"`
	DQPassed bool   `json:"dq_passed"`
	DQLevel  string `json:"dq_level"`
	Skipped  bool   `json:"skipped"`
}

// Writer produces bronze snapshot partitions through DuckDB. The bronze
// layer always freezes what arrived: a failed DQ verdict is recorded in
// the sidecar, never a reason to withhold the write.
type Writer struct {
	logger *slog.Logger
}

// NewWriter creates a snapshot writer.
func NewWriter(logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Writer{logger: logger}
}

// Write extracts the cumulative snapshot and writes the partition file and
// its sidecar under <out_root>/date=<version>/source=<id>/.
func (w *Writer) Write(ctx context.Context, req WriteRequest) (*WriteResult, error) {
	if req.StartYear > req.CutoffYear {
		return nil, fmt.Errorf("start_year (%d) > cutoff_year (%d)", req.StartYear, req.CutoffYear)
	}
	version := req.SnapshotVersion
	if version == "" {
		version = time.Now().UTC().Format("2006-01-02")
	}
	yearCol := req.YearColumn
	if yearCol == "" {
		yearCol = "year"
	}

	outDir := filepath.Join(req.OutRoot, "date="+version, "source="+req.Source)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	cov := Coverage{Start: strconv.Itoa(req.StartYear), End: strconv.Itoa(req.CutoffYear)}
	outParquet := filepath.Join(outDir, cov.Token()+".parquet")

	if _, err := os.Stat(outParquet); err == nil && !req.Overwrite {
		w.logger.Warn("snapshot exists, skipping", "file", outParquet)
		return &WriteResult{Path: outParquet, Skipped: true}, nil
	}

	w.logger.Info("writing snapshot",
		"source", req.Source, "version", version,
		"start_year", req.StartYear, "cutoff_year", req.CutoffYear)

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	// Identifiers cannot be bound as parameters; the paths come from our
	// own config, and single quotes are escaped by DuckDB's '' rule.
	copySQL := fmt.Sprintf(
		`COPY (SELECT * FROM read_csv_auto('%s') WHERE %s BETWEEN %d AND %d)
		 TO '%s' (FORMAT PARQUET)`,
		escapeSQL(req.CSVPath), quoteIdent(yearCol), req.StartYear, req.CutoffYear,
		escapeSQL(outParquet),
	)
	if _, err := db.ExecContext(ctx, copySQL); err != nil {
		return nil, fmt.Errorf("copy snapshot to parquet: %w", err)
	}

	records, err := CountRecords(ctx, db, outParquet)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(outParquet)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}
	contentHash, err := hash.File(outParquet)
	if err != nil {
		return nil, err
	}

	verdict := dq.BronzePolicy(records, info.Size(), contentHash, req.StartYear, req.CutoffYear)
	if !verdict.Passed {
		w.logger.Warn("bronze DQ failed, snapshot kept",
			"file", outParquet, "reasons", verdict.Reasons)
	}

	sc := &Sidecar{
		SnapshotVersion: version,
		Source:          req.Source,
		File:            filepath.Base(outParquet),
		Records:         records,
		Bytes:           info.Size(),
		Hash:            contentHash,
		DQPassed:        verdict.Passed,
		DQLevel:         string(verdict.Level),
		CreatedAt:       time.Now().UTC(),
	}
	scPath := SidecarPath(outParquet)
	if err := WriteSidecar(scPath, sc); err != nil {
		return nil, err
	}

	w.logger.Info("snapshot written",
		"file", outParquet, "records", records, "bytes", info.Size(),
		"dq_passed", verdict.Passed, "dq_level", verdict.Level)

	return &WriteResult{
		Path:     outParquet,
		Sidecar:  scPath,
		Records:  records,
		Bytes:    info.Size(),
		Hash:     contentHash,
		DQPassed: verdict.Passed,
		DQLevel:  string(verdict.Level),
	}, nil
}

// CountRecords counts the rows of a parquet partition through DuckDB.
// Discovery uses it to fill record counts for files without a sidecar.
func CountRecords(ctx context.Context, db *sql.DB, path string) (int64, error) {
	var n int64
	q := fmt.Sprintf(`SELECT COUNT(*) FROM read_parquet('%s')`, escapeSQL(path))
	if err := db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records in %s: %w", path, err)
	}
	return n, nil
}

func escapeSQL(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\'' {
			out = append(out, '\'')
		}
		out = append(out, r)
	}
	return string(out)
}

func quoteIdent(s string) string {
	out := `"`
	for _, r := range s {
		if r == '"' {
			out += `"`
		}
		out += string(r)
	}
	return out + `"`
}
