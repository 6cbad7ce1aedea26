// Package commands implements the driftline subcommands.
package commands

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/driftline-labs/driftline/internal/config"
	"github.com/driftline-labs/driftline/internal/engine"
	"github.com/driftline-labs/driftline/internal/manifest"
	"github.com/driftline-labs/driftline/internal/routing"
	"github.com/driftline-labs/driftline/internal/snapshot"
)

type configKey struct{}
type loggerKey struct{}

// WithConfig stores the loaded config in the command context.
func WithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// ConfigFrom retrieves the config from the command context.
func ConfigFrom(ctx context.Context) *config.Config {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c
	}
	return &config.Config{
		SnapshotRoot: config.DefaultSnapshotRoot,
		RulesPath:    config.DefaultRulesFile,
		ManifestPath: config.DefaultManifestFile,
		Workers:      config.DefaultWorkers,
		Output:       config.DefaultOutput,
	}
}

// WithLogger stores the logger in the command context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom retrieves the logger from the command context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// openStore opens the manifest database, creating its directory first.
func openStore(cfg *config.Config, logger *slog.Logger) (*manifest.SQLiteStore, error) {
	if cfg.ManifestPath != ":memory:" {
		dir := filepath.Dir(cfg.ManifestPath)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create manifest directory: %w", err)
			}
		}
	}

	store := manifest.NewSQLiteStore(logger)
	if err := store.Open(cfg.ManifestPath); err != nil {
		return nil, err
	}
	return store, nil
}

// buildEngine assembles the pipeline engine from the resolved config.
// The returned cleanup closes the store and any record-count database.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*engine.Engine, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	rules, err := routing.Load(cfg.RulesPath)
	if err != nil {
		return nil, nil, err
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	engCfg := engine.Config{
		Store:        store,
		Rules:        rules,
		Scanner:      snapshot.NewScanner(cfg.SnapshotRoot, logger),
		Logger:       logger,
		Workers:      cfg.Workers,
		VerifyHashes: cfg.VerifyHashes,
	}

	var countDB *sql.DB
	if cfg.CountRecords {
		countDB, err = sql.Open("duckdb", "")
		if err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("open duckdb for record counting: %w", err)
		}
		engCfg.Counter = func(ctx context.Context, path string) (int64, error) {
			return snapshot.CountRecords(ctx, countDB, path)
		}
	}

	eng, err := engine.New(engCfg)
	if err != nil {
		_ = store.Close()
		if countDB != nil {
			_ = countDB.Close()
		}
		return nil, nil, err
	}

	cleanup := func() {
		_ = store.Close()
		if countDB != nil {
			_ = countDB.Close()
		}
	}
	return eng, cleanup, nil
}
