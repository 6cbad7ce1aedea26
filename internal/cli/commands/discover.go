package commands

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/driftline-labs/driftline/internal/engine"
	"github.com/driftline-labs/driftline/internal/snapshot"
	"github.com/driftline-labs/driftline/pkg/core"
)

// NewDiscoverCommand creates the discover command.
func NewDiscoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discover <snapshot-version>",
		Short: "Diff a raw snapshot against the manifest",
		Long: `Scan the raw partitions of a snapshot version, route them onto
canonical entities, and diff their content hashes against the manifest.

The dirty set of NEW and DIRTY partitions is printed for the next
layer's build. Re-running against an unchanged snapshot is a no-op and
prints an empty set. A raw source with no routing rule aborts the run
before anything is written.`,
		Example: `  # Diff the snapshot taken on 2026-08-01
  driftline discover 2026-08-01

  # Recompute sidecar hashes instead of trusting them
  driftline discover 2026-08-01 --verify-hashes

  # Emit the dirty set as JSON
  driftline discover 2026-08-01 --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd, args[0])
		},
	}
}

func runDiscover(cmd *cobra.Command, version string) error {
	cfg := ConfigFrom(cmd.Context())
	logger := LoggerFrom(cmd.Context())

	eng, cleanup, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := eng.Discover(cmd.Context(), version)
	if err != nil {
		return err
	}

	if cfg.Output == "json" {
		return discoverJSON(cmd, res)
	}
	return discoverText(cmd, res)
}

func discoverText(cmd *cobra.Command, res *engine.DiscoverResult) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.Summary())

	if len(res.Dirty) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.AppendHeader(table.Row{"Source", "Entity", "Partition", "Status", "Content Hash"})
		for _, d := range res.Dirty {
			t.AppendRow(table.Row{
				d.Key.Source, d.Key.Entity, d.Key.Partition,
				d.Status, shortHash(d.ContentHash),
			})
		}
		t.Render()
	}

	for _, path := range res.Mismatches {
		fmt.Fprintf(out, "WARNING: sidecar hash mismatch: %s\n", path)
	}
	return nil
}

func discoverJSON(cmd *cobra.Command, res *engine.DiscoverResult) error {
	payload := struct {
		RunID           string               `json:"run_id"`
		SnapshotVersion string               `json:"snapshot_version"`
		Dirty           core.DirtySet        `json:"dirty"`
		New             int                  `json:"new"`
		Changed         int                  `json:"changed"`
		Clean           int                  `json:"clean"`
		Deleted         int                  `json:"deleted"`
		Mismatches      []string             `json:"hash_mismatches,omitempty"`
		ScanErrors      []snapshot.ScanError `json:"scan_errors,omitempty"`
	}{
		RunID:           res.RunID,
		SnapshotVersion: res.SnapshotVersion,
		Dirty:           res.Dirty,
		New:             res.New,
		Changed:         res.Changed,
		Clean:           res.Clean,
		Deleted:         res.Deleted,
		Mismatches:      res.Mismatches,
		ScanErrors:      res.ScanErrors,
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

// shortHash truncates a hex digest for table display.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
