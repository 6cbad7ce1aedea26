package commands

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/driftline-labs/driftline/pkg/core"
)

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	var layerFlag string
	var showDQ bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the manifest state of a layer",
		Long: `List every manifest entry at a layer with its incremental status,
promotion state, and data-quality level.`,
		Example: `  # Silver layer overview
  driftline status

  # Gold, with per-partition DQ audit trails
  driftline status --layer gold --dq`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, core.Layer(layerFlag), showDQ)
		},
	}

	cmd.Flags().StringVar(&layerFlag, "layer", string(core.LayerSilver), "Layer to inspect (bronze|silver|gold)")
	cmd.Flags().BoolVar(&showDQ, "dq", false, "Include the DQ audit trail per partition")
	return cmd
}

func runStatus(cmd *cobra.Command, layer core.Layer, showDQ bool) error {
	cfg := ConfigFrom(cmd.Context())
	logger := LoggerFrom(cmd.Context())

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	entries, err := store.ListByLayer(cmd.Context(), layer)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if cfg.Output == "json" {
		type jsonEntry struct {
			Key             core.PartitionKey `json:"key"`
			ContentHash     string            `json:"content_hash"`
			RecordCount     int64             `json:"record_count"`
			SnapshotVersion string            `json:"snapshot_version"`
			Status          core.Status       `json:"status"`
			Promoted        bool              `json:"promoted"`
			PromoState      core.PromoState   `json:"promo_state"`
			DQLevel         core.Severity     `json:"dq_level"`
		}
		payload := make([]jsonEntry, 0, len(entries))
		for _, e := range entries {
			payload = append(payload, jsonEntry{
				e.Key, e.ContentHash, e.RecordCount, e.SnapshotVersion,
				e.Status, e.Promoted, e.PromoState, e.DQLevel,
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	if len(entries) == 0 {
		fmt.Fprintf(out, "No manifest entries at layer %s\n", layer)
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Source", "Entity", "Partition", "Status",
		"Promo", "DQ", "Records", "Snapshot", "Last Seen"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.Key.Source, e.Key.Entity, e.Key.Partition, e.Status,
			e.PromoState, e.DQLevel, e.RecordCount, e.SnapshotVersion,
			e.LastSeenAt.Format("2006-01-02 15:04"),
		})
	}
	t.Render()

	if showDQ {
		for _, e := range entries {
			trail, err := store.ListDQResults(cmd.Context(), e.Key, layer)
			if err != nil {
				return err
			}
			if len(trail) == 0 {
				continue
			}
			fmt.Fprintf(out, "\n%s:\n", e.Key)
			for _, r := range trail {
				mark := "pass"
				if !r.Passed {
					mark = "FAIL"
				}
				fmt.Fprintf(out, "  [%s] %-28s %-8s snapshot=%s\n",
					mark, r.Check, r.Severity, r.SnapshotVersion)
			}
		}
	}
	return nil
}
