package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftline-labs/driftline/pkg/core"
)

// NewGateCommand creates the gate command.
func NewGateCommand() *cobra.Command {
	var layerFlag string

	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Evaluate data-quality checks and decide promotion",
		Long: `Run the data-quality gate over every NEW or DIRTY partition at a
layer. Each partition is driven to PROMOTED or REJECTED; rejected
partitions stay invisible to the next layer's build but their raw data
is never discarded.

Bronze is never gated. The command fails only when every evaluated
partition was rejected; partial rejection is reported but succeeds.`,
		Example: `  # Gate the silver layer
  driftline gate

  # Gate gold
  driftline gate --layer gold`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGate(cmd, core.Layer(layerFlag))
		},
	}

	cmd.Flags().StringVar(&layerFlag, "layer", string(core.LayerSilver), "Layer to gate (silver|gold)")
	return cmd
}

func runGate(cmd *cobra.Command, layer core.Layer) error {
	cfg := ConfigFrom(cmd.Context())
	logger := LoggerFrom(cmd.Context())

	if layer != core.LayerSilver && layer != core.LayerGold {
		return fmt.Errorf("unknown layer %q (silver|gold)", layer)
	}

	eng, cleanup, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	res, gateErr := eng.Gate(cmd.Context(), layer)
	if res == nil {
		return gateErr
	}

	out := cmd.OutOrStdout()
	if cfg.Output == "json" {
		payload := struct {
			RunID     string              `json:"run_id"`
			Layer     core.Layer          `json:"layer"`
			Evaluated int                 `json:"evaluated"`
			Promoted  int                 `json:"promoted"`
			Rejected  int                 `json:"rejected"`
			Skipped   int                 `json:"skipped"`
			Keys      []core.PartitionKey `json:"rejected_keys,omitempty"`
		}{res.RunID, res.Layer, res.Evaluated, res.Promoted, res.Rejected,
			res.Skipped, res.RejectedKeys}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(payload); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, res.Summary())
		for _, key := range res.RejectedKeys {
			fmt.Fprintf(out, "  rejected: %s\n", key)
		}
	}

	return gateErr
}
