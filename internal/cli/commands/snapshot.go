package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftline-labs/driftline/internal/snapshot"
)

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand() *cobra.Command {
	var req snapshot.WriteRequest

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Freeze a CSV extraction into a bronze parquet partition",
		Long: `Extract all records of a CSV source up to the cutoff year and
freeze them as a parquet partition with a JSON sidecar summary under
<snapshot-root>/date=<version>/source=<id>/.

The bronze layer always persists what arrived: a failing DQ verdict is
recorded in the sidecar but never withholds the write.`,
		Example: `  # Freeze emissions data through 2023
  driftline snapshot --csv data/emissions.csv --source emissions-v1 \
    --start-year 1990 --cutoff-year 2023`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSnapshot(cmd, req)
		},
	}

	cmd.Flags().StringVar(&req.CSVPath, "csv", "", "CSV file to extract from (required)")
	cmd.Flags().StringVar(&req.Source, "source", "", "Raw source identifier (required)")
	cmd.Flags().StringVar(&req.YearColumn, "year-column", "year", "Column holding the record year")
	cmd.Flags().IntVar(&req.StartYear, "start-year", 0, "First year to include (required)")
	cmd.Flags().IntVar(&req.CutoffYear, "cutoff-year", 0, "Last year to include (required)")
	cmd.Flags().StringVar(&req.SnapshotVersion, "version", "", "Snapshot version (default: today, UTC)")
	cmd.Flags().BoolVar(&req.Overwrite, "overwrite", false, "Replace an existing partition file")

	_ = cmd.MarkFlagRequired("csv")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("start-year")
	_ = cmd.MarkFlagRequired("cutoff-year")

	return cmd
}

func runSnapshot(cmd *cobra.Command, req snapshot.WriteRequest) error {
	cfg := ConfigFrom(cmd.Context())
	logger := LoggerFrom(cmd.Context())

	req.OutRoot = cfg.SnapshotRoot
	if req.SnapshotVersion == "" {
		req.SnapshotVersion = time.Now().UTC().Format("2006-01-02")
	}

	writer := snapshot.NewWriter(logger)
	res, err := writer.Write(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cfg.Output == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if res.Skipped {
		fmt.Fprintf(out, "Snapshot exists, skipped: %s (use --overwrite to replace)\n", res.Path)
		return nil
	}
	fmt.Fprintf(out, "Snapshot written: %s\n", res.Path)
	fmt.Fprintf(out, "  records: %d  bytes: %d  dq_passed: %t (%s)\n",
		res.Records, res.Bytes, res.DQPassed, res.DQLevel)
	return nil
}
