// Package cli provides the command-line interface for Driftline.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/driftline-labs/driftline/internal/cli/commands"
	"github.com/driftline-labs/driftline/internal/config"
	"github.com/driftline-labs/driftline/pkg/core"
)

var cfgFile string

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "driftline",
		Short: "Driftline - Incremental Snapshot Pipeline",
		Long: `Driftline routes raw snapshot partitions onto canonical entities,
diffs content hashes against a durable manifest, and gates promotion
between layers on data-quality checks. Only partitions whose content
actually changed are handed to the next layer's build.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			logger := newLogger(cmd, cfg)
			ctx := commands.WithConfig(cmd.Context(), cfg)
			ctx = commands.WithLogger(ctx, logger)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
Incremental snapshot pipeline built with Go and DuckDB
`)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./driftline.yaml)")
	rootCmd.PersistentFlags().String("snapshot-root", "", "Directory holding raw snapshots")
	rootCmd.PersistentFlags().String("rules-path", "", "Routing rule file")
	rootCmd.PersistentFlags().String("manifest-path", "", "Manifest database path (or :memory:)")
	rootCmd.PersistentFlags().Int("workers", config.DefaultWorkers, "Parallel workers for hashing and manifest writes")
	rootCmd.PersistentFlags().Bool("verify-hashes", false, "Recompute sidecar-declared content hashes")
	rootCmd.PersistentFlags().Bool("count-records", false, "Recount records for partitions without a sidecar")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format (text|json)")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version, BuildDate, GitCommit))
	rootCmd.AddCommand(commands.NewDiscoverCommand())
	rootCmd.AddCommand(commands.NewGateCommand())
	rootCmd.AddCommand(commands.NewSnapshotCommand())
	rootCmd.AddCommand(commands.NewStatusCommand())
	rootCmd.AddCommand(commands.NewInitCommand())

	return rootCmd
}

// newLogger builds the slog logger commands use: JSON when the output
// format is json, text otherwise, debug level when verbose.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Output == "json" {
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	} else {
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	}
	return slog.New(handler)
}

// Execute runs the root command and returns its error.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// ExitCode maps an execution error onto the process exit code:
// 0 for success, 2 for configuration errors (unroutable sources,
// malformed rules, invalid config), 1 for everything else including a
// gate run that rejected every partition.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case core.IsRouteError(err), errors.Is(err, config.ErrInvalid):
		return 2
	case errors.Is(err, core.ErrAllRejected):
		return 1
	default:
		return 1
	}
}
