package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/driftline-labs/driftline/internal/config"
)

const configTemplate = `# Driftline pipeline configuration.
snapshot_root: snapshots
rules_path: routing.yaml
manifest_path: .driftline/manifest.db
workers: 4
verify_hashes: false
count_records: false
`

const rulesTemplate = `# Routing rules: map raw sources onto canonical entities.
# source accepts an exact id or a glob pattern (path.Match syntax).
# grain is the canonical partition granularity: year or month.
rules:
  - source: "example-*"
    entity: example
    grain: year
`

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Scaffold a new driftline project",
		Long: `Create a driftline.yaml, an example routing rule file, and the
snapshot directory in the target directory (default: current).
Existing files are left untouched.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(cmd, dir)
		},
	}
}

func runInit(cmd *cobra.Command, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create project directory: %w", err)
	}

	out := cmd.OutOrStdout()
	files := map[string]string{
		config.FileName:         configTemplate,
		config.DefaultRulesFile: rulesTemplate,
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(out, "exists, skipped: %s\n", path)
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Fprintf(out, "created: %s\n", path)
	}

	snapDir := filepath.Join(dir, config.DefaultSnapshotRoot)
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	fmt.Fprintf(out, "created: %s%c\n", snapDir, filepath.Separator)

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Edit routing.yaml to match your raw sources")
	fmt.Fprintln(out, "  2. driftline snapshot --csv <file> --source <id> --start-year <y> --cutoff-year <y>")
	fmt.Fprintln(out, "  3. driftline discover <snapshot-version>")
	fmt.Fprintln(out, "  4. driftline gate")
	return nil
}
