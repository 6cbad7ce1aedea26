package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline-labs/driftline/internal/config"
	"github.com/driftline-labs/driftline/internal/hash"
	"github.com/driftline-labs/driftline/internal/snapshot"
	"github.com/driftline-labs/driftline/pkg/core"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"route error", &core.RouteError{Source: "x", Reason: "no rule"}, 2},
		{"wrapped route error", errors.Join(errors.New("discover"), &core.RouteError{Source: "x"}), 2},
		{"invalid config", fmt.Errorf("load: %w", config.ErrInvalid), 2},
		{"all rejected", core.ErrAllRejected, 1},
		{"generic failure", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

// scaffoldProject builds a minimal on-disk project: config file, routing
// rules, and one healthy raw partition with its sidecar.
func scaffoldProject(t *testing.T, version string) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()

	cfgPath = filepath.Join(dir, "driftline.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"snapshot_root: snapshots\nrules_path: routing.yaml\nmanifest_path: manifest.db\n",
	), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "routing.yaml"), []byte(
		"rules:\n  - source: \"census-*\"\n    entity: population\n    grain: year\n",
	), 0o644))

	partDir := filepath.Join(dir, "snapshots", "date="+version, "source=census-a")
	require.NoError(t, os.MkdirAll(partDir, 0o755))
	content := []byte("frozen-census-rows")
	partPath := filepath.Join(partDir, "2020.parquet")
	require.NoError(t, os.WriteFile(partPath, content, 0o644))
	require.NoError(t, snapshot.WriteSidecar(snapshot.SidecarPath(partPath), &snapshot.Sidecar{
		SnapshotVersion: version,
		Source:          "census-a",
		File:            "2020.parquet",
		Records:         18,
		Bytes:           int64(len(content)),
		Hash:            hash.Bytes(content),
	}))
	return dir, cfgPath
}

func TestDiscoverGateStatusRoundTrip(t *testing.T) {
	const version = "2026-08-01"
	_, cfgPath := scaffoldProject(t, version)

	out, err := execute(t, "--config", cfgPath, "--output", "json", "discover", version)
	require.NoError(t, err)

	var disc struct {
		SnapshotVersion string            `json:"snapshot_version"`
		Dirty           []json.RawMessage `json:"dirty"`
		New             int               `json:"new"`
		Changed         int               `json:"changed"`
		Clean           int               `json:"clean"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &disc))
	assert.Equal(t, version, disc.SnapshotVersion)
	assert.Equal(t, 1, disc.New)
	assert.Len(t, disc.Dirty, 1)

	out, err = execute(t, "--config", cfgPath, "--output", "json", "gate")
	require.NoError(t, err)

	var gate struct {
		Evaluated int `json:"evaluated"`
		Promoted  int `json:"promoted"`
		Rejected  int `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &gate))
	assert.Equal(t, 1, gate.Evaluated)
	assert.Equal(t, 1, gate.Promoted)
	assert.Zero(t, gate.Rejected)

	out, err = execute(t, "--config", cfgPath, "--output", "json", "status")
	require.NoError(t, err)

	var entries []struct {
		Status     core.Status     `json:"status"`
		Promoted   bool            `json:"promoted"`
		PromoState core.PromoState `json:"promo_state"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, core.PromoPromoted, entries[0].PromoState)
	assert.True(t, entries[0].Promoted)

	// A second discover of the same snapshot is a no-op.
	out, err = execute(t, "--config", cfgPath, "--output", "json", "discover", version)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &disc))
	assert.Zero(t, disc.New)
	assert.Zero(t, disc.Changed)
	assert.Equal(t, 1, disc.Clean)
	assert.Empty(t, disc.Dirty)
}

func TestDiscoverUnroutableSourceExitsWithConfigError(t *testing.T) {
	const version = "2026-08-01"
	dir, cfgPath := scaffoldProject(t, version)

	strayDir := filepath.Join(dir, "snapshots", "date="+version, "source=weather-station")
	require.NoError(t, os.MkdirAll(strayDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(strayDir, "2020.parquet"), []byte("x"), 0o644))

	_, err := execute(t, "--config", cfgPath, "discover", version)
	require.Error(t, err)
	assert.True(t, core.IsRouteError(err))
	assert.Equal(t, 2, ExitCode(err))
}

func TestInvalidConfigExitsWithConfigError(t *testing.T) {
	_, cfgPath := scaffoldProject(t, "2026-08-01")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"snapshot_root: snapshots\nrules_path: routing.yaml\nmanifest_path: manifest.db\nworkers: 0\n",
	), 0o644))

	_, err := execute(t, "--config", cfgPath, "discover", "2026-08-01")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.Equal(t, 2, ExitCode(err))
}

func TestGateRejectsUnknownLayer(t *testing.T) {
	_, cfgPath := scaffoldProject(t, "2026-08-01")

	_, err := execute(t, "--config", cfgPath, "gate", "--layer", "bronze")
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
}

func TestDiscoverMissingSnapshotFails(t *testing.T) {
	_, cfgPath := scaffoldProject(t, "2026-08-01")

	_, err := execute(t, "--config", cfgPath, "discover", "1999-01-01")
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
}
