package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Sidecar is the JSON summary written next to each partition file by the
// snapshot writer. Discovery trusts the recorded hash when present and
// recomputes it otherwise.
type Sidecar struct {
	SnapshotVersion string    `json:"snapshot_version"`
	Source          string    `json:"source"`
	File            string    `json:"file"`
	Records         int64     `json:"records"`
	Bytes           int64     `json:"bytes"`
	Hash            string    `json:"hash"`
	DQPassed        bool      `json:"dq_passed"`
	DQLevel         string    `json:"dq_level"`
	Note            string    `json:"note,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// SidecarPath returns the sidecar location for a partition file:
// "<stem>.summary.json" next to the data file.
func SidecarPath(dataPath string) string {
	stem := strings.TrimSuffix(dataPath, ".parquet")
	return stem + ".summary.json"
}

// ReadSidecar loads and decodes a sidecar summary.
func ReadSidecar(path string) (*Sidecar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sidecar %s: %w", path, err)
	}
	var sc Sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("decode sidecar %s: %w", path, err)
	}
	return &sc, nil
}

// WriteSidecar encodes a sidecar summary to disk.
func WriteSidecar(path string, sc *Sidecar) error {
	raw, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write sidecar %s: %w", path, err)
	}
	return nil
}
