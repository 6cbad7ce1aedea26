package dq

import "github.com/driftline-labs/driftline/pkg/core"

// Verdict is the outcome of the bronze write policy. Bronze never blocks
// on DQ: a failed verdict is recorded in the sidecar, but the snapshot is
// still written.
type Verdict struct {
	Passed  bool
	Level   core.Severity
	Reasons []string
}

// BronzePolicy is the lean acceptance policy for a freshly written
// snapshot partition: valid cutoff window, non-empty data, intact file.
func BronzePolicy(records, bytes int64, contentHash string, startYear, cutoffYear int) Verdict {
	var reasons []string
	if startYear > cutoffYear {
		reasons = append(reasons, "cutoff_invalid")
	}
	if records <= 0 {
		reasons = append(reasons, "zero_records")
	}
	if bytes <= 0 {
		reasons = append(reasons, "zero_bytes")
	}
	if contentHash == "" {
		reasons = append(reasons, "empty_hash")
	}

	v := Verdict{Passed: len(reasons) == 0, Reasons: reasons}
	if v.Passed {
		v.Level = core.SeverityInfo
	} else {
		v.Level = core.SeverityCritical
	}
	return v
}
