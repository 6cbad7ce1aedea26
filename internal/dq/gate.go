package dq

import (
	"context"
	"log/slog"
	"time"

	"github.com/driftline-labs/driftline/pkg/core"
)

// Report aggregates all check results for one partition at one layer.
// Passed means no CRITICAL failure; Level is the highest severity observed
// among failed checks (INFO when everything passed).
type Report struct {
	Results []core.DQResult
	Level   core.Severity
	Passed  bool
}

// FailedChecks returns the names of checks that did not pass.
func (r Report) FailedChecks() []string {
	var names []string
	for _, res := range r.Results {
		if !res.Passed {
			names = append(names, res.Check)
		}
	}
	return names
}

// Gate evaluates a fixed set of checks against partitions and decides
// whether each may be promoted to the next layer.
type Gate struct {
	checks []Check
	logger *slog.Logger
	now    func() time.Time
}

// NewGate creates a gate over the given checks; nil checks means
// DefaultChecks.
func NewGate(checks []Check, logger *slog.Logger) *Gate {
	if checks == nil {
		checks = DefaultChecks()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gate{checks: checks, logger: logger, now: time.Now}
}

// Evaluate runs every check against one partition. A check that returns
// an error is recorded as a CRITICAL failure: a gate that cannot evaluate
// must not wave the partition through.
func (g *Gate) Evaluate(ctx context.Context, in Input) Report {
	rep := Report{Level: core.SeverityInfo, Passed: true}

	for _, c := range g.checks {
		if ctx.Err() != nil {
			break
		}

		metric, passed, err := c.Run(in)
		severity := c.Severity
		if err != nil {
			g.logger.Warn("dq check failed to execute",
				"check", c.Name, "partition", in.Key.String(), "error", err)
			severity = core.SeverityCritical
			passed = false
		}

		rep.Results = append(rep.Results, core.DQResult{
			Key:             in.Key,
			Layer:           in.Layer,
			Check:           c.Name,
			Severity:        severity,
			Passed:          passed,
			Metric:          metric,
			SnapshotVersion: in.SnapshotVersion,
			CreatedAt:       g.now().UTC(),
		})

		if !passed {
			rep.Level = core.MaxSeverity(rep.Level, severity)
			if severity == core.SeverityCritical {
				rep.Passed = false
			}
		}
	}

	return rep
}
