package dq

import (
	"fmt"

	"github.com/driftline-labs/driftline/pkg/core"
)

// Advance applies a gate report to a manifest entry, moving it through
// PENDING -> EVALUATED -> {PROMOTED, REJECTED}. The terminal state holds
// for the entry's snapshot version; discovery restarts the machine at
// PENDING when a later snapshot dirties the key.
func Advance(e *core.ManifestEntry, rep Report) error {
	if e.PromoState != core.PromoPending {
		return fmt.Errorf("partition %s@%s: cannot evaluate from state %q",
			e.Key, e.Layer, e.PromoState)
	}

	e.PromoState = core.PromoEvaluated
	e.DQLevel = rep.Level
	e.Promoted = rep.Passed

	if rep.Passed {
		e.PromoState = core.PromoPromoted
	} else {
		e.PromoState = core.PromoRejected
	}
	return nil
}

// Terminal reports whether a promotion state accepts no further gate
// evaluations for the current snapshot version.
func Terminal(s core.PromoState) bool {
	return s == core.PromoPromoted || s == core.PromoRejected
}
