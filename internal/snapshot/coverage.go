// Package snapshot reads and writes the raw snapshot layout: immutable
// columnar partition files under <root>/date=<version>/source=<id>/, each
// with an optional JSON sidecar summary.
package snapshot

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/driftline-labs/driftline/pkg/core"
)

// Coverage is the period range a raw partition file covers, parsed from
// its file stem: "2020", "2020-2023", "2021-04" or "2021-01-2021-06".
type Coverage struct {
	Start string
	End   string
	Grain core.Grain
}

var (
	yearRe       = regexp.MustCompile(`^(\d{4})$`)
	yearRangeRe  = regexp.MustCompile(`^(\d{4})-(\d{4})$`)
	monthRe      = regexp.MustCompile(`^(\d{4}-\d{2})$`)
	monthRangeRe = regexp.MustCompile(`^(\d{4}-\d{2})-(\d{4}-\d{2})$`)
)

// ParseCoverage extracts the coverage range from a file stem. A "-part-N"
// suffix (multi-file partitions) is ignored. Month tokens compare
// lexicographically, which is chronological for zero-padded YYYY-MM.
func ParseCoverage(stem string) (Coverage, error) {
	tok := stem
	if i := strings.Index(tok, "-part-"); i >= 0 {
		tok = tok[:i]
	}

	if m := monthRangeRe.FindStringSubmatch(tok); m != nil {
		if m[1] > m[2] {
			return Coverage{}, fmt.Errorf("month range %q: start after end", tok)
		}
		return Coverage{Start: m[1], End: m[2], Grain: core.GrainMonth}, nil
	}
	if m := yearRangeRe.FindStringSubmatch(tok); m != nil {
		if m[1] > m[2] {
			return Coverage{}, fmt.Errorf("year range %q: start after end", tok)
		}
		return Coverage{Start: m[1], End: m[2], Grain: core.GrainYear}, nil
	}
	if m := monthRe.FindStringSubmatch(tok); m != nil {
		return Coverage{Start: m[1], End: m[1], Grain: core.GrainMonth}, nil
	}
	if m := yearRe.FindStringSubmatch(tok); m != nil {
		return Coverage{Start: m[1], End: m[1], Grain: core.GrainYear}, nil
	}
	return Coverage{}, fmt.Errorf("unrecognized coverage token %q", stem)
}

// Token renders the coverage back into its file-stem form.
func (c Coverage) Token() string {
	if c.Start == c.End {
		return c.Start
	}
	return c.Start + "-" + c.End
}
