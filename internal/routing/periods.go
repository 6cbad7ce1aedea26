package routing

import (
	"fmt"
	"strconv"
	"time"

	"github.com/driftline-labs/driftline/internal/snapshot"
	"github.com/driftline-labs/driftline/pkg/core"
)

const monthLayout = "2006-01"

// ExpandPeriods enumerates the canonical partition ids covered by a raw
// coverage range at the target grain. A yearly range at month grain fans
// out to twelve partitions per year; a monthly range at year grain
// collapses to the distinct years touched.
func ExpandPeriods(cov snapshot.Coverage, target core.Grain) ([]string, error) {
	switch {
	case cov.Grain == core.GrainYear && target == core.GrainYear:
		return yearsBetween(cov.Start, cov.End)

	case cov.Grain == core.GrainYear && target == core.GrainMonth:
		return monthsBetween(cov.Start+"-01", cov.End+"-12")

	case cov.Grain == core.GrainMonth && target == core.GrainMonth:
		return monthsBetween(cov.Start, cov.End)

	case cov.Grain == core.GrainMonth && target == core.GrainYear:
		return yearsBetween(cov.Start[:4], cov.End[:4])

	default:
		return nil, fmt.Errorf("cannot expand %s coverage to %s grain", cov.Grain, target)
	}
}

func yearsBetween(start, end string) ([]string, error) {
	s, err := strconv.Atoi(start)
	if err != nil {
		return nil, fmt.Errorf("parse year %q: %w", start, err)
	}
	e, err := strconv.Atoi(end)
	if err != nil {
		return nil, fmt.Errorf("parse year %q: %w", end, err)
	}
	if s > e {
		return nil, fmt.Errorf("year range %s-%s: start after end", start, end)
	}
	out := make([]string, 0, e-s+1)
	for y := s; y <= e; y++ {
		out = append(out, strconv.Itoa(y))
	}
	return out, nil
}

func monthsBetween(start, end string) ([]string, error) {
	s, err := time.Parse(monthLayout, start)
	if err != nil {
		return nil, fmt.Errorf("parse month %q: %w", start, err)
	}
	e, err := time.Parse(monthLayout, end)
	if err != nil {
		return nil, fmt.Errorf("parse month %q: %w", end, err)
	}
	if s.After(e) {
		return nil, fmt.Errorf("month range %s-%s: start after end", start, end)
	}
	var out []string
	for m := s; !m.After(e); m = m.AddDate(0, 1, 0) {
		out = append(out, m.Format(monthLayout))
	}
	return out, nil
}
