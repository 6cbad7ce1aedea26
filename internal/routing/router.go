// Package routing resolves raw source partitions onto canonical entity
// partitions through a declarative, immutable rule set.
package routing

import (
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/driftline-labs/driftline/internal/snapshot"
	"github.com/driftline-labs/driftline/pkg/core"
)

// RuleSet is a validated, immutable collection of routing rules loaded
// once per run.
type RuleSet struct {
	rules []core.RoutingRule
}

// ruleFile is the YAML shape of the routing configuration.
type ruleFile struct {
	Rules []core.RoutingRule `yaml:"rules"`
}

// Load reads and validates a routing rule file.
func Load(path string) (*RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.RouteError{Reason: fmt.Sprintf("read rules %s: %v", path, err)}
	}
	var rf ruleFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return nil, &core.RouteError{Reason: fmt.Sprintf("parse rules %s: %v", path, err)}
	}
	return New(rf.Rules)
}

// New validates a rule list and builds a RuleSet.
func New(rules []core.RoutingRule) (*RuleSet, error) {
	for i, r := range rules {
		if r.SourcePattern == "" {
			return nil, &core.RouteError{Reason: fmt.Sprintf("rule %d: missing source pattern", i)}
		}
		if r.Entity == "" {
			return nil, &core.RouteError{Reason: fmt.Sprintf("rule %d (%s): missing entity", i, r.SourcePattern)}
		}
		if !r.Grain.Valid() {
			return nil, &core.RouteError{Reason: fmt.Sprintf("rule %d (%s): unknown grain %q", i, r.SourcePattern, r.Grain)}
		}
		if _, err := path.Match(r.SourcePattern, "probe"); err != nil {
			return nil, &core.RouteError{Reason: fmt.Sprintf("rule %d: bad source pattern %q: %v", i, r.SourcePattern, err)}
		}
		if rules[i].RouteID == "" {
			rules[i].RouteID = r.SourcePattern + "->" + r.Entity
		}
	}
	return &RuleSet{rules: rules}, nil
}

// Len returns the number of rules, including disabled ones.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Rules returns a copy of the rule list.
func (rs *RuleSet) Rules() []core.RoutingRule {
	out := make([]core.RoutingRule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Target is one canonical destination for a raw partition: the entity,
// its grain, and every canonical partition id the raw coverage maps onto.
type Target struct {
	Rule       core.RoutingRule
	Partitions []string
}

// Keys expands a target into canonical partition keys for a source.
func (t Target) Keys(source string) []core.PartitionKey {
	keys := make([]core.PartitionKey, 0, len(t.Partitions))
	for _, p := range t.Partitions {
		keys = append(keys, core.PartitionKey{Source: source, Entity: t.Rule.Entity, Partition: p})
	}
	return keys
}

// Resolve maps a raw source and its coverage onto canonical targets.
// A source with no enabled matching rule is a configuration error, never
// a silent skip. Resolve is a pure function of the rule set and its
// arguments; it performs no I/O.
func (rs *RuleSet) Resolve(source string, cov snapshot.Coverage) ([]Target, error) {
	var targets []Target
	for _, r := range rs.rules {
		if r.Disabled {
			continue
		}
		ok, _ := path.Match(r.SourcePattern, source)
		if !ok && r.SourcePattern != source {
			continue
		}

		parts, err := ExpandPeriods(cov, r.Grain)
		if err != nil {
			return nil, &core.RouteError{Source: source,
				Reason: fmt.Sprintf("rule %s: %v", r.RouteID, err)}
		}
		targets = append(targets, Target{Rule: r, Partitions: parts})
	}

	if len(targets) == 0 {
		return nil, &core.RouteError{Source: source, Reason: "no enabled rule matches"}
	}
	return targets, nil
}
