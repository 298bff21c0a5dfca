package rewrite

import (
	"fmt"
	"strings"
)

// RuleSet is an ordered, immutable collection of compiled rules. Order
// defines priority: the first rule whose pattern matches wins. A RuleSet is
// built once at startup and never mutated, so it is safe to share by
// reference across any number of concurrent queries without locking.
type RuleSet struct {
	rules []*Rule
}

// CompileRules compiles configuration entries into a RuleSet, preserving
// order. Any invalid pattern rejects the whole configuration; rule order
// and completeness are correctness-relevant, so a partial load would be
// worse than a refused one.
func CompileRules(entries []Replacement) (*RuleSet, error) {
	rules := make([]*Rule, 0, len(entries))
	for i, entry := range entries {
		rule, err := CompileRule(entry)
		if err != nil {
			return nil, fmt.Errorf("replacement %d: %w", i+1, err)
		}
		rules = append(rules, rule)
	}
	return &RuleSet{rules: rules}, nil
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Rewrite matches name against the rules in order and returns the first
// rule's substituted target. Matching is case-insensitive (the name is
// lowercased first); patterns see the name exactly as it came off the wire
// otherwise, trailing dot included.
//
// Once a pattern matches, the decision is final: if that rule's template
// fails to resolve, Rewrite returns the error and does NOT fall through to
// later rules. A broken high-priority rule deferring silently to a
// lower-priority one would mask the configuration bug.
func (rs *RuleSet) Rewrite(name string) (string, bool, error) {
	lowered := strings.ToLower(name)
	for _, rule := range rs.rules {
		target, matched, err := rule.rewrite(lowered)
		if !matched {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("rule %q: %w", rule.Pattern(), err)
		}
		return target, true, nil
	}
	return "", false, nil
}
