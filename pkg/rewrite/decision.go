package rewrite

import (
	"github.com/miekg/dns"
)

// Decision is the outcome for a single query: either a rewrite to Target or
// NXDOMAIN. Constructed per query and consumed immediately by the transport
// layer.
type Decision struct {
	Target  string
	Matched bool
}

// NotFound is the NXDOMAIN decision.
var NotFound = Decision{}

// Eligible reports whether a query type can trigger a rewrite. Only A, AAAA
// and ANY queries are rewritten; every other type is answered NXDOMAIN
// without consulting the rules. Zero-question queries arrive here as
// dns.TypeNone and fall out the same way.
func Eligible(qtype uint16) bool {
	switch qtype {
	case dns.TypeA, dns.TypeAAAA, dns.TypeANY:
		return true
	}
	return false
}

// Engine is the per-query decision function over an immutable RuleSet. It
// has no internal state and no I/O; one Engine serves all concurrent
// queries.
type Engine struct {
	rules *RuleSet
}

// NewEngine wraps a compiled RuleSet.
func NewEngine(rules *RuleSet) *Engine {
	return &Engine{rules: rules}
}

// Rules returns the engine's rule set.
func (e *Engine) Rules() *RuleSet {
	return e.rules
}

// Decide resolves a query to a Decision. Ineligible types short-circuit to
// NotFound. A non-nil error means a rule's pattern matched but its template
// referenced a capture group the pattern does not have; the decision is
// still NotFound; the caller only needs the error for logging and metrics,
// the client just sees NXDOMAIN.
func (e *Engine) Decide(name string, qtype uint16) (Decision, error) {
	if !Eligible(qtype) {
		return NotFound, nil
	}
	target, matched, err := e.rules.Rewrite(name)
	if err != nil {
		return NotFound, err
	}
	if !matched {
		return NotFound, nil
	}
	return Decision{Target: target, Matched: true}, nil
}
