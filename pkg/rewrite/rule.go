package rewrite

import (
	"fmt"
	"regexp"
)

// Replacement is one from→to entry as it appears in configuration.
type Replacement struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Rule is a compiled replacement: a pattern and the template its captures
// feed. Immutable once compiled.
type Rule struct {
	pattern  *regexp.Regexp
	template *Template
}

// CompileRule compiles a single replacement entry. The pattern must be a
// valid Go regular expression; it is not implicitly anchored, so rules are
// expected to anchor themselves (^...$) when they mean the whole name.
// The template is only parsed syntactically here; whether its group
// references exist in the pattern is checked per match, not per compile.
func CompileRule(entry Replacement) (*Rule, error) {
	if entry.From == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	re, err := regexp.Compile(entry.From)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", entry.From, err)
	}
	return &Rule{
		pattern:  re,
		template: ParseTemplate(entry.To),
	}, nil
}

// Pattern returns the rule's original pattern text.
func (r *Rule) Pattern() string {
	return r.pattern.String()
}

// Template returns the rule's target template text.
func (r *Rule) Template() string {
	return r.template.String()
}

// rewrite attempts this rule against an already-lowercased name. It returns
// (target, true, nil) on a successful match and substitution, ("", false,
// nil) when the pattern does not match, and ("", true, err) when the pattern
// matched but the template referenced a missing capture group.
func (r *Rule) rewrite(name string) (string, bool, error) {
	captures := r.pattern.FindStringSubmatch(name)
	if captures == nil {
		return "", false, nil
	}
	target, err := r.template.Resolve(captures)
	if err != nil {
		return "", true, err
	}
	return target, true, nil
}
