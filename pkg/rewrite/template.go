// Package rewrite implements the rule engine behind cnamed: ordered
// regex-to-template rules that turn a query name into a CNAME target.
// It supports three concerns:
//   - compiling configuration entries into an immutable RuleSet
//   - substituting regex captures into target templates
//   - deciding, per query, between a rewrite and NXDOMAIN
package rewrite

import (
	"fmt"
	"strings"
)

// ErrGroupOutOfRange is returned when a template references a capture group
// the matched pattern does not have. Callers treat it as a per-query failure,
// never a fatal one.
var ErrGroupOutOfRange = fmt.Errorf("template references a capture group the pattern does not define")

// segment is one token of a parsed template: either literal text or a
// reference to capture group N.
type segment struct {
	literal string
	group   int
	isGroup bool
}

// Template is a target-name template parsed into literal and group segments.
// Parsing happens once at rule-compile time; Resolve only walks segments, so
// an out-of-range group reference is an explicit error branch rather than a
// slice-index panic.
type Template struct {
	raw      string
	segments []segment
	maxGroup int
}

// ParseTemplate parses a template string. Placeholders have the form {N}
// where N is a decimal integer ({0} is the whole match). Anything else,
// including unmatched or non-numeric braces, is literal text; there is no
// escape syntax.
func ParseTemplate(raw string) *Template {
	t := &Template{raw: raw, maxGroup: -1}

	var lit strings.Builder
	i := 0
	for i < len(raw) {
		group, width, ok := parsePlaceholder(raw[i:])
		if !ok {
			lit.WriteByte(raw[i])
			i++
			continue
		}

		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{literal: lit.String()})
			lit.Reset()
		}
		t.segments = append(t.segments, segment{group: group, isGroup: true})
		if group > t.maxGroup {
			t.maxGroup = group
		}
		i += width
	}

	if lit.Len() > 0 {
		t.segments = append(t.segments, segment{literal: lit.String()})
	}
	return t
}

// maxGroupIndex caps parsed group indexes. No real pattern has anywhere
// near this many capture groups; indexes at or above it resolve to
// ErrGroupOutOfRange.
const maxGroupIndex = 1 << 20

// parsePlaceholder reports whether s starts with a {N} placeholder and, if
// so, returns the group index and the placeholder's width in bytes. Digit
// runs that would overflow the accumulator are clamped to maxGroupIndex so
// the index can never wrap negative.
func parsePlaceholder(s string) (group, width int, ok bool) {
	if len(s) < 3 || s[0] != '{' {
		return 0, 0, false
	}
	end := strings.IndexByte(s, '}')
	if end < 2 {
		return 0, 0, false
	}
	for j := 1; j < end; j++ {
		if s[j] < '0' || s[j] > '9' {
			return 0, 0, false
		}
		if group >= maxGroupIndex {
			group = maxGroupIndex
			continue
		}
		group = group*10 + int(s[j]-'0')
	}
	return group, end + 1, true
}

// Resolve substitutes captures into the template. captures follows the
// regexp.FindStringSubmatch convention: index 0 is the whole match and
// groups that did not participate are empty strings. Referencing a group
// beyond the pattern's capture count returns ErrGroupOutOfRange.
//
// Resolve is pure: the same template and captures always yield the same
// output.
func (t *Template) Resolve(captures []string) (string, error) {
	var out strings.Builder
	out.Grow(len(t.raw))

	for _, seg := range t.segments {
		if !seg.isGroup {
			out.WriteString(seg.literal)
			continue
		}
		if seg.group < 0 || seg.group >= len(captures) {
			return "", fmt.Errorf("%w: template %q wants group %d, pattern has %d",
				ErrGroupOutOfRange, t.raw, seg.group, len(captures)-1)
		}
		out.WriteString(captures[seg.group])
	}
	return out.String(), nil
}

// MaxGroup returns the highest group index the template references, or -1 if
// it references none.
func (t *Template) MaxGroup() int {
	return t.maxGroup
}

// String returns the original template text.
func (t *Template) String() string {
	return t.raw
}
