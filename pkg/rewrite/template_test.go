package rewrite

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTemplate(t *testing.T) {
	tests := []struct {
		name         string
		template     string
		wantMaxGroup int
	}{
		{
			name:         "literal only",
			template:     "bob.lan.",
			wantMaxGroup: -1,
		},
		{
			name:         "single group",
			template:     "{1}.lan.",
			wantMaxGroup: 1,
		},
		{
			name:         "swapped groups",
			template:     "{2}.{1}.pod.",
			wantMaxGroup: 2,
		},
		{
			name:         "whole match",
			template:     "{0}",
			wantMaxGroup: 0,
		},
		{
			name:         "multi digit group",
			template:     "{12}.lan.",
			wantMaxGroup: 12,
		},
		{
			name:         "empty braces are literal",
			template:     "a{}b",
			wantMaxGroup: -1,
		},
		{
			name:         "non numeric braces are literal",
			template:     "{one}.lan.",
			wantMaxGroup: -1,
		},
		{
			name:         "unclosed brace is literal",
			template:     "{1.lan.",
			wantMaxGroup: -1,
		},
		{
			name:         "empty template",
			template:     "",
			wantMaxGroup: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := ParseTemplate(tt.template)
			assert.Equal(t, tt.wantMaxGroup, tmpl.MaxGroup())
			assert.Equal(t, tt.template, tmpl.String())
		})
	}
}

func TestTemplateResolve(t *testing.T) {
	tests := []struct {
		name     string
		template string
		captures []string
		want     string
	}{
		{
			name:     "literal passthrough",
			template: "bob.lan.",
			captures: []string{"anything.mnh."},
			want:     "bob.lan.",
		},
		{
			name:     "single group",
			template: "{1}.lan.",
			captures: []string{"alice.mnh.", "alice"},
			want:     "alice.lan.",
		},
		{
			name:     "group order swap",
			template: "{2}.{1}.pod.",
			captures: []string{"alice.chad.pod.", "alice", "chad"},
			want:     "chad.alice.pod.",
		},
		{
			name:     "whole match",
			template: "{0}",
			captures: []string{"alice.mnh."},
			want:     "alice.mnh.",
		},
		{
			name:     "non participating group is empty",
			template: "{1}x{2}.lan.",
			captures: []string{"ab", "ab", ""},
			want:     "abx.lan.",
		},
		{
			name:     "literal braces preserved",
			template: "{a}{1}{",
			captures: []string{"m", "x"},
			want:     "{a}x{",
		},
		{
			name:     "adjacent groups",
			template: "{1}{2}",
			captures: []string{"ab", "a", "b"},
			want:     "ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTemplate(tt.template).Resolve(tt.captures)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTemplateResolveGroupOutOfRange(t *testing.T) {
	tmpl := ParseTemplate("{2}.lan.")

	// Pattern with one capture group: captures = [whole, group1]
	_, err := tmpl.Resolve([]string{"alice.mnh.", "alice"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGroupOutOfRange))
}

func TestTemplateResolveOverflowingGroupIndex(t *testing.T) {
	// Digit runs wider than int must not wrap the group index negative; any
	// absurdly large index resolves as out of range, never a panic.
	templates := []string{
		"{9223372036854775808}.lan.", // 2^63, wraps negative if accumulated naively
		"{99999999999999999999}.lan.",
		"{18446744073709551616}.lan.",
	}

	for _, raw := range templates {
		tmpl := ParseTemplate(raw)
		assert.GreaterOrEqual(t, tmpl.MaxGroup(), 0, "template %q", raw)

		_, err := tmpl.Resolve([]string{"barry.net.", "barry"})
		require.Error(t, err, "template %q", raw)
		assert.True(t, errors.Is(err, ErrGroupOutOfRange), "template %q", raw)
	}
}

func TestTemplateResolveIsPure(t *testing.T) {
	tmpl := ParseTemplate("{2}.{1}.pod.")
	captures := []string{"alice.chad.pod.", "alice", "chad"}

	first, err := tmpl.Resolve(captures)
	require.NoError(t, err)
	second, err := tmpl.Resolve(captures)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
