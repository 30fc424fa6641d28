package textsvc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLexicalSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{
			name: "identical_texts",
			a:    "ran kubectl rollout restart",
			b:    "ran kubectl rollout restart",
			want: 1.0,
		},
		{
			name: "disjoint_texts",
			a:    "kubectl rollout restart",
			b:    "psql vacuum analyze",
			want: 0.0,
		},
		{
			name: "partial_overlap",
			a:    "kubectl rollout",
			b:    "kubectl describe",
			want: 1.0 / 3.0,
		},
		{
			name: "case_insensitive",
			a:    "Kubectl ROLLOUT",
			b:    "kubectl rollout",
			want: 1.0,
		},
		{
			name: "punctuation_separates_words",
			a:    "retry,then-fail",
			b:    "retry then fail",
			want: 1.0,
		},
		{
			name: "empty_left",
			a:    "",
			b:    "kubectl",
			want: 0.0,
		},
		{
			name: "both_empty",
			a:    "",
			b:    "",
			want: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, LexicalSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestLexicalSimilaritySymmetric(t *testing.T) {
	t.Parallel()

	a := "checked pod logs before restart"
	b := "restart after checking logs"
	assert.InDelta(t, LexicalSimilarity(a, b), LexicalSimilarity(b, a), 1e-9)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		budget int
		want   string
	}{
		{
			name:   "under_budget_unchanged",
			text:   "short note",
			budget: 10,
			want:   "short note",
		},
		{
			name:   "over_budget_cut_at_word",
			text:   "one two three four five",
			budget: 3,
			want:   "one two three...",
		},
		{
			name:   "zero_budget",
			text:   "anything",
			budget: 0,
			want:   "",
		},
		{
			name:   "whitespace_trimmed",
			text:   "  padded text  ",
			budget: 5,
			want:   "padded text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Truncate(tt.text, tt.budget))
		})
	}
}
