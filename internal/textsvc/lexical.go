package textsvc

import (
	"strings"
	"unicode"
)

// LexicalSimilarity returns the Jaccard word-overlap similarity of two
// texts in [0,1]. It is the offline fallback for Similarity: cheap,
// deterministic, and good enough to rank near-duplicates when the
// embedding endpoint is down.
func LexicalSimilarity(a, b string) float64 {
	wordsA := extractWords(a)
	wordsB := extractWords(b)

	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0.0
	}

	intersection := 0
	for word := range wordsA {
		if wordsB[word] {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection

	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// extractWords tokenizes text into a lowercase word set. Runs of
// letters and digits form words; everything else separates them.
func extractWords(text string) map[string]bool {
	words := make(map[string]bool)
	var current strings.Builder

	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			current.WriteRune(r)
		} else if current.Len() > 0 {
			words[current.String()] = true
			current.Reset()
		}
	}
	if current.Len() > 0 {
		words[current.String()] = true
	}

	return words
}

// Truncate shortens text to roughly budgetTokens tokens, cutting at a
// word boundary and appending an ellipsis. It is the offline fallback
// for Summarize. A token is approximated as one whitespace-separated
// word.
func Truncate(text string, budgetTokens int) string {
	if budgetTokens <= 0 {
		return ""
	}
	fields := strings.Fields(text)
	if len(fields) <= budgetTokens {
		return strings.TrimSpace(text)
	}
	return strings.Join(fields[:budgetTokens], " ") + "..."
}
