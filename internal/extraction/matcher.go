// Package extraction turns a window of scored experiences into
// recurring patterns and repeatable procedures. Categorization goes
// through a matcher registry resolved once at construction, so new
// categories are additive.
package extraction

import (
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/engramd/internal/engram"
)

// maxMatchLength truncates matcher input to keep regex cost bounded
// on very long payloads.
const maxMatchLength = 4096

// Matcher assigns experiences to one pattern category.
type Matcher interface {
	// Type is the category this matcher emits.
	Type() engram.PatternType

	// Match reports whether the experience belongs to this category.
	Match(exp *engram.Experience) bool
}

// kindMatcher matches on the capture kind.
type kindMatcher struct {
	ptype engram.PatternType
	kinds map[engram.ExperienceKind]bool
}

func (m kindMatcher) Type() engram.PatternType { return m.ptype }

func (m kindMatcher) Match(exp *engram.Experience) bool {
	return m.kinds[exp.Kind]
}

// regexMatcher matches payload and tags against a compiled rule.
type regexMatcher struct {
	ptype engram.PatternType
	regex *regexp.Regexp
}

func (m regexMatcher) Type() engram.PatternType { return m.ptype }

func (m regexMatcher) Match(exp *engram.Experience) bool {
	combined := exp.Payload
	if len(exp.Tags) > 0 {
		combined += " " + strings.Join(exp.Tags, " ")
	}
	if len(combined) > maxMatchLength {
		combined = combined[:maxMatchLength]
	}
	return m.regex.MatchString(combined)
}

// builtinMatchers covers every capture kind. Observations count as
// discoveries: both record information rather than action.
func builtinMatchers() []Matcher {
	return []Matcher{
		kindMatcher{
			ptype: engram.PatternError,
			kinds: map[engram.ExperienceKind]bool{engram.KindError: true},
		},
		kindMatcher{
			ptype: engram.PatternDecision,
			kinds: map[engram.ExperienceKind]bool{engram.KindDecision: true},
		},
		kindMatcher{
			ptype: engram.PatternDiscovery,
			kinds: map[engram.ExperienceKind]bool{
				engram.KindDiscovery:   true,
				engram.KindObservation: true,
			},
		},
		kindMatcher{
			ptype: engram.PatternWorkflow,
			kinds: map[engram.ExperienceKind]bool{engram.KindAction: true},
		},
	}
}

// Registry holds the ordered matcher chain: custom rules first (file
// order), builtins last. First match wins.
type Registry struct {
	matchers []Matcher
}

// NewRegistry compiles the custom rules and appends the builtin
// matchers. Invalid rule patterns fail construction.
func NewRegistry(rules []Rule) (*Registry, error) {
	matchers := make([]Matcher, 0, len(rules)+4)
	for _, r := range rules {
		m, err := r.compile()
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	matchers = append(matchers, builtinMatchers()...)
	return &Registry{matchers: matchers}, nil
}

// Categorize returns the category of the first matching matcher. The
// builtin chain covers every kind, so every valid experience lands
// somewhere.
func (r *Registry) Categorize(exp *engram.Experience) engram.PatternType {
	for _, m := range r.matchers {
		if m.Match(exp) {
			return m.Type()
		}
	}
	return engram.PatternWorkflow
}
