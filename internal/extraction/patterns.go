package extraction

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/engramd/internal/config"
	"github.com/fyrsmithlabs/engramd/internal/engram"
	"github.com/fyrsmithlabs/engramd/internal/textsvc"
)

// TextOps is the slice of the text service the extractor needs.
type TextOps interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
	Summarize(ctx context.Context, text string, budgetTokens int) (string, error)
}

// PatternExtractor groups experiences into recurring patterns: each
// experience is categorized through the matcher registry, then
// clustered within its category by payload similarity. A cluster that
// reaches min_frequency becomes a pattern.
//
// Extraction is fail-soft the same way scoring is: a text service
// failure falls back to lexical similarity and truncation, flagged
// through the Degraded result field instead of aborting.
type PatternExtractor struct {
	cfg      config.ConsolidationConfig
	registry *Registry
	text     TextOps
	logger   *zap.Logger
}

// NewPatternExtractor creates a pattern extractor.
//
// registry may be nil; the builtin matcher chain is used then. text
// may be nil; clustering and summaries then use the lexical fallbacks.
func NewPatternExtractor(cfg config.ConsolidationConfig, registry *Registry, text TextOps, logger *zap.Logger) (*PatternExtractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = &Registry{matchers: builtinMatchers()}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatternExtractor{
		cfg:      cfg,
		registry: registry,
		text:     text,
		logger:   logger.Named("extraction"),
	}, nil
}

// PatternResult is the output of one extraction pass.
type PatternResult struct {
	// Patterns is ordered by occurrence count, then success rate.
	Patterns []*engram.ExtractedPattern

	// Degraded reports that a configured text service failed at least
	// once and a lexical fallback filled in.
	Degraded bool
}

// Extract categorizes and clusters the experiences and emits a pattern
// for every cluster of at least min_frequency members.
//
// The input order is preserved inside clusters, so source experience
// IDs follow the caller's ordering (oldest first when the experiences
// come from a window query).
func (e *PatternExtractor) Extract(ctx context.Context, runID string, experiences []*engram.Experience) (PatternResult, error) {
	groups := make(map[engram.PatternType][]*engram.Experience)
	var order []engram.PatternType
	for _, exp := range experiences {
		ptype := e.registry.Categorize(exp)
		if _, seen := groups[ptype]; !seen {
			order = append(order, ptype)
		}
		groups[ptype] = append(groups[ptype], exp)
	}

	var result PatternResult
	for _, ptype := range order {
		if err := ctx.Err(); err != nil {
			return PatternResult{}, err
		}
		clusters, degraded := e.cluster(ctx, groups[ptype])
		result.Degraded = result.Degraded || degraded

		for _, members := range clusters {
			if len(members) < e.cfg.MinFrequency {
				continue
			}
			pattern, degraded := e.buildPattern(ctx, runID, ptype, members)
			result.Degraded = result.Degraded || degraded
			result.Patterns = append(result.Patterns, pattern)
		}
	}

	sort.SliceStable(result.Patterns, func(i, j int) bool {
		a, b := result.Patterns[i], result.Patterns[j]
		if a.OccurrenceCount != b.OccurrenceCount {
			return a.OccurrenceCount > b.OccurrenceCount
		}
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		return a.Content < b.Content
	})

	e.logger.Debug("extracted patterns",
		zap.String("run_id", runID),
		zap.Int("experiences", len(experiences)),
		zap.Int("patterns", len(result.Patterns)))
	return result, nil
}

// cluster greedily groups experiences by pairwise payload similarity.
// Each unclustered experience anchors a new group and sweeps the rest;
// members at or above similarity_threshold join and are taken out of
// circulation.
func (e *PatternExtractor) cluster(ctx context.Context, experiences []*engram.Experience) ([][]*engram.Experience, bool) {
	clustered := make([]bool, len(experiences))
	var clusters [][]*engram.Experience
	var degraded bool

	for i := range experiences {
		if clustered[i] {
			continue
		}
		members := []*engram.Experience{experiences[i]}
		clustered[i] = true

		for j := i + 1; j < len(experiences); j++ {
			if clustered[j] {
				continue
			}
			sim, d := e.similarity(ctx, experiences[i].Payload, experiences[j].Payload)
			degraded = degraded || d
			if sim >= e.cfg.SimilarityThreshold {
				members = append(members, experiences[j])
				clustered[j] = true
			}
		}
		clusters = append(clusters, members)
	}
	return clusters, degraded
}

// buildPattern summarizes the cluster payloads into pattern content and
// computes confidence and success rate.
func (e *PatternExtractor) buildPattern(ctx context.Context, runID string, ptype engram.PatternType, members []*engram.Experience) (*engram.ExtractedPattern, bool) {
	ids := make([]string, len(members))
	payloads := make([]string, len(members))
	for i, exp := range members {
		ids[i] = exp.ID
		payloads[i] = exp.Payload
	}

	content, degraded := e.summarize(ctx, strings.Join(payloads, "\n"))
	pattern := engram.NewExtractedPattern(runID, ptype, content, ids)
	pattern.Confidence = e.confidence(len(members))
	pattern.SuccessRate = SuccessRate(members)
	return pattern, degraded
}

// confidence grows linearly with occurrence count:
// clamp(base + increment·(count−1), 0, cap).
func (e *PatternExtractor) confidence(count int) float64 {
	c := e.cfg.ConfidenceBase + e.cfg.ConfidenceIncrement*float64(count-1)
	if c < 0 {
		return 0
	}
	if c > e.cfg.ConfidenceCap {
		return e.cfg.ConfidenceCap
	}
	return c
}

// similarity compares two payloads in [0,1]: text-service cosine
// rescaled from [-1,1], or the lexical fallback when the service is
// absent or failing.
func (e *PatternExtractor) similarity(ctx context.Context, a, b string) (sim float64, degraded bool) {
	if e.text != nil {
		cos, err := e.text.Similarity(ctx, a, b)
		if err == nil {
			return clamp01((cos + 1) / 2), false
		}
		e.logger.Debug("text service similarity failed, using lexical fallback", zap.Error(err))
	}
	return textsvc.LexicalSimilarity(a, b), e.text != nil
}

// summarize condenses the joined cluster payloads into the pattern
// content, truncating to the summary budget when the service is absent
// or failing.
func (e *PatternExtractor) summarize(ctx context.Context, text string) (string, bool) {
	if e.text != nil {
		summary, err := e.text.Summarize(ctx, text, e.cfg.SummaryBudgetTokens)
		if err == nil {
			return summary, false
		}
		e.logger.Debug("text service summarize failed, truncating instead", zap.Error(err))
	}
	return textsvc.Truncate(text, e.cfg.SummaryBudgetTokens), e.text != nil
}

// SuccessRate is the success share over measurable outcomes. A group
// with only neutral outcomes has no failures on record and scores 1.
func SuccessRate(experiences []*engram.Experience) float64 {
	var successes, measurable int
	for _, exp := range experiences {
		switch exp.Outcome {
		case engram.OutcomeSuccess:
			successes++
			measurable++
		case engram.OutcomeFailure:
			measurable++
		}
	}
	if measurable == 0 {
		return 1
	}
	return float64(successes) / float64(measurable)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
