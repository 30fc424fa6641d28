// Package saliency scores experiences for attentional importance and
// classifies the resulting scores into focus tiers.
//
// Scoring is fail-soft: a component that cannot be computed (missing
// data, text service failure) contributes its documented fallback
// value instead of aborting, so a single bad item never stops a
// ranking pass or a consolidation run.
package saliency

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/engramd/internal/config"
	"github.com/fyrsmithlabs/engramd/internal/engram"
	"github.com/fyrsmithlabs/engramd/internal/textsvc"
)

// neutral is the substitute value for a component that could not be
// computed.
const neutral = 0.5

// SimilarityService is the slice of the text service the scorer needs.
type SimilarityService interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// Scorer computes composite saliency scores.
//
// Thread safety: Scorer is immutable after construction and safe for
// concurrent use. Per-pass mutable state (frequency normalization)
// lives in the Stats instance supplied through ScoreOptions.
type Scorer struct {
	cfg    config.SaliencyConfig
	text   SimilarityService
	logger *zap.Logger
}

// NewScorer creates a scorer.
//
// text may be nil; relevance and surprise then use the lexical
// fallback for goal and context-window comparisons.
func NewScorer(cfg config.SaliencyConfig, text SimilarityService, logger *zap.Logger) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{
		cfg:    cfg,
		text:   text,
		logger: logger.Named("saliency"),
	}, nil
}

// ScoreOptions carries the evaluation context for one Score call.
type ScoreOptions struct {
	// Goal is the current task description; empty disables the
	// goal-similarity relevance path.
	Goal string

	// ContextWindow holds the payloads currently in context; empty
	// zeroes the surprise component.
	ContextWindow []string

	// Stats supplies frequency normalization for this pass. Nil makes
	// the frequency component neutral.
	Stats *Stats

	// Now anchors the recency computation; zero means time.Now.
	Now time.Time
}

// Score evaluates one experience against a layer.
//
// The composite is the configured weighted sum of frequency, recency,
// relevance, and surprise, clamped to [0,1]. Score never fails: each
// component degrades independently per the fallback rules.
func (s *Scorer) Score(ctx context.Context, exp *engram.Experience, layer engram.Layer, opts ScoreOptions) engram.SaliencyScore {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	score := engram.SaliencyScore{
		ItemRef: exp.ID,
		Layer:   layer,
	}

	score.Frequency = s.frequencyComponent(exp, layer, opts.Stats)
	score.Recency = s.recencyComponent(exp, now)

	var degraded bool
	score.Relevance, degraded = s.relevanceComponent(ctx, exp, opts.Goal)
	score.Degraded = degraded

	score.Surprise, degraded = s.surpriseComponent(ctx, exp, opts.ContextWindow)
	score.Degraded = score.Degraded || degraded

	score.Composite = clamp01(s.cfg.WeightFrequency*score.Frequency +
		s.cfg.WeightRecency*score.Recency +
		s.cfg.WeightRelevance*score.Relevance +
		s.cfg.WeightSurprise*score.Surprise)

	return score
}

// frequencyComponent normalizes the item's access count against the
// maximum observed for the same layer+scope. Unknown layers score
// neutral.
func (s *Scorer) frequencyComponent(exp *engram.Experience, layer engram.Layer, stats *Stats) float64 {
	if !engram.ValidLayer(layer) {
		return neutral
	}
	if stats == nil {
		return neutral
	}
	max, ok := stats.Max(layer, exp.Scope)
	if !ok || max <= 0 {
		return 0.0
	}
	return clamp01(float64(exp.AccessCount) / float64(max))
}

// recencyComponent decays exponentially with age: 0.5 at one
// half-life. Missing timestamps score neutral; future timestamps
// clamp to a zero age.
func (s *Scorer) recencyComponent(exp *engram.Experience, now time.Time) float64 {
	if exp.Timestamp.IsZero() {
		return neutral
	}
	ageDays := now.Sub(exp.Timestamp).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return clamp01(math.Exp(-math.Ln2 * ageDays / s.cfg.RecencyHalfLifeDays))
}

// relevanceComponent prefers goal similarity, then the item's stored
// usefulness, then neutral. A text-service failure drops to the
// lexical overlap fallback and reports degraded.
func (s *Scorer) relevanceComponent(ctx context.Context, exp *engram.Experience, goal string) (float64, bool) {
	if goal == "" {
		if exp.Usefulness != nil {
			return clamp01(*exp.Usefulness), false
		}
		return neutral, false
	}

	sim, degraded := s.similarity(ctx, exp.Payload, goal)
	return sim, degraded
}

// surpriseComponent is the novelty bonus: 1 − max similarity against
// the context window, zero when no window is given.
func (s *Scorer) surpriseComponent(ctx context.Context, exp *engram.Experience, window []string) (float64, bool) {
	if len(window) == 0 {
		return 0.0, false
	}

	var maxSim float64
	var degraded bool
	for _, other := range window {
		sim, d := s.similarity(ctx, exp.Payload, other)
		degraded = degraded || d
		if sim > maxSim {
			maxSim = sim
		}
	}
	return clamp01(1 - maxSim), degraded
}

// similarity compares two texts in [0,1]: text-service cosine rescaled
// from [-1,1], or the lexical fallback when the service is absent or
// failing.
func (s *Scorer) similarity(ctx context.Context, a, b string) (sim float64, degraded bool) {
	if s.text != nil {
		cos, err := s.text.Similarity(ctx, a, b)
		if err == nil {
			return clamp01((cos + 1) / 2), false
		}
		s.logger.Debug("text service similarity failed, using lexical fallback", zap.Error(err))
	}
	return textsvc.LexicalSimilarity(a, b), s.text != nil
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
