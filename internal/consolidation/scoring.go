package consolidation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/engramd/internal/engram"
	"github.com/fyrsmithlabs/engramd/internal/saliency"
)

type scoredExperience struct {
	exp   *engram.Experience
	score engram.SaliencyScore
}

// scoreStage scores the batch on a bounded worker pool and reports
// whether any item degraded. Frequency stats are seeded from the
// store's historical maximum so a uniformly quiet batch does not score
// itself against zero.
func (p *Pipeline) scoreStage(ctx context.Context, scope string, experiences []*engram.Experience, now time.Time) ([]scoredExperience, bool) {
	if len(experiences) == 0 {
		return nil, false
	}

	stats := saliency.NewStats()
	defer stats.Clear()
	if max, err := p.store.MaxAccessCount(ctx, engram.LayerSession, scope); err != nil {
		p.logger.Warn("failed to seed access stats, normalizing against the batch",
			zap.String("scope", scope), zap.Error(err))
	} else {
		stats.Observe(engram.LayerSession, scope, max)
	}
	for _, exp := range experiences {
		stats.Observe(engram.LayerSession, exp.Scope, exp.AccessCount)
	}

	results := make([]scoredExperience, len(experiences))
	sem := make(chan struct{}, p.cfg.ScoringWorkers)
	var wg sync.WaitGroup
	for i, exp := range experiences {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = scoredExperience{exp: exp, score: p.scoreOne(ctx, exp, stats, now)}
		}()
	}
	wg.Wait()
	ScoredTotal.Add(float64(len(experiences)))

	degraded := false
	for _, r := range results {
		degraded = degraded || r.score.Degraded
	}
	return results, degraded
}

// scoreOne scores a single experience under the per-item timeout. A
// panic in scoring costs that item its real score, not the run: it is
// logged and the item carries a neutral degraded score instead.
func (p *Pipeline) scoreOne(ctx context.Context, exp *engram.Experience, stats *saliency.Stats, now time.Time) (score engram.SaliencyScore) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("scoring panicked, using neutral score",
				zap.String("experience_id", exp.ID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			score = neutralScore(exp)
		}
	}()
	itemCtx, cancel := context.WithTimeout(ctx, p.cfg.ItemTimeout.Duration())
	defer cancel()
	return p.scorer.Score(itemCtx, exp, engram.LayerSession, saliency.ScoreOptions{Stats: stats, Now: now})
}

func neutralScore(exp *engram.Experience) engram.SaliencyScore {
	return engram.SaliencyScore{
		ItemRef:   exp.ID,
		Layer:     engram.LayerSession,
		Frequency: 0.5,
		Recency:   0.5,
		Relevance: 0.5,
		Surprise:  0.5,
		Composite: 0.5,
		Degraded:  true,
	}
}

// pruneStage splits the scored batch at the strategy's saliency bar.
// Archived experiences keep their records but are excluded from
// extraction; their status flips at persist time.
func pruneStage(scored []scoredExperience, threshold float64) (kept []scoredExperience, archivedIDs []string) {
	for _, s := range scored {
		if s.score.Composite < threshold {
			archivedIDs = append(archivedIDs, s.exp.ID)
			continue
		}
		kept = append(kept, s)
	}
	return kept, archivedIDs
}
