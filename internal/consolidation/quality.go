package consolidation

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/engramd/internal/engram"
)

const (
	// Overall quality weighting.
	correctnessWeight = 0.7
	linkageWeight     = 0.3

	// recallTopK is how many hits a recall sample query inspects.
	recallTopK = 3
)

// qualityStage measures the run's output. A run that saw no
// experiences reports zero metrics; there is nothing to grade.
func (p *Pipeline) qualityStage(ctx context.Context, run *engram.ConsolidationRun, promoted []*engram.Experience, patterns []*engram.ExtractedPattern, procedures []*engram.ExtractedProcedure) (engram.QualityMetrics, bool) {
	if run.Counts.ExperiencesSeen == 0 {
		return engram.QualityMetrics{}, false
	}
	var q engram.QualityMetrics
	q.CorrectnessRate = p.correctnessRate(patterns, procedures)
	q.LinkageRate = linkageRate(run.Counts.ExperiencesSeen, patterns)
	q.CompressionRatio = compressionRatio(promoted, patterns, procedures)
	q.OverallQuality = correctnessWeight*q.CorrectnessRate + linkageWeight*q.LinkageRate
	recall, degraded := p.retrievalRecall(ctx, run.ID, patterns)
	q.RetrievalRecall = recall
	return q, degraded
}

// correctnessRate is the share of extracted records whose success rate
// clears min_success_rate. With no extracted records there is nothing
// to distrust and the rate is 1.
func (p *Pipeline) correctnessRate(patterns []*engram.ExtractedPattern, procedures []*engram.ExtractedProcedure) float64 {
	total := len(patterns) + len(procedures)
	if total == 0 {
		return 1
	}
	qualifying := 0
	for _, pat := range patterns {
		if pat.SuccessRate >= p.cfg.MinSuccessRate {
			qualifying++
		}
	}
	for _, proc := range procedures {
		if proc.SuccessRate >= p.cfg.MinSuccessRate {
			qualifying++
		}
	}
	return float64(qualifying) / float64(total)
}

// linkageRate is the share of processed experiences cited as a source
// by at least one pattern.
func linkageRate(seen int, patterns []*engram.ExtractedPattern) float64 {
	if seen == 0 {
		return 0
	}
	linked := make(map[string]struct{})
	for _, pat := range patterns {
		for _, id := range pat.SourceExperienceIDs {
			linked[id] = struct{}{}
		}
	}
	return float64(len(linked)) / float64(seen)
}

// compressionRatio is promoted payload bytes over durable output
// bytes. A run with no durable output reports zero.
func compressionRatio(promoted []*engram.Experience, patterns []*engram.ExtractedPattern, procedures []*engram.ExtractedProcedure) float64 {
	var pre, post int
	for _, exp := range promoted {
		pre += len(exp.Payload)
	}
	for _, pat := range patterns {
		post += len(pat.Content)
	}
	for _, proc := range procedures {
		post += len(proc.Name)
		for _, step := range proc.Steps {
			post += len(step)
		}
	}
	if post == 0 {
		return 0
	}
	return float64(pre) / float64(post)
}

// retrievalRecall indexes the run's patterns and samples up to
// recall_sample_size of them back through the index. A pattern counts
// as recalled when a query for its own content returns its ID among
// the top hits. Index failures degrade the run to zero recall instead
// of failing the stage; the index is advisory and rebuildable.
func (p *Pipeline) retrievalRecall(ctx context.Context, runID string, patterns []*engram.ExtractedPattern) (float64, bool) {
	if p.index == nil || len(patterns) == 0 {
		return 0, false
	}
	if err := p.index.IndexPatterns(ctx, runID, patterns); err != nil {
		p.logger.Warn("failed to index patterns, skipping recall sample",
			zap.String("run_id", runID), zap.Error(err))
		return 0, true
	}
	sample := patterns
	if len(sample) > p.cfg.RecallSampleSize {
		sample = sample[:p.cfg.RecallSampleSize]
	}
	found := 0
	degraded := false
	for _, pat := range sample {
		hits, err := p.index.Recall(ctx, pat.Content, recallTopK)
		if err != nil {
			p.logger.Warn("recall sample query failed",
				zap.String("pattern_id", pat.ID), zap.Error(err))
			degraded = true
			continue
		}
		for _, hit := range hits {
			if hit.PatternID == pat.ID {
				found++
				break
			}
		}
	}
	return float64(found) / float64(len(sample)), degraded
}
