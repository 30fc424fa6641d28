package consolidation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/engramd/internal/engram"
	"github.com/fyrsmithlabs/engramd/internal/store"
)

func newQualityRun(t *testing.T, seen int) *engram.ConsolidationRun {
	t.Helper()
	run, err := engram.NewConsolidationRun("proj-demo", engram.LastDays(time.Now().UTC(), 7), engram.StrategyBalanced)
	require.NoError(t, err)
	run.Counts.ExperiencesSeen = seen
	return run
}

func TestQualityStageZeroSeen(t *testing.T) {
	t.Parallel()

	pipeline := newTestPipeline(t, store.NewMemory(), nil, nil, nil)
	q, degraded := pipeline.qualityStage(context.Background(), newQualityRun(t, 0), nil, nil, nil)
	assert.Equal(t, engram.QualityMetrics{}, q)
	assert.False(t, degraded)
}

func TestQualityStageRates(t *testing.T) {
	t.Parallel()

	strong := engram.NewExtractedPattern("run-1", engram.PatternWorkflow, "retry with backoff", []string{"e1", "e2"})
	strong.SuccessRate = 0.95
	weak := engram.NewExtractedPattern("run-1", engram.PatternError, "flaky dns lookups", []string{"e2", "e3"})
	weak.SuccessRate = 0.5
	proc := engram.NewExtractedProcedure("run-1", "retry upload", []string{"retry", "verify"}, 0.8)

	pipeline := newTestPipeline(t, store.NewMemory(), nil, nil, nil)
	q, degraded := pipeline.qualityStage(context.Background(), newQualityRun(t, 4), nil,
		[]*engram.ExtractedPattern{strong, weak}, []*engram.ExtractedProcedure{proc})
	assert.False(t, degraded)
	assert.InDelta(t, 2.0/3.0, q.CorrectnessRate, 1e-9, "the 0.5 pattern misses the 0.6 bar")
	assert.InDelta(t, 3.0/4.0, q.LinkageRate, 1e-9, "three distinct sources over four seen")
	assert.InDelta(t, 0.7*(2.0/3.0)+0.3*0.75, q.OverallQuality, 1e-9)
}

func TestQualityStageVacuousCorrectness(t *testing.T) {
	t.Parallel()

	pipeline := newTestPipeline(t, store.NewMemory(), nil, nil, nil)
	q, degraded := pipeline.qualityStage(context.Background(), newQualityRun(t, 3), nil, nil, nil)
	assert.False(t, degraded)
	assert.InDelta(t, 1.0, q.CorrectnessRate, 1e-9, "no extracted records means nothing to distrust")
	assert.InDelta(t, 0.0, q.LinkageRate, 1e-9)
	assert.InDelta(t, 0.7, q.OverallQuality, 1e-9)
}

func TestCompressionRatio(t *testing.T) {
	t.Parallel()

	promoted := []*engram.Experience{
		{Payload: "abcdefgh"},
		{Payload: "ijklmnop"},
	}
	pattern := engram.NewExtractedPattern("run-1", engram.PatternWorkflow, "abcd", []string{"e1"})
	proc := engram.NewExtractedProcedure("run-1", "xy", []string{"a", "b"}, 1.0)

	ratio := compressionRatio(promoted, []*engram.ExtractedPattern{pattern}, []*engram.ExtractedProcedure{proc})
	assert.InDelta(t, 2.0, ratio, 1e-9, "16 payload bytes over 8 output bytes")

	assert.InDelta(t, 0.0, compressionRatio(promoted, nil, nil), 1e-9, "no durable output reports zero")
}

func TestRetrievalRecall(t *testing.T) {
	t.Parallel()

	newPatterns := func(n int) []*engram.ExtractedPattern {
		patterns := make([]*engram.ExtractedPattern, n)
		for i := range patterns {
			patterns[i] = engram.NewExtractedPattern("run-1", engram.PatternWorkflow,
				"pattern content "+string(rune('a'+i)), []string{"e1", "e2"})
		}
		return patterns
	}

	t.Run("indexed_patterns_recall_fully", func(t *testing.T) {
		t.Parallel()
		index := &fakeIndex{}
		pipeline := newTestPipeline(t, store.NewMemory(), nil, index, nil)
		recall, degraded := pipeline.retrievalRecall(context.Background(), "run-1", newPatterns(2))
		assert.InDelta(t, 1.0, recall, 1e-9)
		assert.False(t, degraded)
	})

	t.Run("sample_is_capped", func(t *testing.T) {
		t.Parallel()
		index := &fakeIndex{}
		pipeline := newTestPipeline(t, store.NewMemory(), nil, index, nil)
		recall, degraded := pipeline.retrievalRecall(context.Background(), "run-1", newPatterns(7))
		assert.InDelta(t, 1.0, recall, 1e-9)
		assert.False(t, degraded)
		assert.Equal(t, 5, index.recallCalls, "only recall_sample_size patterns are queried")
	})

	t.Run("index_write_failure_degrades", func(t *testing.T) {
		t.Parallel()
		index := &fakeIndex{indexErr: errors.New("index down")}
		pipeline := newTestPipeline(t, store.NewMemory(), nil, index, nil)
		recall, degraded := pipeline.retrievalRecall(context.Background(), "run-1", newPatterns(2))
		assert.InDelta(t, 0.0, recall, 1e-9)
		assert.True(t, degraded)
	})

	t.Run("recall_query_failure_degrades", func(t *testing.T) {
		t.Parallel()
		index := &fakeIndex{recallErr: errors.New("query down")}
		pipeline := newTestPipeline(t, store.NewMemory(), nil, index, nil)
		recall, degraded := pipeline.retrievalRecall(context.Background(), "run-1", newPatterns(2))
		assert.InDelta(t, 0.0, recall, 1e-9)
		assert.True(t, degraded)
	})

	t.Run("no_index_is_silent", func(t *testing.T) {
		t.Parallel()
		pipeline := newTestPipeline(t, store.NewMemory(), nil, nil, nil)
		recall, degraded := pipeline.retrievalRecall(context.Background(), "run-1", newPatterns(2))
		assert.InDelta(t, 0.0, recall, 1e-9)
		assert.False(t, degraded, "an unconfigured index is not degradation")
	})
}
