package index

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/engramd/internal/config"
	"github.com/fyrsmithlabs/engramd/internal/engram"
)

// fakeEmbedder maps known texts to fixed unit vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return vec, nil
}

func newFakeEmbedder() fakeEmbedder {
	return fakeEmbedder{vectors: map[string][]float32{
		"restart the ingest workers": {1, 0, 0},
		"tune the database indexes":  {0, 1, 0},
		"workers keep restarting":    {1, 0, 0},
	}}
}

func pattern(t *testing.T, content string) *engram.ExtractedPattern {
	t.Helper()
	return engram.NewExtractedPattern("run-1", engram.PatternWorkflow, content, nil)
}

func TestNewChromemRequiresEmbedder(t *testing.T) {
	t.Parallel()

	_, err := NewChromem(config.Default().Index, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestChromemRecallRanksBySimilarity(t *testing.T) {
	t.Parallel()

	idx, err := NewChromem(config.Default().Index, newFakeEmbedder(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, idx.Close()) })

	workers := pattern(t, "restart the ingest workers")
	database := pattern(t, "tune the database indexes")
	require.NoError(t, idx.IndexPatterns(context.Background(), "run-1",
		[]*engram.ExtractedPattern{workers, database}))

	hits, err := idx.Recall(context.Background(), "workers keep restarting", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, workers.ID, hits[0].PatternID)
	assert.Equal(t, "restart the ingest workers", hits[0].Content)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-3)
}

func TestChromemRecallCapsK(t *testing.T) {
	t.Parallel()

	idx, err := NewChromem(config.Default().Index, newFakeEmbedder(), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, idx.IndexPatterns(context.Background(), "run-1",
		[]*engram.ExtractedPattern{
			pattern(t, "restart the ingest workers"),
			pattern(t, "tune the database indexes"),
		}))

	hits, err := idx.Recall(context.Background(), "workers keep restarting", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2, "k above the document count returns everything")
}

func TestChromemEmptyIndex(t *testing.T) {
	t.Parallel()

	idx, err := NewChromem(config.Default().Index, newFakeEmbedder(), zap.NewNop())
	require.NoError(t, err)

	hits, err := idx.Recall(context.Background(), "workers keep restarting", 3)
	require.NoError(t, err, "an empty index is a miss, not an error")
	assert.Empty(t, hits)

	assert.NoError(t, idx.IndexPatterns(context.Background(), "run-1", nil))
}

func TestChromemRejectsBadQueries(t *testing.T) {
	t.Parallel()

	idx, err := NewChromem(config.Default().Index, newFakeEmbedder(), zap.NewNop())
	require.NoError(t, err)

	_, err = idx.Recall(context.Background(), "", 3)
	assert.Error(t, err)

	_, err = idx.Recall(context.Background(), "workers keep restarting", 0)
	assert.Error(t, err)
}

func TestChromemPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	cfg := config.Default().Index
	cfg.Path = filepath.Join(t.TempDir(), "patterns")

	idx, err := NewChromem(cfg, newFakeEmbedder(), zap.NewNop())
	require.NoError(t, err)
	workers := pattern(t, "restart the ingest workers")
	require.NoError(t, idx.IndexPatterns(context.Background(), "run-1",
		[]*engram.ExtractedPattern{workers}))
	require.NoError(t, idx.Close())

	reopened, err := NewChromem(cfg, newFakeEmbedder(), zap.NewNop())
	require.NoError(t, err)
	hits, err := reopened.Recall(context.Background(), "workers keep restarting", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, workers.ID, hits[0].PatternID)
}
