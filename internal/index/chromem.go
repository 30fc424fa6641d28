// Package index implements the pattern retrieval surface on
// chromem-go, an embedded pure-Go vector database. The index holds
// pattern content keyed by pattern ID; the quality stage samples it
// for recall measurement and the query API serves it to consumers.
package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/engramd/internal/config"
	"github.com/fyrsmithlabs/engramd/internal/engram"
)

// addConcurrency bounds chromem's embedding fan-out per batch.
const addConcurrency = 4

// Embedder is the embedding slice of the text service.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Chromem is a PatternIndex backed by chromem-go: in-memory by
// default, persisted to gob files when a path is configured.
type Chromem struct {
	db         *chromem.DB
	collection string
	embed      chromem.EmbeddingFunc
	logger     *zap.Logger
}

var _ engram.PatternIndex = (*Chromem)(nil)

// NewChromem creates the index. The embedder is required; deployments
// without one run with no index at all and skip recall measurement.
func NewChromem(cfg config.IndexConfig, embedder Embedder, logger *zap.Logger) (*Chromem, error) {
	if embedder == nil {
		return nil, errors.New("pattern index requires an embedder")
	}
	if cfg.Collection == "" {
		return nil, errors.New("pattern index requires a collection name")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("index")

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := config.ExpandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve index path: %w", err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open pattern index: %w", err)
		}
	}

	// Create the collection up front so recall against a fresh index
	// is a miss, not an error.
	if _, err := db.GetOrCreateCollection(cfg.Collection, nil, embed); err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", cfg.Collection, err)
	}

	logger.Info("opened pattern index",
		zap.String("collection", cfg.Collection),
		zap.Bool("persistent", cfg.Path != ""))

	return &Chromem{
		db:         db,
		collection: cfg.Collection,
		embed:      embed,
		logger:     logger,
	}, nil
}

// IndexPatterns adds the run's patterns to the collection. Pattern IDs
// are the document IDs, so re-indexing a run overwrites rather than
// duplicates.
func (c *Chromem) IndexPatterns(ctx context.Context, runID string, patterns []*engram.ExtractedPattern) error {
	if len(patterns) == 0 {
		return nil
	}
	collection, err := c.db.GetOrCreateCollection(c.collection, nil, c.embed)
	if err != nil {
		return fmt.Errorf("failed to open collection %s: %w", c.collection, err)
	}

	docs := make([]chromem.Document, 0, len(patterns))
	for _, pattern := range patterns {
		docs = append(docs, chromem.Document{
			ID:      pattern.ID,
			Content: pattern.Content,
			Metadata: map[string]string{
				"run_id":       runID,
				"pattern_type": string(pattern.Type),
				"anti_pattern": strconv.FormatBool(pattern.AntiPattern),
			},
		})
	}
	if err := collection.AddDocuments(ctx, docs, addConcurrency); err != nil {
		return fmt.Errorf("failed to index patterns: %w", err)
	}

	c.logger.Debug("indexed patterns",
		zap.String("run_id", runID),
		zap.Int("count", len(docs)))
	return nil
}

// Recall returns up to k patterns most similar to the query, highest
// similarity first. An empty index yields no hits.
func (c *Chromem) Recall(ctx context.Context, query string, k int) ([]engram.PatternHit, error) {
	if query == "" {
		return nil, errors.New("query cannot be empty")
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	collection := c.db.GetCollection(c.collection, c.embed)
	if collection == nil {
		return nil, nil
	}
	count := collection.Count()
	if count == 0 {
		return nil, nil
	}
	// chromem rejects k above the document count.
	if k > count {
		k = count
	}

	results, err := collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query pattern index: %w", err)
	}

	hits := make([]engram.PatternHit, len(results))
	for i, r := range results {
		hits[i] = engram.PatternHit{
			PatternID:  r.ID,
			Content:    r.Content,
			Similarity: float64(r.Similarity),
		}
	}
	return hits, nil
}

// Close releases the index. chromem flushes on every mutation, so
// there is nothing to sync here.
func (c *Chromem) Close() error {
	return nil
}
