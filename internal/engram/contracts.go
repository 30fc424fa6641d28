package engram

import "context"

// Store is the persistence contract the pipeline and scheduler depend
// on. Implementations must make PersistRun atomic: either the run, all
// rows it owns, and every status flip land together, or nothing does.
type Store interface {
	// AddExperience stores a captured experience.
	AddExperience(ctx context.Context, exp *Experience) error

	// GetExperience fetches one experience by ID.
	// Returns ErrExperienceNotFound if absent.
	GetExperience(ctx context.Context, id string) (*Experience, error)

	// GetUnconsolidatedExperiences returns the scope's unconsolidated
	// experiences whose timestamps fall inside the window.
	GetUnconsolidatedExperiences(ctx context.Context, scope string, window Window) ([]*Experience, error)

	// MaxAccessCount returns the highest access count observed for the
	// layer+scope, for frequency normalization. Zero when nothing is
	// stored yet.
	MaxAccessCount(ctx context.Context, layer Layer, scope string) (int, error)

	// PersistRun writes the run, its patterns, procedures, and feedback
	// rows, and flips every experience listed in consolidated/archived
	// to its final status, all-or-nothing.
	PersistRun(ctx context.Context, run *ConsolidationRun, patterns []*ExtractedPattern, procedures []*ExtractedProcedure, feedback []*FeedbackUpdate, consolidated, archived []string) error

	// MarkConsolidated flips the listed experiences to consolidated
	// outside a full run persist. Used by maintenance tooling.
	MarkConsolidated(ctx context.Context, ids []string) error

	// IsRunActive reports whether the scope has a non-terminal run.
	IsRunActive(ctx context.Context, scope string) (bool, error)

	// RecordRun upserts a run record in its current state. Called at
	// scheduling time (PENDING) and on terminal transitions, so a
	// run's final status is queryable even when it never persisted
	// output rows.
	RecordRun(ctx context.Context, run *ConsolidationRun) error

	// GetRun fetches one run by ID. Returns ErrRunNotFound if absent.
	GetRun(ctx context.Context, id string) (*ConsolidationRun, error)

	// ListRuns returns the scope's runs, newest first, up to limit.
	// Empty scope lists across all scopes.
	ListRuns(ctx context.Context, scope string, limit int) ([]*ConsolidationRun, error)

	// GetPendingFeedback returns unapplied feedback updates, optionally
	// filtered by target. Empty target returns all pending rows.
	GetPendingFeedback(ctx context.Context, target FeedbackTarget) ([]*FeedbackUpdate, error)

	// MarkApplied flags one feedback update as consumed.
	// Returns ErrFeedbackNotFound if absent.
	MarkApplied(ctx context.Context, id string) error

	// Close releases the store's resources.
	Close() error
}

// TextService provides embedding, similarity, and summarization.
//
// Every method is failable: callers fall back to lexical overlap (for
// similarity) or truncation (for summarize) and mark their output
// degraded rather than aborting. ErrServiceUnavailable signals the
// service is configured off or unreachable.
type TextService interface {
	// Embed returns a dense vector for the text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Similarity returns cosine similarity between the two texts'
	// embeddings, in [-1,1].
	Similarity(ctx context.Context, a, b string) (float64, error)

	// Summarize compresses text to roughly budgetTokens tokens.
	Summarize(ctx context.Context, text string, budgetTokens int) (string, error)
}

// PatternHit is one result from a pattern index recall.
type PatternHit struct {
	// PatternID identifies the matched pattern.
	PatternID string `json:"pattern_id"`

	// Content is the indexed pattern content.
	Content string `json:"content"`

	// Similarity is the match score in [0,1], highest first.
	Similarity float64 `json:"similarity"`
}

// PatternIndex is the retrieval surface over persisted patterns. The
// quality stage samples it to measure retrieval recall, and the query
// API exposes it to downstream consumers.
type PatternIndex interface {
	// IndexPatterns adds a run's patterns to the index.
	IndexPatterns(ctx context.Context, runID string, patterns []*ExtractedPattern) error

	// Recall returns up to k patterns most similar to the query.
	Recall(ctx context.Context, query string, k int) ([]PatternHit, error)

	// Close releases index resources.
	Close() error
}

// EventPublisher emits observability notices (working-set evictions,
// run lifecycle). Publishing is fire-and-forget: failures are logged
// by implementations, never surfaced to the hot path.
type EventPublisher interface {
	// Publish sends one notice on the subject. The payload must be
	// JSON-serializable.
	Publish(subject string, payload any) error

	// Close flushes and releases the publisher.
	Close() error
}

// Subjects for published notices.
const (
	SubjectEvicted      = "engramd.workingset.evicted"
	SubjectRunStarted   = "engramd.runs.started"
	SubjectRunCompleted = "engramd.runs.completed"
	SubjectRunFailed    = "engramd.runs.failed"
)
