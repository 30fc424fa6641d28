package engram

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Strategy scales how aggressively a consolidation run prunes and
// extracts. Conservative raises the pruning bar and minimum frequency;
// aggressive lowers them.
type Strategy string

const (
	StrategyConservative Strategy = "conservative"
	StrategyBalanced     Strategy = "balanced"
	StrategyAggressive   Strategy = "aggressive"
)

// ValidStrategy reports whether s names a known strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyConservative, StrategyBalanced, StrategyAggressive:
		return true
	}
	return false
}

// RunStatus is one state of the consolidation pipeline state machine.
//
// Runs advance PENDING → SCORING → PRUNING → PATTERN_EXTRACTION →
// PROCEDURE_EXTRACTION → ANOMALY_DETECTION → QUALITY_SCORING →
// PERSISTING → COMPLETED. Any non-terminal state may transition to
// FAILED or CANCELLED. Everything before PERSISTING is in-memory, so a
// run that dies earlier leaves storage untouched.
type RunStatus string

const (
	RunPending             RunStatus = "PENDING"
	RunScoring             RunStatus = "SCORING"
	RunPruning             RunStatus = "PRUNING"
	RunPatternExtraction   RunStatus = "PATTERN_EXTRACTION"
	RunProcedureExtraction RunStatus = "PROCEDURE_EXTRACTION"
	RunAnomalyDetection    RunStatus = "ANOMALY_DETECTION"
	RunQualityScoring      RunStatus = "QUALITY_SCORING"
	RunPersisting          RunStatus = "PERSISTING"
	RunCompleted           RunStatus = "COMPLETED"
	RunFailed              RunStatus = "FAILED"
	RunCancelled           RunStatus = "CANCELLED"
)

// ErrInvalidTransition is returned when a run is asked to move to a
// state its current state does not permit.
var ErrInvalidTransition = errors.New("invalid run status transition")

// nextStage maps each pipeline state to its successor on the happy path.
var nextStage = map[RunStatus]RunStatus{
	RunPending:             RunScoring,
	RunScoring:             RunPruning,
	RunPruning:             RunPatternExtraction,
	RunPatternExtraction:   RunProcedureExtraction,
	RunProcedureExtraction: RunAnomalyDetection,
	RunAnomalyDetection:    RunQualityScoring,
	RunQualityScoring:      RunPersisting,
	RunPersisting:          RunCompleted,
}

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is legal: the
// happy-path successor, or FAILED/CANCELLED from any non-terminal state.
func (s RunStatus) CanTransition(next RunStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == RunFailed || next == RunCancelled {
		return true
	}
	return nextStage[s] == next
}

// RunCounts aggregates how many records a run touched.
type RunCounts struct {
	// ExperiencesSeen is how many unconsolidated experiences the run pulled.
	ExperiencesSeen int `json:"experiences_seen"`

	// ExperiencesPruned is how many were archived below the pruning bar.
	ExperiencesPruned int `json:"experiences_pruned"`

	// ExperiencesPromoted is how many ended consolidated.
	ExperiencesPromoted int `json:"experiences_promoted"`

	// Patterns, Procedures, and Feedback count the durable rows created.
	Patterns   int `json:"patterns"`
	Procedures int `json:"procedures"`
	Feedback   int `json:"feedback"`
}

// QualityMetrics summarizes how trustworthy a run's output is.
type QualityMetrics struct {
	// OverallQuality is 0.7·correctness_rate + 0.3·linkage_rate.
	OverallQuality float64 `json:"overall_quality"`

	// CorrectnessRate is the share of extracted records whose source
	// experiences carry success outcomes.
	CorrectnessRate float64 `json:"correctness_rate"`

	// LinkageRate is linked_outcomes / total_traces: the share of
	// processed experiences that ended up cited by some pattern or
	// procedure.
	LinkageRate float64 `json:"linkage_rate"`

	// CompressionRatio is pre-size / post-size of the promoted content.
	CompressionRatio float64 `json:"compression_ratio"`

	// RetrievalRecall is the sampled fraction of extracted patterns
	// findable again through the pattern index.
	RetrievalRecall float64 `json:"retrieval_recall"`
}

// ConsolidationRun is one execution of the batch pipeline over a scope
// and time window.
type ConsolidationRun struct {
	// ID is the unique run identifier (UUID).
	ID string `json:"id"`

	// Scope is the isolation unit the run consolidates.
	Scope string `json:"scope"`

	// Window is the capture interval the run covers.
	Window Window `json:"window"`

	// Strategy is the threshold profile the run used.
	Strategy Strategy `json:"strategy"`

	// Status is the current state-machine position.
	Status RunStatus `json:"status"`

	// Reason carries the human-readable explanation for FAILED or
	// CANCELLED terminal states ("timeout", "persist: ...").
	Reason string `json:"reason,omitempty"`

	// Degraded is set when a collaborator failure forced fallback
	// behavior; callers decide whether to trust degraded output.
	Degraded bool `json:"degraded"`

	// Counts aggregates the records the run touched.
	Counts RunCounts `json:"counts"`

	// Quality summarizes output trustworthiness; zero until the
	// QUALITY_SCORING stage runs.
	Quality QualityMetrics `json:"quality"`

	// StartedAt and FinishedAt bound the run's execution.
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewConsolidationRun creates a PENDING run for the scope and window.
func NewConsolidationRun(scope string, window Window, strategy Strategy) (*ConsolidationRun, error) {
	if scope == "" {
		return nil, ErrEmptyScope
	}
	if !ValidStrategy(strategy) {
		return nil, fmt.Errorf("invalid strategy %q", strategy)
	}
	return &ConsolidationRun{
		ID:        uuid.New().String(),
		Scope:     scope,
		Window:    window,
		Strategy:  strategy,
		Status:    RunPending,
		StartedAt: time.Now().UTC(),
	}, nil
}

// Transition moves the run to next, enforcing the state machine.
func (r *ConsolidationRun) Transition(next RunStatus) error {
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	if next.Terminal() {
		now := time.Now().UTC()
		r.FinishedAt = &now
	}
	return nil
}

// Fail marks the run FAILED with a reason, ignoring transition errors
// from already-terminal states.
func (r *ConsolidationRun) Fail(reason string) {
	if r.Status.Terminal() {
		return
	}
	r.Reason = reason
	_ = r.Transition(RunFailed)
}

// Cancel marks the run CANCELLED with a reason.
func (r *ConsolidationRun) Cancel(reason string) {
	if r.Status.Terminal() {
		return
	}
	r.Reason = reason
	_ = r.Transition(RunCancelled)
}
