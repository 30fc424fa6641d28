package engram

import (
	"time"

	"github.com/google/uuid"
)

// PatternType names the category a pattern was extracted under.
// Builtin types cover the capture kinds; custom matcher rules may add
// their own.
type PatternType string

const (
	PatternDiscovery PatternType = "discovery"
	PatternDecision  PatternType = "decision"
	PatternError     PatternType = "error"
	PatternWorkflow  PatternType = "workflow"
)

// Severity grades an anomaly flag.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ExtractedPattern is a recurring regularity found across enough
// experiences in one run. Patterns are immutable once persisted; a
// later run observing the same regularity emits a new pattern row.
type ExtractedPattern struct {
	// ID is the unique pattern identifier (UUID).
	ID string `json:"id"`

	// RunID links the pattern to the run that created it.
	RunID string `json:"run_id"`

	// Type is the category the matcher registry assigned.
	Type PatternType `json:"pattern_type"`

	// Content is the summarized description of the regularity.
	Content string `json:"content"`

	// OccurrenceCount is how many source experiences exhibit the pattern.
	OccurrenceCount int `json:"occurrence_count"`

	// Confidence grows with occurrence count:
	// clamp(base + increment·(count−1), 0, cap).
	Confidence float64 `json:"confidence"`

	// SuccessRate is the share of source experiences with success
	// outcomes, over those with measurable outcomes.
	SuccessRate float64 `json:"success_rate"`

	// SourceExperienceIDs cites the experiences the pattern came from.
	SourceExperienceIDs []string `json:"source_experience_ids"`

	// AntiPattern is set by anomaly detection when the success rate
	// falls below the acceptability threshold.
	AntiPattern bool `json:"anti_pattern,omitempty"`

	// AntiPatternSeverity grades a flagged anti-pattern.
	AntiPatternSeverity Severity `json:"anti_pattern_severity,omitempty"`

	// HighVariance is set when a well-used pattern shows unstable outcomes.
	HighVariance bool `json:"high_variance,omitempty"`

	// CreatedAt is when the run emitted the pattern.
	CreatedAt time.Time `json:"created_at"`
}

// NewExtractedPattern creates a pattern row owned by runID.
func NewExtractedPattern(runID string, ptype PatternType, content string, sourceIDs []string) *ExtractedPattern {
	return &ExtractedPattern{
		ID:                  uuid.New().String(),
		RunID:               runID,
		Type:                ptype,
		Content:             content,
		OccurrenceCount:     len(sourceIDs),
		SourceExperienceIDs: sourceIDs,
		CreatedAt:           time.Now().UTC(),
	}
}

// ProcedureStatus tracks whether a procedure is still a candidate or
// has been promoted by a downstream consumer.
type ProcedureStatus string

const (
	ProcedureCandidate ProcedureStatus = "candidate"
	ProcedureCreated   ProcedureStatus = "created"
)

// ExtractedProcedure is a repeatable, evaluated action sequence
// distilled from successful experiences. Runs create procedures as
// candidates; promotion to created is a downstream decision.
type ExtractedProcedure struct {
	// ID is the unique procedure identifier (UUID).
	ID string `json:"id"`

	// RunID links the procedure to the run that created it.
	RunID string `json:"run_id"`

	// Name is a short human-readable label.
	Name string `json:"name"`

	// Steps is the ordered action sequence.
	Steps []string `json:"steps"`

	// SuccessRate is the measured success share of the source sequences.
	SuccessRate float64 `json:"success_rate"`

	// SourcePatternIDs cites the patterns the procedure was built from.
	SourcePatternIDs []string `json:"source_pattern_ids"`

	// Status is candidate until a consumer promotes it.
	Status ProcedureStatus `json:"status"`

	// CreatedAt is when the run emitted the procedure.
	CreatedAt time.Time `json:"created_at"`
}

// NewExtractedProcedure creates a candidate procedure owned by runID.
func NewExtractedProcedure(runID, name string, steps []string, successRate float64) *ExtractedProcedure {
	return &ExtractedProcedure{
		ID:          uuid.New().String(),
		RunID:       runID,
		Name:        name,
		Steps:       steps,
		SuccessRate: successRate,
		Status:      ProcedureCandidate,
		CreatedAt:   time.Now().UTC(),
	}
}

// FeedbackTarget names the downstream subsystem a feedback update is
// addressed to.
type FeedbackTarget string

const (
	// TargetSkillStrategy addresses the skill-selection heuristics.
	TargetSkillStrategy FeedbackTarget = "skill_strategy"

	// TargetAvoidance addresses anti-pattern suppression lists.
	TargetAvoidance FeedbackTarget = "avoidance"
)

// FeedbackUpdate is a proposed change to a downstream subsystem's
// heuristics. Updates sit pending until the consumer pulls and applies
// them; this core never pushes.
type FeedbackUpdate struct {
	// ID is the unique feedback identifier (UUID).
	ID string `json:"id"`

	// RunID links the update to the run that proposed it.
	RunID string `json:"run_id"`

	// Target names the consuming subsystem.
	Target FeedbackTarget `json:"target"`

	// Action is the proposed change, in the consumer's vocabulary
	// (e.g. "prefer_pattern", "avoid_pattern", "set_budget").
	Action string `json:"action"`

	// Reason is the human-readable justification.
	Reason string `json:"reason"`

	// Confidence is how strongly the run believes the proposal.
	Confidence float64 `json:"confidence"`

	// Applied is set by the consumer after acting on the update.
	Applied bool `json:"applied"`

	// CreatedAt is when the run emitted the update.
	CreatedAt time.Time `json:"created_at"`
}

// NewFeedbackUpdate creates a pending feedback row owned by runID.
func NewFeedbackUpdate(runID string, target FeedbackTarget, action, reason string, confidence float64) *FeedbackUpdate {
	return &FeedbackUpdate{
		ID:         uuid.New().String(),
		RunID:      runID,
		Target:     target,
		Action:     action,
		Reason:     reason,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}
}
