// Package engram defines the domain vocabulary shared by the saliency,
// working-set, and consolidation components: experiences captured from
// agent sessions, the scores and classifications computed over them,
// and the durable records a consolidation run produces.
package engram

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors for engram records.
var (
	ErrEmptyScope         = errors.New("scope cannot be empty")
	ErrEmptyPayload       = errors.New("payload cannot be empty")
	ErrInvalidKind        = errors.New("unknown experience kind")
	ErrInvalidOutcome     = errors.New("outcome must be 'success', 'failure', or 'neutral'")
	ErrInvalidStatus      = errors.New("unknown consolidation status")
	ErrExperienceNotFound = errors.New("experience not found")
	ErrRunNotFound        = errors.New("consolidation run not found")
	ErrFeedbackNotFound   = errors.New("feedback update not found")
	ErrRunActive          = errors.New("a consolidation run is already active for this scope")
	ErrServiceUnavailable = errors.New("text service unavailable")
)

// ExperienceKind classifies what a captured record describes.
type ExperienceKind string

const (
	// KindAction is a concrete step the agent took (tool call, edit, command).
	KindAction ExperienceKind = "action"

	// KindObservation is something the agent noticed without acting on it.
	KindObservation ExperienceKind = "observation"

	// KindDiscovery is new information learned about the codebase or task.
	KindDiscovery ExperienceKind = "discovery"

	// KindDecision is an explicit choice between alternatives.
	KindDecision ExperienceKind = "decision"

	// KindError is a failure the agent encountered.
	KindError ExperienceKind = "error"
)

// Outcome records how an experience turned out.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"

	// OutcomeNeutral marks records where success is not measurable
	// (pure observations, abandoned branches).
	OutcomeNeutral Outcome = "neutral"
)

// ConsolidationStatus tracks where an experience sits in its lifecycle.
// Experiences are never physically deleted; a consolidation run is the
// only writer of this field.
type ConsolidationStatus string

const (
	// StatusUnconsolidated means the experience has not yet been
	// processed by any consolidation run.
	StatusUnconsolidated ConsolidationStatus = "unconsolidated"

	// StatusConsolidated means a completed run promoted this experience
	// into durable patterns or procedures.
	StatusConsolidated ConsolidationStatus = "consolidated"

	// StatusArchived means a run scored this experience below the
	// pruning threshold. The record is kept for attribution but
	// excluded from future extraction.
	StatusArchived ConsolidationStatus = "archived"
)

// Experience is one atomic captured record of an action, observation,
// or outcome from an agent session.
//
// Experiences accumulate in storage as sessions run and are promoted
// into durable knowledge by consolidation runs. The run is the single
// writer of Status; everything else is immutable after capture.
type Experience struct {
	// ID is the unique experience identifier (UUID).
	ID string `json:"id"`

	// Scope identifies the isolation unit this experience belongs to,
	// typically a project or workspace path.
	Scope string `json:"scope"`

	// Timestamp is when the experience was captured.
	Timestamp time.Time `json:"timestamp"`

	// Kind classifies the record (action, observation, discovery,
	// decision, error).
	Kind ExperienceKind `json:"kind"`

	// Payload is the captured content: what happened, in text form.
	Payload string `json:"payload"`

	// Outcome records whether the step succeeded, failed, or has no
	// measurable result.
	Outcome Outcome `json:"outcome"`

	// Status is the consolidation lifecycle state.
	Status ConsolidationStatus `json:"consolidation_status"`

	// AccessCount tracks how often this experience has been retrieved
	// or referenced. Feeds the frequency component of saliency.
	AccessCount int `json:"access_count"`

	// Usefulness is an optional stored score in [0,1] from upstream
	// capture, used as a relevance fallback when no goal is available.
	// Nil when upstream never rated the record.
	Usefulness *float64 `json:"usefulness,omitempty"`

	// Tags are free-form labels attached at capture time.
	Tags []string `json:"tags,omitempty"`
}

// NewExperience creates an unconsolidated experience with a generated UUID.
func NewExperience(scope string, kind ExperienceKind, payload string, outcome Outcome) (*Experience, error) {
	if scope == "" {
		return nil, ErrEmptyScope
	}
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	if !validKind(kind) {
		return nil, ErrInvalidKind
	}
	if !validOutcome(outcome) {
		return nil, ErrInvalidOutcome
	}

	return &Experience{
		ID:        uuid.New().String(),
		Scope:     scope,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Payload:   payload,
		Outcome:   outcome,
		Status:    StatusUnconsolidated,
	}, nil
}

// Validate checks the experience for storable state.
func (e *Experience) Validate() error {
	if e.ID == "" {
		return errors.New("experience ID cannot be empty")
	}
	if _, err := uuid.Parse(e.ID); err != nil {
		return errors.New("invalid experience ID format")
	}
	if e.Scope == "" {
		return ErrEmptyScope
	}
	if e.Payload == "" {
		return ErrEmptyPayload
	}
	if !validKind(e.Kind) {
		return ErrInvalidKind
	}
	if !validOutcome(e.Outcome) {
		return ErrInvalidOutcome
	}
	switch e.Status {
	case StatusUnconsolidated, StatusConsolidated, StatusArchived:
	default:
		return ErrInvalidStatus
	}
	if e.Usefulness != nil && (*e.Usefulness < 0.0 || *e.Usefulness > 1.0) {
		return errors.New("usefulness must be between 0.0 and 1.0")
	}
	return nil
}

// Age returns how long ago the experience was captured, relative to now.
func (e *Experience) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}

func validKind(k ExperienceKind) bool {
	switch k {
	case KindAction, KindObservation, KindDiscovery, KindDecision, KindError:
		return true
	}
	return false
}

func validOutcome(o Outcome) bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeNeutral:
		return true
	}
	return false
}

// Window is a half-open capture interval [Start, End) used to select
// experiences for a consolidation run.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// LastDays builds a window covering the trailing n days up to now.
// n = 0 means "today only": the window starts at midnight UTC of the
// current day.
func LastDays(now time.Time, n int) Window {
	now = now.UTC()
	if n == 0 {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return Window{Start: midnight, End: now}
	}
	return Window{Start: now.AddDate(0, 0, -n), End: now}
}
