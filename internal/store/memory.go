package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/engramd/internal/engram"
)

// MemoryStore is an in-memory engram.Store. It backs tests and
// ephemeral deployments where durability is not needed.
type MemoryStore struct {
	mu          sync.RWMutex
	experiences map[string]*engram.Experience
	runs        map[string]*engram.ConsolidationRun
	patterns    map[string]*engram.ExtractedPattern
	procedures  map[string]*engram.ExtractedProcedure
	feedback    map[string]*engram.FeedbackUpdate
}

var _ engram.Store = (*MemoryStore)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		experiences: make(map[string]*engram.Experience),
		runs:        make(map[string]*engram.ConsolidationRun),
		patterns:    make(map[string]*engram.ExtractedPattern),
		procedures:  make(map[string]*engram.ExtractedProcedure),
		feedback:    make(map[string]*engram.FeedbackUpdate),
	}
}

// AddExperience stores a copy of the experience, replacing any existing
// record with the same ID.
func (s *MemoryStore) AddExperience(ctx context.Context, exp *engram.Experience) error {
	if exp == nil {
		return engram.ErrEmptyPayload
	}
	if err := exp.Validate(); err != nil {
		return fmt.Errorf("invalid experience: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.experiences[exp.ID] = copyExperience(exp)
	return nil
}

// GetExperience fetches one experience by ID.
func (s *MemoryStore) GetExperience(ctx context.Context, id string) (*engram.Experience, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.experiences[id]
	if !ok {
		return nil, engram.ErrExperienceNotFound
	}
	return copyExperience(exp), nil
}

// GetUnconsolidatedExperiences returns the scope's unconsolidated
// experiences inside the window, oldest first.
func (s *MemoryStore) GetUnconsolidatedExperiences(ctx context.Context, scope string, window engram.Window) ([]*engram.Experience, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*engram.Experience
	for _, exp := range s.experiences {
		if exp.Scope != scope || exp.Status != engram.StatusUnconsolidated {
			continue
		}
		if !window.Contains(exp.Timestamp) {
			continue
		}
		out = append(out, copyExperience(exp))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// MaxAccessCount returns the highest access count for the layer+scope.
// The working layer is held by the working-set manager, not this store,
// so it reports zero here.
func (s *MemoryStore) MaxAccessCount(ctx context.Context, layer engram.Layer, scope string) (int, error) {
	status, ok := layerStatus(layer)
	if !ok {
		return 0, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	max := 0
	for _, exp := range s.experiences {
		if exp.Scope != scope || exp.Status != status {
			continue
		}
		if exp.AccessCount > max {
			max = exp.AccessCount
		}
	}
	return max, nil
}

// PersistRun writes the run and its output rows and flips experience
// statuses, all-or-nothing. Unknown experience IDs abort the persist
// before any mutation.
func (s *MemoryStore) PersistRun(ctx context.Context, run *engram.ConsolidationRun, patterns []*engram.ExtractedPattern, procedures []*engram.ExtractedProcedure, feedback []*engram.FeedbackUpdate, consolidated, archived []string) error {
	if run == nil {
		return fmt.Errorf("cannot persist nil run")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range consolidated {
		if _, ok := s.experiences[id]; !ok {
			return fmt.Errorf("consolidate %s: %w", id, engram.ErrExperienceNotFound)
		}
	}
	for _, id := range archived {
		if _, ok := s.experiences[id]; !ok {
			return fmt.Errorf("archive %s: %w", id, engram.ErrExperienceNotFound)
		}
	}

	s.runs[run.ID] = copyRun(run)
	for _, p := range patterns {
		s.patterns[p.ID] = copyPattern(p)
	}
	for _, p := range procedures {
		s.procedures[p.ID] = copyProcedure(p)
	}
	for _, f := range feedback {
		s.feedback[f.ID] = copyFeedback(f)
	}
	for _, id := range consolidated {
		s.experiences[id].Status = engram.StatusConsolidated
	}
	for _, id := range archived {
		s.experiences[id].Status = engram.StatusArchived
	}
	return nil
}

// MarkConsolidated flips the listed experiences to consolidated.
func (s *MemoryStore) MarkConsolidated(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.experiences[id]; !ok {
			return fmt.Errorf("consolidate %s: %w", id, engram.ErrExperienceNotFound)
		}
	}
	for _, id := range ids {
		s.experiences[id].Status = engram.StatusConsolidated
	}
	return nil
}

// IsRunActive reports whether the scope has a non-terminal run.
func (s *MemoryStore) IsRunActive(ctx context.Context, scope string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, run := range s.runs {
		if run.Scope == scope && !run.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

// RecordRun upserts a run record in its current state.
func (s *MemoryStore) RecordRun(ctx context.Context, run *engram.ConsolidationRun) error {
	if run == nil {
		return fmt.Errorf("cannot record nil run")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = copyRun(run)
	return nil
}

// GetRun fetches one run by ID.
func (s *MemoryStore) GetRun(ctx context.Context, id string) (*engram.ConsolidationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, engram.ErrRunNotFound
	}
	return copyRun(run), nil
}

// ListRuns returns the scope's runs, newest first, up to limit. Empty
// scope lists across all scopes; limit <= 0 lists everything.
func (s *MemoryStore) ListRuns(ctx context.Context, scope string, limit int) ([]*engram.ConsolidationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*engram.ConsolidationRun
	for _, run := range s.runs {
		if scope != "" && run.Scope != scope {
			continue
		}
		out = append(out, copyRun(run))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetPendingFeedback returns unapplied feedback, oldest first,
// optionally filtered by target.
func (s *MemoryStore) GetPendingFeedback(ctx context.Context, target engram.FeedbackTarget) ([]*engram.FeedbackUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*engram.FeedbackUpdate
	for _, f := range s.feedback {
		if f.Applied {
			continue
		}
		if target != "" && f.Target != target {
			continue
		}
		out = append(out, copyFeedback(f))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// MarkApplied flags one feedback update as consumed.
func (s *MemoryStore) MarkApplied(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.feedback[id]
	if !ok {
		return engram.ErrFeedbackNotFound
	}
	f.Applied = true
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// layerStatus maps a memory layer to the experience status it reads
// from storage. The working layer has no storage-side population.
func layerStatus(layer engram.Layer) (engram.ConsolidationStatus, bool) {
	switch layer {
	case engram.LayerSession:
		return engram.StatusUnconsolidated, true
	case engram.LayerDurable:
		return engram.StatusConsolidated, true
	default:
		return "", false
	}
}

func copyExperience(exp *engram.Experience) *engram.Experience {
	cp := *exp
	if exp.Usefulness != nil {
		u := *exp.Usefulness
		cp.Usefulness = &u
	}
	if exp.Tags != nil {
		cp.Tags = append([]string(nil), exp.Tags...)
	}
	return &cp
}

func copyRun(run *engram.ConsolidationRun) *engram.ConsolidationRun {
	cp := *run
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

func copyPattern(p *engram.ExtractedPattern) *engram.ExtractedPattern {
	cp := *p
	if p.SourceExperienceIDs != nil {
		cp.SourceExperienceIDs = append([]string(nil), p.SourceExperienceIDs...)
	}
	return &cp
}

func copyProcedure(p *engram.ExtractedProcedure) *engram.ExtractedProcedure {
	cp := *p
	if p.Steps != nil {
		cp.Steps = append([]string(nil), p.Steps...)
	}
	if p.SourcePatternIDs != nil {
		cp.SourcePatternIDs = append([]string(nil), p.SourcePatternIDs...)
	}
	return &cp
}

func copyFeedback(f *engram.FeedbackUpdate) *engram.FeedbackUpdate {
	cp := *f
	return &cp
}
