// Package workingset maintains the bounded, saliency-ranked attention
// window. Each scope owns one working set; inserting a member re-ranks
// the whole set and evicts the weakest entries once capacity is
// exceeded.
package workingset

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/engramd/internal/engram"
	"github.com/fyrsmithlabs/engramd/internal/saliency"
)

var (
	// ErrInvalidCapacity indicates a capacity below one.
	ErrInvalidCapacity = errors.New("working set capacity must be at least 1")

	// ErrNilScorer indicates a missing scorer dependency.
	ErrNilScorer = errors.New("scorer is required")

	// ErrNilClassifier indicates a missing classifier dependency.
	ErrNilClassifier = errors.New("classifier is required")
)

// evictionReasonCapacity is the only eviction reason emitted today.
const evictionReasonCapacity = "capacity"

// member pairs the stored experience with its current ranking. seq
// breaks eviction ties between entries stamped in the same re-rank
// pass: lower seq means inserted earlier.
type member struct {
	exp   *engram.Experience
	entry engram.WorkingSetEntry
	seq   uint64
}

// Manager holds one bounded working set per scope.
// Thread-safe: re-rank plus eviction runs as one unit under the lock,
// so readers never observe a half-updated set.
type Manager struct {
	mu         sync.RWMutex
	capacity   int
	scorer     *saliency.Scorer
	classifier *saliency.FocusClassifier
	events     engram.EventPublisher
	logger     *zap.Logger
	sets       map[string][]*member
	nextSeq    uint64
}

// InsertOptions carries the ranking context for one insert.
type InsertOptions struct {
	// Goal is the current task description, forwarded to the scorer.
	Goal string

	// ContextWindow holds the payloads currently in context.
	ContextWindow []string

	// Now anchors recency and eviction timestamps; zero means time.Now.
	Now time.Time
}

// NewManager creates a working-set manager. events may be nil when no
// publisher is configured; eviction notices are then dropped.
func NewManager(capacity int, scorer *saliency.Scorer, classifier *saliency.FocusClassifier, events engram.EventPublisher, logger *zap.Logger) (*Manager, error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	if scorer == nil {
		return nil, ErrNilScorer
	}
	if classifier == nil {
		return nil, ErrNilClassifier
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		capacity:   capacity,
		scorer:     scorer,
		classifier: classifier,
		events:     events,
		logger:     logger.Named("workingset"),
		sets:       make(map[string][]*member),
	}, nil
}

// Insert adds an experience to its scope's working set, re-ranks every
// member plus the candidate, and evicts the lowest-composite entries
// until the set fits capacity again. Ties evict the entry with the
// oldest last_evaluated_at first.
//
// The returned entry is the candidate's ranking; notices describe any
// evictions (including the candidate itself when it scored lowest).
func (m *Manager) Insert(ctx context.Context, exp *engram.Experience, opts InsertOptions) (engram.WorkingSetEntry, []engram.EvictionNotice, error) {
	if exp == nil {
		return engram.WorkingSetEntry{}, nil, engram.ErrEmptyPayload
	}
	if err := exp.Validate(); err != nil {
		return engram.WorkingSetEntry{}, nil, err
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cand := &member{exp: exp, seq: m.nextSeq}
	m.nextSeq++
	set := append(m.sets[exp.Scope], cand)

	m.rerank(ctx, set, now, opts)

	var notices []engram.EvictionNotice
	for len(set) > m.capacity {
		idx := victimIndex(set)
		victim := set[idx]
		set = append(set[:idx], set[idx+1:]...)

		notice := engram.EvictionNotice{
			ItemRef:   victim.entry.ItemRef,
			Reason:    evictionReasonCapacity,
			Composite: victim.entry.Score.Composite,
			EvictedAt: now,
		}
		notices = append(notices, notice)
		m.publishEviction(notice)
		m.logger.Debug("evicted working set member",
			zap.String("scope", exp.Scope),
			zap.String("item_ref", notice.ItemRef),
			zap.Float64("composite", notice.Composite))
	}
	m.sets[exp.Scope] = set

	InsertsTotal.Inc()
	EvictionsTotal.Add(float64(len(notices)))
	Members.WithLabelValues(exp.Scope).Set(float64(len(set)))

	return cand.entry, notices, nil
}

// rerank recomputes every member's score, focus, and recommendation
// with frequency statistics scoped to this pass.
func (m *Manager) rerank(ctx context.Context, set []*member, now time.Time, opts InsertOptions) {
	stats := saliency.NewStats()
	defer stats.Clear()
	for _, mem := range set {
		stats.Observe(engram.LayerWorking, mem.exp.Scope, mem.exp.AccessCount)
	}

	for _, mem := range set {
		score := m.scorer.Score(ctx, mem.exp, engram.LayerWorking, saliency.ScoreOptions{
			Goal:          opts.Goal,
			ContextWindow: opts.ContextWindow,
			Stats:         stats,
			Now:           now,
		})
		mem.entry = engram.WorkingSetEntry{
			ItemRef:         mem.exp.ID,
			Score:           score,
			Focus:           m.classifier.ClassifyFocus(score.Composite),
			Recommendation:  m.classifier.Recommend(score.Composite),
			LastEvaluatedAt: now,
		}
	}
}

// victimIndex picks the member to evict: lowest composite, then oldest
// last_evaluated_at, then earliest insertion.
func victimIndex(set []*member) int {
	idx := 0
	for i := 1; i < len(set); i++ {
		a, b := set[i], set[idx]
		if a.entry.Score.Composite < b.entry.Score.Composite {
			idx = i
			continue
		}
		if a.entry.Score.Composite > b.entry.Score.Composite {
			continue
		}
		if a.entry.LastEvaluatedAt.Before(b.entry.LastEvaluatedAt) {
			idx = i
			continue
		}
		if a.entry.LastEvaluatedAt.Equal(b.entry.LastEvaluatedAt) && a.seq < b.seq {
			idx = i
		}
	}
	return idx
}

func (m *Manager) publishEviction(notice engram.EvictionNotice) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(engram.SubjectEvicted, notice); err != nil {
		m.logger.Warn("failed to publish eviction notice",
			zap.String("item_ref", notice.ItemRef),
			zap.Error(err))
	}
}

// Members returns the scope's entries ordered by composite score,
// highest first. The slice is a copy.
func (m *Manager) Members(scope string) []engram.WorkingSetEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.sets[scope]
	entries := make([]engram.WorkingSetEntry, 0, len(set))
	for _, mem := range set {
		entries = append(entries, mem.entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score.Composite > entries[j].Score.Composite
	})
	return entries
}

// Get returns one member's entry by item ref.
func (m *Manager) Get(scope, itemRef string) (engram.WorkingSetEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, mem := range m.sets[scope] {
		if mem.entry.ItemRef == itemRef {
			return mem.entry, true
		}
	}
	return engram.WorkingSetEntry{}, false
}

// Remove drops a member without an eviction notice. Returns false if
// the item is not in the scope's set.
func (m *Manager) Remove(scope, itemRef string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.sets[scope]
	for i, mem := range set {
		if mem.entry.ItemRef == itemRef {
			m.sets[scope] = append(set[:i], set[i+1:]...)
			Members.WithLabelValues(scope).Set(float64(len(m.sets[scope])))
			return true
		}
	}
	return false
}

// Len returns the scope's current member count.
func (m *Manager) Len(scope string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sets[scope])
}

// Scopes returns the scopes with at least one member.
func (m *Manager) Scopes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scopes := make([]string, 0, len(m.sets))
	for scope, set := range m.sets {
		if len(set) > 0 {
			scopes = append(scopes, scope)
		}
	}
	sort.Strings(scopes)
	return scopes
}
