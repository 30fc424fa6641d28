package saliency

import (
	"sync"

	"github.com/fyrsmithlabs/engramd/internal/engram"
)

type statsKey struct {
	layer engram.Layer
	scope string
}

// Stats caches the per-layer+scope maximum access count for one
// scoring pass. Callers observe every candidate (or seed from the
// store) before scoring, then Clear between passes so stale maxima
// from one run never leak into the next.
type Stats struct {
	mu  sync.RWMutex
	max map[statsKey]int
}

// NewStats creates an empty frequency cache.
func NewStats() *Stats {
	return &Stats{max: make(map[statsKey]int)}
}

// Observe records an access count, keeping the maximum per layer+scope.
func (s *Stats) Observe(layer engram.Layer, scope string, count int) {
	if count < 0 {
		return
	}
	key := statsKey{layer: layer, scope: scope}

	s.mu.Lock()
	defer s.mu.Unlock()
	if count > s.max[key] {
		s.max[key] = count
	}
}

// Max returns the maximum observed access count for a layer+scope and
// whether anything was observed.
func (s *Stats) Max(layer engram.Layer, scope string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max, ok := s.max[statsKey{layer: layer, scope: scope}]
	return max, ok
}

// Clear resets the cache for the next pass.
func (s *Stats) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.max = make(map[statsKey]int)
}
