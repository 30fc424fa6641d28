package consolidation

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/engramd/internal/config"
	"github.com/fyrsmithlabs/engramd/internal/engram"
)

// Strategy scaling relative to the balanced baselines in config.
// Conservative narrows the window and raises the bars; aggressive
// widens the window and lowers them.
const (
	strategyPruneDelta      = 0.10
	conservativeWindowScale = 0.5
	aggressiveWindowScale   = 1.5
)

// strategyProfile holds the effective thresholds for one run.
type strategyProfile struct {
	PruneThreshold float64
	WindowScale    float64
	MinFrequency   int
}

// profileFor derives a run's thresholds from the configured balanced
// baselines.
func profileFor(strategy engram.Strategy, cfg config.ConsolidationConfig) (strategyProfile, error) {
	switch strategy {
	case engram.StrategyConservative:
		return strategyProfile{
			PruneThreshold: clamp01(cfg.PruneThreshold + strategyPruneDelta),
			WindowScale:    conservativeWindowScale,
			MinFrequency:   cfg.MinFrequency + 1,
		}, nil
	case engram.StrategyBalanced:
		return strategyProfile{
			PruneThreshold: cfg.PruneThreshold,
			WindowScale:    1.0,
			MinFrequency:   cfg.MinFrequency,
		}, nil
	case engram.StrategyAggressive:
		minFrequency := cfg.MinFrequency - 1
		if minFrequency < 1 {
			minFrequency = 1
		}
		return strategyProfile{
			PruneThreshold: clamp01(cfg.PruneThreshold - strategyPruneDelta),
			WindowScale:    aggressiveWindowScale,
			MinFrequency:   minFrequency,
		}, nil
	}
	return strategyProfile{}, fmt.Errorf("invalid strategy %q", strategy)
}

// scaleWindow stretches or shrinks the window span, keeping the end
// anchored.
func scaleWindow(w engram.Window, scale float64) engram.Window {
	if scale == 1.0 {
		return w
	}
	span := time.Duration(float64(w.End.Sub(w.Start)) * scale)
	w.Start = w.End.Add(-span)
	return w
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
