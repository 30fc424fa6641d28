package saliency

import (
	"github.com/fyrsmithlabs/engramd/internal/config"
	"github.com/fyrsmithlabs/engramd/internal/engram"
)

// FocusClassifier maps composite scores onto focus tiers and
// attention recommendations. All thresholds are inclusive at the
// lower bound of their band.
type FocusClassifier struct {
	cfg config.SaliencyConfig
}

// NewFocusClassifier creates a classifier from validated config.
func NewFocusClassifier(cfg config.SaliencyConfig) (*FocusClassifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &FocusClassifier{cfg: cfg}, nil
}

// ClassifyFocus returns the focus tier for a composite score.
func (c *FocusClassifier) ClassifyFocus(composite float64) engram.FocusType {
	switch {
	case composite >= c.cfg.FocusPrimary:
		return engram.FocusPrimary
	case composite >= c.cfg.FocusSecondary:
		return engram.FocusSecondary
	default:
		return engram.FocusBackground
	}
}

// Recommend returns the attention recommendation for a composite
// score.
func (c *FocusClassifier) Recommend(composite float64) engram.Recommendation {
	switch {
	case composite >= c.cfg.RecommendKeep:
		return engram.RecommendKeepInFocus
	case composite >= c.cfg.RecommendMonitor:
		return engram.RecommendMonitor
	case composite >= c.cfg.RecommendBackground:
		return engram.RecommendBackground
	default:
		return engram.RecommendInhibit
	}
}
