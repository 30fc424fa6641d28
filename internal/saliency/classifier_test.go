package saliency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/engramd/internal/config"
	"github.com/fyrsmithlabs/engramd/internal/engram"
)

func newTestClassifier(t *testing.T) *FocusClassifier {
	t.Helper()
	classifier, err := NewFocusClassifier(config.Default().Saliency)
	require.NoError(t, err)
	return classifier
}

func TestClassifyFocusBoundaries(t *testing.T) {
	t.Parallel()

	classifier := newTestClassifier(t)

	tests := []struct {
		name      string
		composite float64
		want      engram.FocusType
	}{
		{name: "just_below_primary", composite: 0.69, want: engram.FocusSecondary},
		{name: "exactly_primary", composite: 0.70, want: engram.FocusPrimary},
		{name: "well_above_primary", composite: 0.95, want: engram.FocusPrimary},
		{name: "exactly_secondary", composite: 0.40, want: engram.FocusSecondary},
		{name: "just_below_secondary", composite: 0.39, want: engram.FocusBackground},
		{name: "zero", composite: 0.0, want: engram.FocusBackground},
		{name: "one", composite: 1.0, want: engram.FocusPrimary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, classifier.ClassifyFocus(tt.composite))
		})
	}
}

func TestRecommendBoundaries(t *testing.T) {
	t.Parallel()

	classifier := newTestClassifier(t)

	tests := []struct {
		name      string
		composite float64
		want      engram.Recommendation
	}{
		{name: "just_below_keep", composite: 0.79, want: engram.RecommendMonitor},
		{name: "exactly_keep", composite: 0.80, want: engram.RecommendKeepInFocus},
		{name: "exactly_monitor", composite: 0.60, want: engram.RecommendMonitor},
		{name: "just_below_monitor", composite: 0.59, want: engram.RecommendBackground},
		{name: "exactly_background", composite: 0.40, want: engram.RecommendBackground},
		{name: "just_below_background", composite: 0.39, want: engram.RecommendInhibit},
		{name: "zero", composite: 0.0, want: engram.RecommendInhibit},
		{name: "one", composite: 1.0, want: engram.RecommendKeepInFocus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, classifier.Recommend(tt.composite))
		})
	}
}

func TestNewFocusClassifierRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default().Saliency
	cfg.FocusPrimary = 0.30

	_, err := NewFocusClassifier(cfg)
	require.Error(t, err, "primary threshold below secondary should be rejected")
}
