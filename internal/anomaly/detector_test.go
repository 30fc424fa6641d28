package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/engramd/internal/engram"
)

func pat(rate float64, occurrences int) *engram.ExtractedPattern {
	p := engram.NewExtractedPattern("run-1", engram.PatternWorkflow, "retry loop without backoff", nil)
	p.OccurrenceCount = occurrences
	p.SuccessRate = rate
	return p
}

func TestDetectorAntiPatternThresholds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		rate     float64
		anti     bool
		severity engram.Severity
	}{
		{"at_threshold_is_clean", 0.60, false, ""},
		{"just_below_is_medium", 0.59, true, engram.SeverityMedium},
		{"at_severe_boundary_is_medium", 0.40, true, engram.SeverityMedium},
		{"below_severe_is_high", 0.39, true, engram.SeverityHigh},
		{"total_failure_is_high", 0.0, true, engram.SeverityHigh},
		{"neutral_only_groups_are_clean", 1.0, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := pat(tc.rate, 3)
			anti, _ := NewDetector(nil).Flag([]*engram.ExtractedPattern{p})

			assert.Equal(t, tc.anti, p.AntiPattern)
			if tc.anti {
				assert.Equal(t, 1, anti)
				assert.Equal(t, tc.severity, p.AntiPatternSeverity)
			} else {
				assert.Equal(t, 0, anti)
				assert.Empty(t, p.AntiPatternSeverity)
			}
		})
	}
}

func TestDetectorHighVariance(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		rate        float64
		occurrences int
		flagged     bool
	}{
		{"even_split_at_ten_uses", 0.5, 10, true},
		{"nine_uses_is_not_enough", 0.5, 9, false},
		{"steady_success_is_stable", 0.95, 50, false},
		{"mostly_success_with_swings", 0.9, 10, true},
		{"uniform_failure_is_stable", 0.0, 20, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := pat(tc.rate, tc.occurrences)
			_, highVariance := NewDetector(nil).Flag([]*engram.ExtractedPattern{p})

			assert.Equal(t, tc.flagged, p.HighVariance)
			if tc.flagged {
				assert.Equal(t, 1, highVariance)
			} else {
				assert.Equal(t, 0, highVariance)
			}
		})
	}
}

func TestDetectorFlagsAreIndependent(t *testing.T) {
	t.Parallel()

	erratic := pat(0.3, 12)
	failing := pat(0.39, 2)
	steady := pat(0.95, 20)
	unrated := pat(1.0, 15)

	anti, highVariance := NewDetector(nil).Flag([]*engram.ExtractedPattern{erratic, failing, steady, unrated})

	assert.Equal(t, 2, anti)
	assert.Equal(t, 1, highVariance)
	assert.True(t, erratic.AntiPattern)
	assert.True(t, erratic.HighVariance, "an erratic mostly-failing pattern carries both flags")
	assert.True(t, failing.AntiPattern)
	assert.False(t, failing.HighVariance, "two uses are too few for a variance call")
	assert.False(t, steady.AntiPattern)
	assert.False(t, steady.HighVariance)
	assert.False(t, unrated.AntiPattern)
}

func TestOutcomeVariance(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.0, OutcomeVariance(1.0), 1e-9)
	assert.InDelta(t, 0.0, OutcomeVariance(0.0), 1e-9)
	assert.InDelta(t, 1.0, OutcomeVariance(0.5), 1e-9, "an even split is maximally unstable")
	assert.InDelta(t, 0.75, OutcomeVariance(0.75), 1e-9)
}
