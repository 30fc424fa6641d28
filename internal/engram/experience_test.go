package engram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExperience(t *testing.T) {
	t.Parallel()

	exp, err := NewExperience("proj-1", KindDiscovery, "found retry helper in pkg/httpx", OutcomeSuccess)
	require.NoError(t, err)

	assert.NotEmpty(t, exp.ID)
	assert.Equal(t, "proj-1", exp.Scope)
	assert.Equal(t, KindDiscovery, exp.Kind)
	assert.Equal(t, StatusUnconsolidated, exp.Status)
	assert.False(t, exp.Timestamp.IsZero())
	assert.NoError(t, exp.Validate())
}

func TestNewExperience_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		scope   string
		kind    ExperienceKind
		payload string
		outcome Outcome
		wantErr error
	}{
		{"empty_scope", "", KindAction, "ran tests", OutcomeSuccess, ErrEmptyScope},
		{"empty_payload", "proj-1", KindAction, "", OutcomeSuccess, ErrEmptyPayload},
		{"unknown_kind", "proj-1", ExperienceKind("dream"), "ran tests", OutcomeSuccess, ErrInvalidKind},
		{"unknown_outcome", "proj-1", KindAction, "ran tests", Outcome("mixed"), ErrInvalidOutcome},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewExperience(tt.scope, tt.kind, tt.payload, tt.outcome)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestExperienceValidate_UsefulnessRange(t *testing.T) {
	t.Parallel()

	exp, err := NewExperience("proj-1", KindObservation, "noticed flaky test", OutcomeNeutral)
	require.NoError(t, err)

	bad := 1.5
	exp.Usefulness = &bad
	assert.Error(t, exp.Validate())

	good := 0.8
	exp.Usefulness = &good
	assert.NoError(t, exp.Validate())
}

func TestWindowContains(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)
	w := Window{Start: start, End: end}

	assert.True(t, w.Contains(start), "start is inclusive")
	assert.True(t, w.Contains(start.Add(24*time.Hour)))
	assert.False(t, w.Contains(end), "end is exclusive")
	assert.False(t, w.Contains(start.Add(-time.Second)))
}

func TestLastDays(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

	t.Run("seven_days", func(t *testing.T) {
		t.Parallel()
		w := LastDays(now, 7)
		assert.Equal(t, now.AddDate(0, 0, -7), w.Start)
		assert.Equal(t, now, w.End)
	})

	t.Run("zero_means_today_only", func(t *testing.T) {
		t.Parallel()
		w := LastDays(now, 0)
		assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), w.Start)
		assert.Equal(t, now, w.End)
	})
}
