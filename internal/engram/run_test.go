package engram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConsolidationRun(t *testing.T) {
	t.Parallel()

	window := LastDays(time.Now(), 7)
	run, err := NewConsolidationRun("proj-1", window, StrategyBalanced)
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "proj-1", run.Scope)
	assert.Equal(t, RunPending, run.Status)
	assert.Equal(t, StrategyBalanced, run.Strategy)
	assert.False(t, run.StartedAt.IsZero())
	assert.Nil(t, run.FinishedAt)
}

func TestNewConsolidationRun_Validation(t *testing.T) {
	t.Parallel()

	window := LastDays(time.Now(), 7)

	t.Run("empty_scope", func(t *testing.T) {
		t.Parallel()
		_, err := NewConsolidationRun("", window, StrategyBalanced)
		assert.ErrorIs(t, err, ErrEmptyScope)
	})

	t.Run("unknown_strategy", func(t *testing.T) {
		t.Parallel()
		_, err := NewConsolidationRun("proj-1", window, Strategy("reckless"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid strategy")
	})
}

func TestRunStatus_HappyPath(t *testing.T) {
	t.Parallel()

	run, err := NewConsolidationRun("proj-1", LastDays(time.Now(), 7), StrategyBalanced)
	require.NoError(t, err)

	order := []RunStatus{
		RunScoring,
		RunPruning,
		RunPatternExtraction,
		RunProcedureExtraction,
		RunAnomalyDetection,
		RunQualityScoring,
		RunPersisting,
		RunCompleted,
	}

	for _, next := range order {
		require.NoError(t, run.Transition(next), "transition to %s", next)
	}

	assert.Equal(t, RunCompleted, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.True(t, run.Status.Terminal())
}

func TestRunStatus_RejectsSkips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from RunStatus
		to   RunStatus
		ok   bool
	}{
		{"pending_to_scoring", RunPending, RunScoring, true},
		{"pending_skips_to_pruning", RunPending, RunPruning, false},
		{"scoring_skips_to_persisting", RunScoring, RunPersisting, false},
		{"scoring_backwards", RunScoring, RunPending, false},
		{"any_to_failed", RunPatternExtraction, RunFailed, true},
		{"any_to_cancelled", RunQualityScoring, RunCancelled, true},
		{"completed_is_terminal", RunCompleted, RunFailed, false},
		{"failed_is_terminal", RunFailed, RunScoring, false},
		{"cancelled_is_terminal", RunCancelled, RunCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestRunTransition_InvalidReturnsError(t *testing.T) {
	t.Parallel()

	run, err := NewConsolidationRun("proj-1", LastDays(time.Now(), 7), StrategyBalanced)
	require.NoError(t, err)

	err = run.Transition(RunPersisting)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, RunPending, run.Status, "failed transition must not move the run")
}

func TestRunFail_SetsReasonAndTerminal(t *testing.T) {
	t.Parallel()

	run, err := NewConsolidationRun("proj-1", LastDays(time.Now(), 7), StrategyBalanced)
	require.NoError(t, err)
	require.NoError(t, run.Transition(RunScoring))

	run.Fail("timeout")

	assert.Equal(t, RunFailed, run.Status)
	assert.Equal(t, "timeout", run.Reason)
	require.NotNil(t, run.FinishedAt)

	// A second Fail on a terminal run is a no-op.
	run.Fail("other reason")
	assert.Equal(t, "timeout", run.Reason)
}

func TestRunCancel(t *testing.T) {
	t.Parallel()

	run, err := NewConsolidationRun("proj-1", LastDays(time.Now(), 7), StrategyBalanced)
	require.NoError(t, err)
	require.NoError(t, run.Transition(RunScoring))
	require.NoError(t, run.Transition(RunPruning))

	run.Cancel("shutdown")

	assert.Equal(t, RunCancelled, run.Status)
	assert.Equal(t, "shutdown", run.Reason)
	assert.True(t, run.Status.Terminal())
}
