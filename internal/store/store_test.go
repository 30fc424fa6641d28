package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/engramd/internal/config"
	"github.com/fyrsmithlabs/engramd/internal/engram"
)

// newStores builds one store per driver so every contract test runs
// against both implementations.
func newStores(t *testing.T) map[string]engram.Store {
	t.Helper()

	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "engramd.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]engram.Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func seedExperience(t *testing.T, scope string, ts time.Time, status engram.ConsolidationStatus, accessCount int) *engram.Experience {
	t.Helper()
	exp, err := engram.NewExperience(scope, engram.KindAction, "ran go test ./... after the fix", engram.OutcomeSuccess)
	require.NoError(t, err)
	exp.Timestamp = ts
	exp.Status = status
	exp.AccessCount = accessCount
	return exp
}

func seedRun(t *testing.T, scope string, startedAt time.Time) *engram.ConsolidationRun {
	t.Helper()
	run, err := engram.NewConsolidationRun(scope, engram.LastDays(startedAt, 7), engram.StrategyBalanced)
	require.NoError(t, err)
	run.StartedAt = startedAt
	return run
}

func TestOpenDispatchesOnDriver(t *testing.T) {
	t.Parallel()

	t.Run("memory", func(t *testing.T) {
		s, err := Open(config.StoreConfig{Driver: "memory"}, zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, s)
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := Open(config.StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(t.TempDir(), "engramd.db"),
		}, zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, &SQLiteStore{}, s)
		require.NoError(t, s.Close())
	})

	t.Run("unknown_driver", func(t *testing.T) {
		_, err := Open(config.StoreConfig{Driver: "postgres"}, zap.NewNop())
		require.ErrorIs(t, err, ErrUnknownDriver)
	})
}

func TestExperienceRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			usefulness := 0.8
			exp := seedExperience(t, "project-a", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), engram.StatusUnconsolidated, 3)
			exp.Usefulness = &usefulness
			exp.Tags = []string{"build", "ci"}

			require.NoError(t, s.AddExperience(ctx, exp))

			got, err := s.GetExperience(ctx, exp.ID)
			require.NoError(t, err)
			assert.Equal(t, exp.ID, got.ID)
			assert.Equal(t, exp.Scope, got.Scope)
			assert.Equal(t, exp.Timestamp.UnixNano(), got.Timestamp.UnixNano())
			assert.Equal(t, exp.Kind, got.Kind)
			assert.Equal(t, exp.Payload, got.Payload)
			assert.Equal(t, exp.Outcome, got.Outcome)
			assert.Equal(t, exp.Status, got.Status)
			assert.Equal(t, exp.AccessCount, got.AccessCount)
			require.NotNil(t, got.Usefulness)
			assert.InDelta(t, usefulness, *got.Usefulness, 1e-9)
			assert.Equal(t, []string{"build", "ci"}, got.Tags)
		})
	}
}

func TestGetExperienceNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetExperience(ctx, "00000000-0000-0000-0000-000000000000")
			require.ErrorIs(t, err, engram.ErrExperienceNotFound)
		})
	}
}

func TestAddExperienceValidates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.Error(t, s.AddExperience(ctx, nil))
			require.Error(t, s.AddExperience(ctx, &engram.Experience{ID: "not-a-uuid"}))
		})
	}
}

func TestReturnedExperienceIsACopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			exp := seedExperience(t, "project-a", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), engram.StatusUnconsolidated, 0)
			exp.Tags = []string{"original"}
			require.NoError(t, s.AddExperience(ctx, exp))

			got, err := s.GetExperience(ctx, exp.ID)
			require.NoError(t, err)
			got.Payload = "mutated"
			got.Tags[0] = "mutated"

			again, err := s.GetExperience(ctx, exp.ID)
			require.NoError(t, err)
			assert.Equal(t, exp.Payload, again.Payload)
			assert.Equal(t, []string{"original"}, again.Tags)
		})
	}
}

func TestGetUnconsolidatedWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	window := engram.Window{
		Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
	}

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			atStart := seedExperience(t, "project-a", window.Start, engram.StatusUnconsolidated, 0)
			inside := seedExperience(t, "project-a", window.Start.Add(48*time.Hour), engram.StatusUnconsolidated, 0)
			atEnd := seedExperience(t, "project-a", window.End, engram.StatusUnconsolidated, 0)
			before := seedExperience(t, "project-a", window.Start.Add(-time.Nanosecond), engram.StatusUnconsolidated, 0)
			consolidated := seedExperience(t, "project-a", window.Start.Add(time.Hour), engram.StatusConsolidated, 0)
			otherScope := seedExperience(t, "project-b", window.Start.Add(time.Hour), engram.StatusUnconsolidated, 0)

			for _, exp := range []*engram.Experience{inside, atStart, atEnd, before, consolidated, otherScope} {
				require.NoError(t, s.AddExperience(ctx, exp))
			}

			got, err := s.GetUnconsolidatedExperiences(ctx, "project-a", window)
			require.NoError(t, err)
			require.Len(t, got, 2, "window start is inclusive, end exclusive")
			assert.Equal(t, atStart.ID, got[0].ID, "results are oldest first")
			assert.Equal(t, inside.ID, got[1].ID)
		})
	}
}

func TestMaxAccessCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.AddExperience(ctx, seedExperience(t, "project-a", ts, engram.StatusUnconsolidated, 3)))
			require.NoError(t, s.AddExperience(ctx, seedExperience(t, "project-a", ts, engram.StatusUnconsolidated, 7)))
			require.NoError(t, s.AddExperience(ctx, seedExperience(t, "project-a", ts, engram.StatusConsolidated, 12)))
			require.NoError(t, s.AddExperience(ctx, seedExperience(t, "project-b", ts, engram.StatusUnconsolidated, 99)))

			session, err := s.MaxAccessCount(ctx, engram.LayerSession, "project-a")
			require.NoError(t, err)
			assert.Equal(t, 7, session, "session layer reads unconsolidated rows")

			durable, err := s.MaxAccessCount(ctx, engram.LayerDurable, "project-a")
			require.NoError(t, err)
			assert.Equal(t, 12, durable, "durable layer reads consolidated rows")

			working, err := s.MaxAccessCount(ctx, engram.LayerWorking, "project-a")
			require.NoError(t, err)
			assert.Zero(t, working, "working layer is tracked in memory, not storage")

			empty, err := s.MaxAccessCount(ctx, engram.LayerSession, "project-empty")
			require.NoError(t, err)
			assert.Zero(t, empty)
		})
	}
}

func TestPersistRunWritesEverything(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			promoted := seedExperience(t, "project-a", ts, engram.StatusUnconsolidated, 4)
			pruned := seedExperience(t, "project-a", ts.Add(time.Hour), engram.StatusUnconsolidated, 0)
			require.NoError(t, s.AddExperience(ctx, promoted))
			require.NoError(t, s.AddExperience(ctx, pruned))

			run := seedRun(t, "project-a", ts.Add(2*time.Hour))
			run.Status = engram.RunCompleted
			run.Degraded = true
			run.Counts = engram.RunCounts{ExperiencesSeen: 2, ExperiencesPruned: 1, ExperiencesPromoted: 1, Patterns: 1, Procedures: 1, Feedback: 1}
			run.Quality = engram.QualityMetrics{OverallQuality: 0.82, CorrectnessRate: 0.9, LinkageRate: 0.65, CompressionRatio: 3.2, RetrievalRecall: 1.0}
			finished := ts.Add(3 * time.Hour)
			run.FinishedAt = &finished

			pattern := engram.NewExtractedPattern(run.ID, engram.PatternError, "retry flaky integration tests once before failing", []string{promoted.ID})
			pattern.Confidence = 0.6
			pattern.SuccessRate = 1.0
			pattern.AntiPattern = true
			pattern.AntiPatternSeverity = engram.SeverityHigh
			pattern.HighVariance = true

			procedure := engram.NewExtractedProcedure(run.ID, "release", []string{"build", "tag", "push"}, 0.9)
			procedure.SourcePatternIDs = []string{pattern.ID}

			feedback := engram.NewFeedbackUpdate(run.ID, engram.TargetSkillStrategy, "prefer_pattern", "highest success rate this window", 0.7)

			require.NoError(t, s.PersistRun(ctx, run,
				[]*engram.ExtractedPattern{pattern},
				[]*engram.ExtractedProcedure{procedure},
				[]*engram.FeedbackUpdate{feedback},
				[]string{promoted.ID}, []string{pruned.ID}))

			gotRun, err := s.GetRun(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, engram.RunCompleted, gotRun.Status)
			assert.True(t, gotRun.Degraded)
			assert.Equal(t, run.Counts, gotRun.Counts)
			assert.Equal(t, run.Quality, gotRun.Quality)
			require.NotNil(t, gotRun.FinishedAt)
			assert.Equal(t, finished.UnixNano(), gotRun.FinishedAt.UnixNano())
			assert.Equal(t, run.Window.Start.UnixNano(), gotRun.Window.Start.UnixNano())

			gotPromoted, err := s.GetExperience(ctx, promoted.ID)
			require.NoError(t, err)
			assert.Equal(t, engram.StatusConsolidated, gotPromoted.Status)

			gotPruned, err := s.GetExperience(ctx, pruned.ID)
			require.NoError(t, err)
			assert.Equal(t, engram.StatusArchived, gotPruned.Status)

			pending, err := s.GetPendingFeedback(ctx, "")
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, feedback.ID, pending[0].ID)
			assert.Equal(t, engram.TargetSkillStrategy, pending[0].Target)
			assert.Equal(t, "prefer_pattern", pending[0].Action)
			assert.InDelta(t, 0.7, pending[0].Confidence, 1e-9)
		})
	}
}

func TestPersistRunIsAtomic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			known := seedExperience(t, "project-a", ts, engram.StatusUnconsolidated, 0)
			require.NoError(t, s.AddExperience(ctx, known))

			run := seedRun(t, "project-a", ts)
			run.Status = engram.RunCompleted
			feedback := engram.NewFeedbackUpdate(run.ID, engram.TargetAvoidance, "avoid_pattern", "low success rate", 0.9)

			err := s.PersistRun(ctx, run, nil, nil,
				[]*engram.FeedbackUpdate{feedback},
				[]string{known.ID, "11111111-1111-1111-1111-111111111111"}, nil)
			require.ErrorIs(t, err, engram.ErrExperienceNotFound)

			_, err = s.GetRun(ctx, run.ID)
			require.ErrorIs(t, err, engram.ErrRunNotFound, "failed persist must not leave the run behind")

			got, err := s.GetExperience(ctx, known.ID)
			require.NoError(t, err)
			assert.Equal(t, engram.StatusUnconsolidated, got.Status, "failed persist must not flip statuses")

			pending, err := s.GetPendingFeedback(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, pending, "failed persist must not leave feedback behind")
		})
	}
}

func TestMarkConsolidated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			a := seedExperience(t, "project-a", ts, engram.StatusUnconsolidated, 0)
			b := seedExperience(t, "project-a", ts, engram.StatusUnconsolidated, 0)
			require.NoError(t, s.AddExperience(ctx, a))
			require.NoError(t, s.AddExperience(ctx, b))

			require.NoError(t, s.MarkConsolidated(ctx, []string{a.ID, b.ID}))
			got, err := s.GetExperience(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, engram.StatusConsolidated, got.Status)

			c := seedExperience(t, "project-a", ts, engram.StatusUnconsolidated, 0)
			require.NoError(t, s.AddExperience(ctx, c))
			err = s.MarkConsolidated(ctx, []string{c.ID, "22222222-2222-2222-2222-222222222222"})
			require.ErrorIs(t, err, engram.ErrExperienceNotFound)

			got, err = s.GetExperience(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, engram.StatusUnconsolidated, got.Status, "partial batch must not flip any status")
		})
	}
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			run := seedRun(t, "project-a", ts)
			require.NoError(t, s.RecordRun(ctx, run))

			active, err := s.IsRunActive(ctx, "project-a")
			require.NoError(t, err)
			assert.True(t, active, "PENDING counts as active")

			otherScope, err := s.IsRunActive(ctx, "project-b")
			require.NoError(t, err)
			assert.False(t, otherScope, "activity is scope local")

			run.Fail("timeout")
			require.NoError(t, s.RecordRun(ctx, run))

			active, err = s.IsRunActive(ctx, "project-a")
			require.NoError(t, err)
			assert.False(t, active, "FAILED is terminal")

			got, err := s.GetRun(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, engram.RunFailed, got.Status)
			assert.Equal(t, "timeout", got.Reason)
			require.NotNil(t, got.FinishedAt)
		})
	}
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetRun(ctx, "33333333-3333-3333-3333-333333333333")
			require.ErrorIs(t, err, engram.ErrRunNotFound)
		})
	}
}

func TestListRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			oldest := seedRun(t, "project-a", base)
			middle := seedRun(t, "project-a", base.Add(time.Hour))
			newest := seedRun(t, "project-a", base.Add(2*time.Hour))
			other := seedRun(t, "project-b", base.Add(3*time.Hour))
			for _, run := range []*engram.ConsolidationRun{oldest, newest, middle, other} {
				require.NoError(t, s.RecordRun(ctx, run))
			}

			got, err := s.ListRuns(ctx, "project-a", 0)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, newest.ID, got[0].ID, "runs are newest first")
			assert.Equal(t, middle.ID, got[1].ID)
			assert.Equal(t, oldest.ID, got[2].ID)

			limited, err := s.ListRuns(ctx, "project-a", 2)
			require.NoError(t, err)
			require.Len(t, limited, 2)
			assert.Equal(t, newest.ID, limited[0].ID)

			all, err := s.ListRuns(ctx, "", 0)
			require.NoError(t, err)
			assert.Len(t, all, 4, "empty scope lists every scope")
		})
	}
}

func TestFeedbackLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ts := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)

	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			run := seedRun(t, "project-a", ts)
			run.Status = engram.RunCompleted

			skill := engram.NewFeedbackUpdate(run.ID, engram.TargetSkillStrategy, "prefer_pattern", "reliable", 0.8)
			skill.CreatedAt = ts
			avoid := engram.NewFeedbackUpdate(run.ID, engram.TargetAvoidance, "avoid_pattern", "keeps failing", 0.9)
			avoid.CreatedAt = ts.Add(time.Minute)

			require.NoError(t, s.PersistRun(ctx, run, nil, nil,
				[]*engram.FeedbackUpdate{skill, avoid}, nil, nil))

			pending, err := s.GetPendingFeedback(ctx, "")
			require.NoError(t, err)
			require.Len(t, pending, 2)
			assert.Equal(t, skill.ID, pending[0].ID, "pending feedback is oldest first")

			avoidOnly, err := s.GetPendingFeedback(ctx, engram.TargetAvoidance)
			require.NoError(t, err)
			require.Len(t, avoidOnly, 1)
			assert.Equal(t, avoid.ID, avoidOnly[0].ID)

			require.NoError(t, s.MarkApplied(ctx, skill.ID))
			pending, err = s.GetPendingFeedback(ctx, "")
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, avoid.ID, pending[0].ID)

			require.ErrorIs(t, s.MarkApplied(ctx, "44444444-4444-4444-4444-444444444444"), engram.ErrFeedbackNotFound)
		})
	}
}
