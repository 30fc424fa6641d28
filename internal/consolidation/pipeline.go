// Package consolidation runs the batch pipeline that turns a window of
// raw experiences into durable patterns, procedures, and feedback, and
// the scheduler that decides when runs happen.
//
// A run walks a fixed sequence of stages: score, prune, extract
// patterns, extract procedures, detect anomalies, measure quality,
// persist. Everything before the persist stage stays in memory, so a
// failed or cancelled run leaves the store untouched apart from its own
// audit record.
package consolidation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/engramd/internal/anomaly"
	"github.com/fyrsmithlabs/engramd/internal/config"
	"github.com/fyrsmithlabs/engramd/internal/engram"
	"github.com/fyrsmithlabs/engramd/internal/extraction"
	"github.com/fyrsmithlabs/engramd/internal/saliency"
)

// Deps carries the pipeline's collaborators. Store and Scorer are
// required. Text, Index, and Events may be nil, in which case the
// pipeline falls back to lexical heuristics, skips the recall sample,
// and stays silent on the bus.
type Deps struct {
	Store  engram.Store
	Scorer *saliency.Scorer
	Text   engram.TextService
	Index  engram.PatternIndex
	Events engram.EventPublisher
	Logger *zap.Logger
}

// Pipeline executes consolidation runs. It is stateless between runs
// and safe for concurrent use; per-scope exclusion is enforced against
// the store and by the Scheduler.
type Pipeline struct {
	cfg      config.ConsolidationConfig
	store    engram.Store
	scorer   *saliency.Scorer
	text     extraction.TextOps
	registry *extraction.Registry
	detector *anomaly.Detector
	index    engram.PatternIndex
	events   engram.EventPublisher
	logger   *zap.Logger
}

// NewPipeline validates the configuration, loads the pattern matcher
// rules once, and wires the stages.
func NewPipeline(cfg config.ConsolidationConfig, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Scorer == nil {
		return nil, errors.New("scorer is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rules, err := extraction.LoadRules(cfg.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load matcher rules: %w", err)
	}
	registry, err := extraction.NewRegistry(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to build matcher registry: %w", err)
	}
	return &Pipeline{
		cfg:      cfg,
		store:    deps.Store,
		scorer:   deps.Scorer,
		text:     deps.Text,
		registry: registry,
		detector: anomaly.NewDetector(logger),
		index:    deps.Index,
		events:   deps.Events,
		logger:   logger.Named("consolidation"),
	}, nil
}

// RunRequest describes one consolidation run. Zero values defer to the
// configured defaults: WindowDays to consolidation.window_days,
// Strategy to consolidation.strategy, and Now to the wall clock.
type RunRequest struct {
	Scope      string
	WindowDays *int
	Strategy   engram.Strategy
	Now        time.Time
}

// Run executes one consolidation run for the requested scope and
// window.
//
// Requests rejected before a run record exists return a nil run and an
// error: validation failures, an already-active run for the scope
// (engram.ErrRunActive), or a store that cannot accept the record.
// Once the run is recorded, failures are captured in the run itself;
// the returned run's Status and Reason tell the caller how it ended.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (*engram.ConsolidationRun, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	days, err := p.windowDays(req)
	if err != nil {
		return nil, err
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = engram.Strategy(p.cfg.Strategy)
	}
	profile, err := profileFor(strategy, p.cfg)
	if err != nil {
		return nil, err
	}

	active, err := p.store.IsRunActive(ctx, req.Scope)
	if err != nil {
		return nil, fmt.Errorf("failed to check for active runs: %w", err)
	}
	if active {
		return nil, engram.ErrRunActive
	}

	window := scaleWindow(engram.LastDays(now, days), profile.WindowScale)
	run, err := engram.NewConsolidationRun(req.Scope, window, strategy)
	if err != nil {
		return nil, err
	}
	if err := p.store.RecordRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	RunsStarted.Inc()
	p.publish(engram.SubjectRunStarted, run)
	p.logger.Info("consolidation run started",
		zap.String("run_id", run.ID),
		zap.String("scope", run.Scope),
		zap.String("strategy", string(strategy)),
		zap.Time("window_start", window.Start),
		zap.Time("window_end", window.End))

	runCtx, cancel := context.WithTimeout(ctx, p.cfg.RunTimeout.Duration())
	defer cancel()
	p.execute(runCtx, run, profile, now)

	p.recordTerminal(run)
	p.publishTerminal(run)
	RunsFinished.WithLabelValues(strings.ToLower(string(run.Status))).Inc()
	return run, nil
}

func (p *Pipeline) windowDays(req RunRequest) (int, error) {
	days := p.cfg.Window()
	if req.WindowDays != nil {
		days = *req.WindowDays
	}
	if days < 0 {
		return 0, &config.ValidationError{Field: "window_days", Message: "cannot be negative"}
	}
	return days, nil
}

// execute drives the stages and leaves the run in a terminal state.
func (p *Pipeline) execute(ctx context.Context, run *engram.ConsolidationRun, profile strategyProfile, now time.Time) {
	runCfg := p.cfg
	runCfg.MinFrequency = profile.MinFrequency
	patterns, err := extraction.NewPatternExtractor(runCfg, p.registry, p.text, p.logger)
	if err != nil {
		run.Fail(err.Error())
		return
	}
	procedures, err := extraction.NewProcedureExtractor(runCfg, p.logger)
	if err != nil {
		run.Fail(err.Error())
		return
	}

	var scored []scoredExperience
	ok := p.stage(ctx, run, engram.RunScoring, func(stageCtx context.Context) error {
		pulled, err := p.store.GetUnconsolidatedExperiences(stageCtx, run.Scope, run.Window)
		if err != nil {
			return fmt.Errorf("scoring: %w", err)
		}
		run.Counts.ExperiencesSeen = len(pulled)
		var degraded bool
		scored, degraded = p.scoreStage(stageCtx, run.Scope, pulled, now)
		run.Degraded = run.Degraded || degraded
		return nil
	})
	if !ok {
		return
	}

	var kept []scoredExperience
	var archivedIDs []string
	ok = p.stage(ctx, run, engram.RunPruning, func(context.Context) error {
		kept, archivedIDs = pruneStage(scored, profile.PruneThreshold)
		run.Counts.ExperiencesPruned = len(archivedIDs)
		return nil
	})
	if !ok {
		return
	}
	keptExps := make([]*engram.Experience, len(kept))
	for i, s := range kept {
		keptExps[i] = s.exp
	}

	var patres extraction.PatternResult
	ok = p.stage(ctx, run, engram.RunPatternExtraction, func(stageCtx context.Context) error {
		var err error
		patres, err = patterns.Extract(stageCtx, run.ID, keptExps)
		if err != nil {
			return fmt.Errorf("pattern extraction: %w", err)
		}
		run.Degraded = run.Degraded || patres.Degraded
		run.Counts.Patterns = len(patres.Patterns)
		return nil
	})
	if !ok {
		return
	}

	var procs []*engram.ExtractedProcedure
	ok = p.stage(ctx, run, engram.RunProcedureExtraction, func(context.Context) error {
		procs = procedures.Extract(run.ID, patres.Patterns, keptExps)
		run.Counts.Procedures = len(procs)
		return nil
	})
	if !ok {
		return
	}

	ok = p.stage(ctx, run, engram.RunAnomalyDetection, func(context.Context) error {
		antiPatterns, highVariance := p.detector.Flag(patres.Patterns)
		if antiPatterns > 0 || highVariance > 0 {
			p.logger.Info("anomalies flagged",
				zap.String("run_id", run.ID),
				zap.Int("anti_patterns", antiPatterns),
				zap.Int("high_variance", highVariance))
		}
		return nil
	})
	if !ok {
		return
	}

	ok = p.stage(ctx, run, engram.RunQualityScoring, func(stageCtx context.Context) error {
		quality, degraded := p.qualityStage(stageCtx, run, keptExps, patres.Patterns, procs)
		run.Quality = quality
		run.Degraded = run.Degraded || degraded
		return nil
	})
	if !ok {
		return
	}

	feedback := p.buildFeedback(run.ID, patres.Patterns)
	run.Counts.Feedback = len(feedback)

	consolidatedIDs := make([]string, len(keptExps))
	for i, exp := range keptExps {
		consolidatedIDs[i] = exp.ID
	}
	run.Counts.ExperiencesPromoted = len(consolidatedIDs)
	ok = p.stage(ctx, run, engram.RunPersisting, func(stageCtx context.Context) error {
		if err := p.store.PersistRun(stageCtx, run, patres.Patterns, procs, feedback, consolidatedIDs, archivedIDs); err != nil {
			return fmt.Errorf("persist: %w", err)
		}
		return nil
	})
	if !ok {
		return
	}

	if err := run.Transition(engram.RunCompleted); err != nil {
		run.Fail(err.Error())
		return
	}
	p.logger.Info("consolidation run completed",
		zap.String("run_id", run.ID),
		zap.String("scope", run.Scope),
		zap.Int("seen", run.Counts.ExperiencesSeen),
		zap.Int("pruned", run.Counts.ExperiencesPruned),
		zap.Int("patterns", run.Counts.Patterns),
		zap.Int("procedures", run.Counts.Procedures),
		zap.Int("feedback", run.Counts.Feedback),
		zap.Float64("quality", run.Quality.OverallQuality),
		zap.Bool("degraded", run.Degraded))
}

// stage transitions the run, executes fn under the stage timeout, and
// records the stage duration. It reports false once the run has
// reached a terminal state, whether from a stage error, an expired
// deadline, or external cancellation observed at the boundary.
func (p *Pipeline) stage(ctx context.Context, run *engram.ConsolidationRun, status engram.RunStatus, fn func(context.Context) error) bool {
	if err := ctx.Err(); err != nil {
		p.finishOnContext(run, err)
		return false
	}
	if err := run.Transition(status); err != nil {
		run.Fail(err.Error())
		return false
	}
	start := time.Now()
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout.Duration())
	err := fn(stageCtx)
	cancel()
	StageDuration.WithLabelValues(strings.ToLower(string(status))).Observe(time.Since(start).Seconds())
	if err != nil {
		p.finishOnError(run, status, err)
		return false
	}
	return true
}

func (p *Pipeline) finishOnError(run *engram.ConsolidationRun, status engram.RunStatus, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		run.Fail("timeout")
	case errors.Is(err, context.Canceled):
		run.Cancel("cancelled")
	default:
		run.Fail(err.Error())
	}
	p.logger.Warn("consolidation run ended early",
		zap.String("run_id", run.ID),
		zap.String("stage", string(status)),
		zap.String("status", string(run.Status)),
		zap.String("reason", run.Reason),
		zap.Error(err))
}

func (p *Pipeline) finishOnContext(run *engram.ConsolidationRun, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		run.Fail("timeout")
	} else {
		run.Cancel("cancelled")
	}
	p.logger.Warn("consolidation run ended early",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.String("reason", run.Reason))
}

// recordTerminal writes the run's terminal state on a fresh context;
// the run context may already be dead.
func (p *Pipeline) recordTerminal(run *engram.ConsolidationRun) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.StageTimeout.Duration())
	defer cancel()
	if err := p.store.RecordRun(ctx, run); err != nil {
		p.logger.Error("failed to record terminal run state",
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
			zap.Error(err))
	}
}

// runNotice is the payload published on the run lifecycle subjects.
type runNotice struct {
	RunID      string `json:"run_id"`
	Scope      string `json:"scope"`
	Status     string `json:"status"`
	Strategy   string `json:"strategy"`
	Reason     string `json:"reason,omitempty"`
	Patterns   int    `json:"patterns"`
	Procedures int    `json:"procedures"`
	Degraded   bool   `json:"degraded,omitempty"`
}

func (p *Pipeline) publish(subject string, run *engram.ConsolidationRun) {
	if p.events == nil {
		return
	}
	notice := runNotice{
		RunID:      run.ID,
		Scope:      run.Scope,
		Status:     string(run.Status),
		Strategy:   string(run.Strategy),
		Reason:     run.Reason,
		Patterns:   run.Counts.Patterns,
		Procedures: run.Counts.Procedures,
		Degraded:   run.Degraded,
	}
	if err := p.events.Publish(subject, notice); err != nil {
		p.logger.Warn("failed to publish run notice",
			zap.String("subject", subject),
			zap.String("run_id", run.ID),
			zap.Error(err))
	}
}

func (p *Pipeline) publishTerminal(run *engram.ConsolidationRun) {
	subject := engram.SubjectRunCompleted
	if run.Status != engram.RunCompleted {
		subject = engram.SubjectRunFailed
	}
	p.publish(subject, run)
}
