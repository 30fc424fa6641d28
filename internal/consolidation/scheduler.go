package consolidation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/engramd/internal/config"
	"github.com/fyrsmithlabs/engramd/internal/engram"
)

// Scheduler is the single entry point for starting consolidation runs.
// A ticker loop walks the configured scopes on each interval, and
// Trigger serves on-demand requests; both paths share the same
// per-scope exclusion, so a scope never has two runs in flight from
// this process. Trigger works whether or not the loop is enabled.
type Scheduler struct {
	cfg      config.SchedulerConfig
	pipeline *Pipeline
	logger   *zap.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	inflight map[string]bool
}

// NewScheduler creates a scheduler around the pipeline.
func NewScheduler(cfg config.SchedulerConfig, pipeline *Pipeline, logger *zap.Logger) (*Scheduler, error) {
	if pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:      cfg,
		pipeline: pipeline,
		logger:   logger.Named("scheduler"),
		inflight: make(map[string]bool),
	}, nil
}

// Trigger starts one consolidation run for the requested scope,
// returning engram.ErrRunActive when the scope already has one in
// flight.
func (s *Scheduler) Trigger(ctx context.Context, req RunRequest) (*engram.ConsolidationRun, error) {
	s.mu.Lock()
	if s.inflight[req.Scope] {
		s.mu.Unlock()
		return nil, engram.ErrRunActive
	}
	s.inflight[req.Scope] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, req.Scope)
		s.mu.Unlock()
	}()
	return s.pipeline.Run(ctx, req)
}

// Start launches the ticker loop. Starting an already-running
// scheduler is a no-op, as is starting one with the loop disabled.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		s.logger.Info("scheduler disabled, consolidation runs on demand only")
		return
	}
	if s.running {
		s.logger.Debug("scheduler already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval.Duration()),
		zap.Strings("scopes", s.cfg.Scopes))
	go s.loop(ctx, s.done)
}

// Stop halts the ticker loop and waits for it to exit. An in-flight
// scheduled run sees its context cancelled and ends CANCELLED;
// explicitly triggered runs finish on their callers' contexts.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()
	<-done
	s.logger.Info("scheduler stopped")
}

// ApplyConfig swaps the loop configuration at runtime. The loop is
// stopped before the swap and restarted after it, so interval, scope,
// and enablement changes from a config reload all take effect the same
// way. In-flight Trigger calls are unaffected.
func (s *Scheduler) ApplyConfig(cfg config.SchedulerConfig) {
	s.Stop()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.Start()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler loop panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()
	ticker := time.NewTicker(s.cfg.Interval.Duration())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runScopes(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// runScopes triggers one run per configured scope. Failures and panics
// are contained per scope so one bad scope never starves the rest.
func (s *Scheduler) runScopes(ctx context.Context) {
	if len(s.cfg.Scopes) == 0 {
		s.logger.Debug("no scopes configured, skipping scheduled consolidation")
		return
	}
	for _, scope := range s.cfg.Scopes {
		s.safeRun(ctx, scope)
	}
}

func (s *Scheduler) safeRun(ctx context.Context, scope string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled run panicked",
				zap.String("scope", scope),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	runCtx, cancel := context.WithTimeout(ctx, s.pipeline.cfg.RunTimeout.Duration())
	defer cancel()
	run, err := s.Trigger(runCtx, RunRequest{Scope: scope})
	switch {
	case errors.Is(err, engram.ErrRunActive):
		s.logger.Debug("scope already has an active run", zap.String("scope", scope))
	case err != nil:
		s.logger.Error("scheduled run rejected",
			zap.String("scope", scope), zap.Error(err))
	default:
		s.logger.Info("scheduled run finished",
			zap.String("scope", scope),
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
			zap.Int("patterns", run.Counts.Patterns),
			zap.Bool("degraded", run.Degraded))
	}
}
