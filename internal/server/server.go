// Package server exposes the daemon's admin HTTP surface: health and
// readiness probes, Prometheus metrics, run history, consolidation
// triggering, pending feedback, pattern search, and the working-set
// routes.
//
// The server is an Echo router with graceful context-aware shutdown.
// All state lives behind the Store, Scheduler, Manager, and
// PatternIndex contracts; handlers translate between HTTP and those
// contracts and never hold state of their own.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/engramd/internal/config"
	"github.com/fyrsmithlabs/engramd/internal/consolidation"
	"github.com/fyrsmithlabs/engramd/internal/engram"
	"github.com/fyrsmithlabs/engramd/internal/extraction"
	"github.com/fyrsmithlabs/engramd/internal/workingset"
)

const (
	// serviceName is reported by the health endpoint.
	serviceName = "engramd"

	// defaultRunsLimit bounds GET /v1/runs when no limit is given.
	defaultRunsLimit = 50

	// defaultSearchK bounds GET /v1/patterns/search when no k is given.
	defaultSearchK = 5

	// maxSearchK caps k so a single query cannot drain the index.
	maxSearchK = 50

	// readinessTimeout bounds the store probe behind /readyz.
	readinessTimeout = 2 * time.Second
)

// Deps carries the collaborators the server exposes over HTTP.
//
// Store, Scheduler, and WorkingSet are required. Index may be nil when
// no pattern index is configured; the search route then answers 503.
type Deps struct {
	Store      engram.Store
	Scheduler  *consolidation.Scheduler
	WorkingSet *workingset.Manager
	Index      engram.PatternIndex
	Logger     *zap.Logger
}

// Server is the admin HTTP server.
type Server struct {
	cfg        config.ServerConfig
	store      engram.Store
	scheduler  *consolidation.Scheduler
	workingSet *workingset.Manager
	index      engram.PatternIndex
	logger     *zap.Logger
	echo       *echo.Echo
}

// HealthResponse is the JSON response for the health and readiness
// endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// NewServer builds the admin server and registers all routes.
func NewServer(cfg config.ServerConfig, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	if deps.WorkingSet == nil {
		return nil, errors.New("working set manager is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		cfg:        cfg,
		store:      deps.Store,
		scheduler:  deps.Scheduler,
		workingSet: deps.WorkingSet,
		index:      deps.Index,
		logger:     logger.Named("server"),
		echo:       e,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/readyz", s.handleReady)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.POST("/consolidate", s.handleConsolidate)
	v1.GET("/feedback", s.handleListFeedback)
	v1.POST("/feedback/:id/applied", s.handleMarkApplied)
	v1.GET("/patterns/search", s.handleSearchPatterns)
	v1.POST("/experiences", s.handleAddExperience)
	v1.POST("/workingset", s.handleWorkingSetInsert)
	v1.GET("/workingset", s.handleWorkingSetMembers)
}

// handleHealth reports process liveness.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: serviceName,
	})
}

// handleReady reports readiness by probing the store with a bounded
// query. A failing store answers 503 so load balancers stop routing.
func (s *Server) handleReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessTimeout)
	defer cancel()

	if _, err := s.store.ListRuns(ctx, "", 1); err != nil {
		s.logger.Warn("readiness probe failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status:  "unavailable",
			Service: serviceName,
		})
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ready",
		Service: serviceName,
	})
}

// runsResponse wraps the run list so the payload stays extensible.
type runsResponse struct {
	Runs []*engram.ConsolidationRun `json:"runs"`
}

// handleListRuns answers GET /v1/runs?scope=&limit= with the newest
// runs first. Empty scope lists across all scopes.
func (s *Server) handleListRuns(c echo.Context) error {
	limit := defaultRunsLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}

	runs, err := s.store.ListRuns(c.Request().Context(), c.QueryParam("scope"), limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if runs == nil {
		runs = []*engram.ConsolidationRun{}
	}
	return c.JSON(http.StatusOK, runsResponse{Runs: runs})
}

// handleGetRun answers GET /v1/runs/:id.
func (s *Server) handleGetRun(c echo.Context) error {
	run, err := s.store.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, engram.ErrRunNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return fmt.Errorf("get run: %w", err)
	}
	return c.JSON(http.StatusOK, run)
}

// consolidateRequest is the JSON body for POST /v1/consolidate.
type consolidateRequest struct {
	Scope      string `json:"scope"`
	WindowDays *int   `json:"window_days,omitempty"`
	Strategy   string `json:"strategy,omitempty"`
}

// handleConsolidate triggers a consolidation run and blocks until it
// reaches a terminal state. The response carries the terminal run
// record; a failed run is still a 200 because the request itself was
// accepted and executed.
func (s *Server) handleConsolidate(c echo.Context) error {
	var req consolidateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Strategy != "" && !engram.ValidStrategy(engram.Strategy(req.Strategy)) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid strategy %q", req.Strategy))
	}

	run, err := s.scheduler.Trigger(c.Request().Context(), consolidation.RunRequest{
		Scope:      req.Scope,
		WindowDays: req.WindowDays,
		Strategy:   engram.Strategy(req.Strategy),
	})
	if err != nil {
		var verr *config.ValidationError
		switch {
		case errors.Is(err, engram.ErrRunActive):
			return echo.NewHTTPError(http.StatusConflict, "a consolidation run is already active for this scope")
		case errors.Is(err, engram.ErrEmptyScope):
			return echo.NewHTTPError(http.StatusBadRequest, engram.ErrEmptyScope.Error())
		case errors.As(err, &verr):
			return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
		}
		return fmt.Errorf("trigger run: %w", err)
	}
	return c.JSON(http.StatusOK, run)
}

// feedbackResponse wraps the pending feedback list.
type feedbackResponse struct {
	Feedback []*engram.FeedbackUpdate `json:"feedback"`
}

// handleListFeedback answers GET /v1/feedback?target= with pending
// updates, optionally filtered by consuming subsystem.
func (s *Server) handleListFeedback(c echo.Context) error {
	target := engram.FeedbackTarget(c.QueryParam("target"))
	switch target {
	case "", engram.TargetSkillStrategy, engram.TargetAvoidance:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown feedback target %q", target))
	}

	pending, err := s.store.GetPendingFeedback(c.Request().Context(), target)
	if err != nil {
		return fmt.Errorf("list feedback: %w", err)
	}
	if pending == nil {
		pending = []*engram.FeedbackUpdate{}
	}
	return c.JSON(http.StatusOK, feedbackResponse{Feedback: pending})
}

// handleMarkApplied flags one feedback update as consumed.
func (s *Server) handleMarkApplied(c echo.Context) error {
	if err := s.store.MarkApplied(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, engram.ErrFeedbackNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "feedback update not found")
		}
		return fmt.Errorf("mark applied: %w", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// searchResponse wraps pattern search hits.
type searchResponse struct {
	Hits []engram.PatternHit `json:"hits"`
}

// handleSearchPatterns answers GET /v1/patterns/search?q=&k= from the
// pattern index.
func (s *Server) handleSearchPatterns(c echo.Context) error {
	if s.index == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "pattern index not configured")
	}

	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter q is required")
	}

	k := defaultSearchK
	if raw := c.QueryParam("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "k must be a positive integer")
		}
		k = parsed
	}
	if k > maxSearchK {
		k = maxSearchK
	}

	hits, err := s.index.Recall(c.Request().Context(), query, k)
	if err != nil {
		return fmt.Errorf("pattern search: %w", err)
	}
	if hits == nil {
		hits = []engram.PatternHit{}
	}
	return c.JSON(http.StatusOK, searchResponse{Hits: hits})
}

// experienceRequest is the JSON body for POST /v1/experiences.
type experienceRequest struct {
	Scope      string   `json:"scope"`
	Kind       string   `json:"kind"`
	Payload    string   `json:"payload"`
	Outcome    string   `json:"outcome"`
	Tags       []string `json:"tags,omitempty"`
	Usefulness *float64 `json:"usefulness,omitempty"`
}

// handleAddExperience captures one experience. Records arriving
// without tags are auto-tagged from their payload.
func (s *Server) handleAddExperience(c echo.Context) error {
	var req experienceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	exp, err := engram.NewExperience(req.Scope, engram.ExperienceKind(req.Kind), req.Payload, engram.Outcome(req.Outcome))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	exp.Usefulness = req.Usefulness
	exp.Tags = req.Tags
	if len(exp.Tags) == 0 {
		exp.Tags = extraction.AutoTags(exp.Payload)
	}
	if err := exp.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.store.AddExperience(c.Request().Context(), exp); err != nil {
		return fmt.Errorf("add experience: %w", err)
	}
	return c.JSON(http.StatusCreated, exp)
}

// workingSetRequest is the JSON body for POST /v1/workingset. It
// references a stored experience by ID rather than inlining one, so
// the working set and the store stay consistent.
type workingSetRequest struct {
	ExperienceID  string   `json:"experience_id"`
	Goal          string   `json:"goal,omitempty"`
	ContextWindow []string `json:"context_window,omitempty"`
}

// workingSetInsertResponse reports the inserted entry and whatever the
// insert evicted.
type workingSetInsertResponse struct {
	Entry   engram.WorkingSetEntry  `json:"entry"`
	Evicted []engram.EvictionNotice `json:"evicted,omitempty"`
}

// handleWorkingSetInsert loads the referenced experience and inserts
// it into its scope's working set.
func (s *Server) handleWorkingSetInsert(c echo.Context) error {
	var req workingSetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ExperienceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "experience_id is required")
	}

	ctx := c.Request().Context()
	exp, err := s.store.GetExperience(ctx, req.ExperienceID)
	if err != nil {
		if errors.Is(err, engram.ErrExperienceNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "experience not found")
		}
		return fmt.Errorf("get experience: %w", err)
	}

	entry, evicted, err := s.workingSet.Insert(ctx, exp, workingset.InsertOptions{
		Goal:          req.Goal,
		ContextWindow: req.ContextWindow,
	})
	if err != nil {
		return fmt.Errorf("working set insert: %w", err)
	}
	return c.JSON(http.StatusOK, workingSetInsertResponse{Entry: entry, Evicted: evicted})
}

// workingSetMembersResponse wraps a scope's ranked members.
type workingSetMembersResponse struct {
	Scope   string                   `json:"scope"`
	Members []engram.WorkingSetEntry `json:"members"`
}

// handleWorkingSetMembers answers GET /v1/workingset?scope= with the
// scope's members ranked by composite score. Scope is a query
// parameter because scopes are paths and may contain slashes.
func (s *Server) handleWorkingSetMembers(c echo.Context) error {
	scope := c.QueryParam("scope")
	if scope == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter scope is required")
	}

	members := s.workingSet.Members(scope)
	if members == nil {
		members = []engram.WorkingSetEntry{}
	}
	return c.JSON(http.StatusOK, workingSetMembersResponse{Scope: scope, Members: members})
}

// Start runs the server and blocks until the context is cancelled or
// startup fails. Cancellation triggers graceful shutdown bounded by
// the configured timeout; a clean shutdown returns
// http.ErrServerClosed.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.echo.Start(s.cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	s.logger.Info("admin server listening", zap.String("addr", s.cfg.Listen))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		s.logger.Info("admin server stopped")
		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for tests and for
// registering additional routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
