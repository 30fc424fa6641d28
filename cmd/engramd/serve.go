package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/engramd/internal/config"
	"github.com/fyrsmithlabs/engramd/internal/consolidation"
	"github.com/fyrsmithlabs/engramd/internal/engram"
	"github.com/fyrsmithlabs/engramd/internal/events"
	"github.com/fyrsmithlabs/engramd/internal/index"
	"github.com/fyrsmithlabs/engramd/internal/logging"
	"github.com/fyrsmithlabs/engramd/internal/saliency"
	"github.com/fyrsmithlabs/engramd/internal/server"
	"github.com/fyrsmithlabs/engramd/internal/store"
	"github.com/fyrsmithlabs/engramd/internal/textsvc"
	"github.com/fyrsmithlabs/engramd/internal/workingset"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engramd daemon",
	Long: `Run the engramd daemon: the admin HTTP API, the working-set
manager, and the consolidation scheduler.

The daemon shuts down gracefully on SIGINT or SIGTERM. Edits to the
config file are picked up while running; the log level and the
scheduler configuration apply without a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runServe(ctx, configPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

// runServe wires the daemon and blocks until the context is cancelled.
//
// Returns http.ErrServerClosed on graceful shutdown.
func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("starting engramd",
		zap.String("version", version),
		zap.String("listen", cfg.Server.Listen),
		zap.String("store_driver", cfg.Store.Driver),
		zap.Bool("text_service", cfg.Text.Enabled),
		zap.Bool("scheduler", cfg.Scheduler.Enabled))

	deps, err := buildDeps(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	srv, err := server.NewServer(cfg.Server, server.Deps{
		Store:      deps.store,
		Scheduler:  deps.scheduler,
		WorkingSet: deps.workingSet,
		Index:      deps.index,
		Logger:     log.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	deps.scheduler.Start()
	defer deps.scheduler.Stop()

	watcher := watchConfig(configPath, log, deps.scheduler)
	if watcher != nil {
		defer watcher.Stop()
	}

	return srv.Start(ctx)
}

// daemonDeps holds the daemon's long-lived components.
type daemonDeps struct {
	store      engram.Store
	text       *textsvc.Service
	index      engram.PatternIndex
	events     engram.EventPublisher
	scheduler  *consolidation.Scheduler
	workingSet *workingset.Manager
	logger     *zap.Logger
}

// Close releases infrastructure resources in reverse build order.
func (d *daemonDeps) Close() {
	if d.index != nil {
		if err := d.index.Close(); err != nil {
			d.logger.Warn("failed to close pattern index", zap.Error(err))
		}
	}
	if d.events != nil {
		if err := d.events.Close(); err != nil {
			d.logger.Warn("failed to close event publisher", zap.Error(err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("failed to close store", zap.Error(err))
		}
	}
}

// buildDeps initializes every component the daemon serves:
// store, text service, pattern index, event publisher, scorer,
// pipeline, scheduler, and working-set manager. On failure whatever
// was already built is closed.
func buildDeps(cfg *config.Config, log *logging.Logger) (*daemonDeps, error) {
	deps := &daemonDeps{logger: log.Logger}

	switch cfg.Store.Driver {
	case "memory":
		deps.store = store.NewMemory()
		log.Warn("using in-memory store, experiences will not survive a restart")
	case "sqlite":
		path, err := config.ExpandPath(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve store path: %w", err)
		}
		st, err := store.NewSQLite(path, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		deps.store = st
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Text.Enabled {
		svc, err := textsvc.New(textsvc.Config{
			BaseURL:    cfg.Text.BaseURL,
			Model:      cfg.Text.Model,
			EmbedModel: cfg.Text.EmbedModel,
			APIKey:     cfg.Text.APIKey.Value(),
			RPS:        cfg.Text.RPS,
			Burst:      cfg.Text.Burst,
			MaxRetries: cfg.Text.MaxRetries,
			Timeout:    cfg.Text.Timeout.Duration(),
		}, log.Logger)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to create text service: %w", err)
		}
		deps.text = svc

		idx, err := index.NewChromem(cfg.Index, svc, log.Logger)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to open pattern index: %w", err)
		}
		deps.index = idx
	} else {
		log.Info("text service disabled, scoring and extraction use lexical fallbacks")
	}

	if cfg.Events.URL != "" {
		pub, err := events.Connect(cfg.Events, log.Logger)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to connect event publisher: %w", err)
		}
		deps.events = pub
	} else {
		deps.events = events.Noop{}
	}

	var sim saliency.SimilarityService
	var text engram.TextService
	if deps.text != nil {
		sim = deps.text
		text = deps.text
	}

	scorer, err := saliency.NewScorer(cfg.Saliency, sim, log.Logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create scorer: %w", err)
	}
	classifier, err := saliency.NewFocusClassifier(cfg.Saliency)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}

	pipeline, err := consolidation.NewPipeline(cfg.Consolidation, consolidation.Deps{
		Store:  deps.store,
		Scorer: scorer,
		Text:   text,
		Index:  deps.index,
		Events: deps.events,
		Logger: log.Logger,
	})
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	deps.scheduler, err = consolidation.NewScheduler(cfg.Scheduler, pipeline, log.Logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	deps.workingSet, err = workingset.NewManager(cfg.WorkingSet.Capacity, scorer, classifier, deps.events, log.Logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create working set manager: %w", err)
	}

	log.Info("dependencies initialized",
		zap.Bool("durable_store", cfg.Store.Driver == "sqlite"),
		zap.Bool("pattern_index", deps.index != nil),
		zap.Bool("events_connected", cfg.Events.URL != ""))

	return deps, nil
}

// watchConfig starts the hot-reload watcher. A missing or unwatchable
// config path is logged and the daemon runs without hot reload.
func watchConfig(path string, log *logging.Logger, scheduler *consolidation.Scheduler) *config.Watcher {
	if path == "" {
		def, err := config.DefaultPath()
		if err != nil {
			log.Warn("config hot-reload disabled", zap.Error(err))
			return nil
		}
		path = def
	}

	onChange := func(next *config.Config) {
		if err := log.SetLevel(next.Logging.Level); err != nil {
			log.Warn("reloaded log level rejected", zap.Error(err))
		}
		scheduler.ApplyConfig(next.Scheduler)
		log.Info("applied dynamic configuration",
			zap.String("log_level", next.Logging.Level),
			zap.Bool("scheduler", next.Scheduler.Enabled),
			zap.Duration("interval", next.Scheduler.Interval.Duration()))
	}

	watcher, err := config.NewWatcher(path, onChange, log.Logger)
	if err != nil {
		log.Warn("config hot-reload disabled", zap.String("path", path), zap.Error(err))
		return nil
	}
	if err := watcher.Start(); err != nil {
		log.Warn("config hot-reload disabled", zap.String("path", path), zap.Error(err))
		watcher.Stop()
		return nil
	}
	log.Info("watching config file for changes", zap.String("path", path))
	return watcher
}
