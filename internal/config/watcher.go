package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize config watcher")

const debounceDelay = 500 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands
// the validated result to a callback. Invalid replacements are logged
// and skipped: the previous configuration stays in effect.
//
// Editors replace files instead of writing in place, so the watcher
// watches the parent directory and filters events by name. Rapid event
// bursts are debounced.
type Watcher struct {
	path     string
	onChange func(*Config)
	watcher  *fsnotify.Watcher
	stop     chan struct{}
	logger   *zap.Logger
}

// NewWatcher creates a watcher for the config file at path. onChange
// runs on the watcher goroutine with each successfully reloaded config.
func NewWatcher(path string, onChange func(*Config), logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config path cannot be empty")
	}
	if onChange == nil {
		return nil, errors.New("onChange callback cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		path:     path,
		onChange: onChange,
		watcher:  fsw,
		stop:     make(chan struct{}),
		logger:   logger.Named("config.watcher"),
	}, nil
}

// Start begins watching. Call Stop to release the watcher.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching config directory %s: %w", dir, err)
	}
	go w.processEvents()
	return nil
}

// Stop stops the watcher and cleans up resources. Safe to call twice.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

func (w *Watcher) processEvents() {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	select {
	case <-w.stop:
		return
	default:
	}

	cfg, err := LoadWithFile(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected, keeping previous configuration",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}

	w.logger.Info("configuration reloaded", zap.String("path", w.path))
	w.onChange(cfg)
}
