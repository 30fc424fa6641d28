// Package logging builds the zap logger engramd components share.
//
// The returned logger carries an atomic level so the config watcher
// can raise or lower verbosity on a running daemon without a restart.
package logging

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with a runtime-adjustable level.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// New creates a logger writing to stderr.
//
// level is one of debug, info, warn, error; format is json or console.
func New(level, format string) (*Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if format != "json" && format != "console" {
		return nil, fmt.Errorf("invalid log format %q (expected json or console)", format)
	}

	atomic := zap.NewAtomicLevelAt(parsed)
	core := zapcore.NewCore(
		newEncoder(format),
		zapcore.Lock(os.Stderr),
		atomic,
	)

	return &Logger{
		Logger: zap.New(core, zap.AddCaller()),
		level:  atomic,
	}, nil
}

// SetLevel adjusts the logger's level at runtime.
func (l *Logger) SetLevel(level string) error {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.level.SetLevel(parsed)
	return nil
}

// Level returns the currently effective level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// Sync flushes buffered entries. Sync errors on stderr are ignored:
// on Linux, syncing a terminal returns EINVAL or ENOTTY.
func (l *Logger) Sync() error {
	err := l.Logger.Sync()
	if err != nil && isTerminalSyncError(err) {
		return nil
	}
	return err
}

// newEncoder creates a JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

func isTerminalSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
