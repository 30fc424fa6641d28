// Package store provides the persistence implementations behind the
// engram.Store contract: a SQLite store for durability and an
// in-memory store for tests and ephemeral deployments.
package store

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/engramd/internal/config"
	"github.com/fyrsmithlabs/engramd/internal/engram"
)

// ErrUnknownDriver indicates an unrecognized store driver name.
var ErrUnknownDriver = errors.New("unknown store driver")

// Open creates the store selected by cfg.Driver.
func Open(cfg config.StoreConfig, logger *zap.Logger) (engram.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		path, err := config.ExpandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve store path: %w", err)
		}
		return NewSQLite(path, logger)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
