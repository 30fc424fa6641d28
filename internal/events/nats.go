// Package events publishes operational notices: working-set evictions
// and run lifecycle transitions. Callers treat publishing as
// best-effort, logging failures without blocking the operation that
// emitted the notice.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/engramd/internal/config"
	"github.com/fyrsmithlabs/engramd/internal/engram"
)

// NATS publishes notices to a NATS server.
type NATS struct {
	conn   *nats.Conn
	logger *zap.Logger
}

var _ engram.EventPublisher = (*NATS)(nil)

// Connect dials the configured server. The connection retries in the
// background, so a broker restart does not take the daemon down.
func Connect(cfg config.EventsConfig, logger *zap.Logger) (*NATS, error) {
	if cfg.URL == "" {
		return nil, errors.New("events publisher requires a url")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("events")

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	logger.Info("connected to NATS", zap.String("url", cfg.URL))
	return &NATS{conn: conn, logger: logger}, nil
}

// Publish marshals the payload and sends it on the subject.
func (p *NATS) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish notice on %s: %w", subject, err)
	}
	return nil
}

// Close flushes buffered notices and drops the connection.
func (p *NATS) Close() error {
	defer p.conn.Close()
	if p.conn.IsConnected() {
		return p.conn.Flush()
	}
	return nil
}
