package events

import "github.com/fyrsmithlabs/engramd/internal/engram"

// Noop drops every notice. Used when no broker is configured.
type Noop struct{}

var _ engram.EventPublisher = Noop{}

func (Noop) Publish(string, any) error { return nil }

func (Noop) Close() error { return nil }
