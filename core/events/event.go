package events

import (
	"log/slog"

	"daopresale/core/types"
)

// Event is a structured ledger change emitted by a native module.
type Event interface {
	EventType() string
}

// Payload is implemented by events that carry a typed attribute payload.
type Payload interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers such as webhooks and
// logs.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans each event out to every non-nil emitter in order.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// LogEmitter writes each event as a structured log line.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements the Emitter interface.
func (l LogEmitter) Emit(evt Event) {
	if evt == nil {
		return
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := []any{"event", evt.EventType()}
	if payload, ok := evt.(Payload); ok {
		if raw := payload.Event(); raw != nil {
			for _, key := range raw.Keys() {
				args = append(args, key, raw.Attributes[key])
			}
		}
	}
	logger.Info("ledger event", args...)
}
