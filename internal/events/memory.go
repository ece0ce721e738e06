package events

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"

	domain "pharmatrace/internal/custody/domain/events"
	"pharmatrace/internal/custody/ports"
)

var (
	_ ports.EventPublisher = (*Memory)(nil)
	_ ports.EventPublisher = (*Log)(nil)
)

// Memory keeps published events in process. Used by tests and the
// in-memory server profile.
type Memory struct {
	mu     sync.Mutex
	events []domain.Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, evts ...domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evts...)
	return nil
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events)
}

// OfType filters published events by type.
func (m *Memory) OfType(t domain.Type) []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

// Log writes events to the logger and drops them. It is the publisher when
// no broker is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Log{logger: logger}
}

func (l *Log) Publish(ctx context.Context, evts ...domain.Event) error {
	for _, e := range evts {
		l.logger.InfoContext(ctx, "domain event",
			"event_id", e.ID.String(),
			"event_type", string(e.Type),
			"aggregate_type", string(e.AggregateType),
			"aggregate_id", e.AggregateID,
		)
	}
	return nil
}
