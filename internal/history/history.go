package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventInstall     EventType = "install"
	EventStart       EventType = "start"
	EventStop        EventType = "stop"
	EventStopTimeout EventType = "stop_timeout"
	EventLost        EventType = "lost"
)

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Service    string    `json:"service"`
	PID        int       `json:"pid,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Fanout delivers each event to every sink. Delivery is best-effort; a
// failing sink is logged and never blocks the lifecycle operation that
// produced the event.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout { return &Fanout{sinks: sinks} }

// Empty reports whether there is any sink to deliver to.
func (f *Fanout) Empty() bool { return f == nil || len(f.sinks) == 0 }

func (f *Fanout) Send(ctx context.Context, e Event) {
	if f == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	for _, s := range f.sinks {
		if err := s.Send(ctx, e); err != nil {
			slog.Debug("history sink send failed", "type", e.Type, "service", e.Service, "err", err)
		}
	}
}
