// Package events carries observability events from the connectivity core to
// whatever sinks the caller wires in. The core only depends on Sink.
package events

import (
	"log/slog"
	"time"

	"stockpulse/internal/models"
)

// Kind names an observability event.
type Kind string

const (
	ProbeCompleted  Kind = "probe.completed"
	ProbeDiscarded  Kind = "probe.discarded"
	StateChanged    Kind = "state.changed"
	NetworkOnline   Kind = "network.online"
	NetworkOffline  Kind = "network.offline"
	LoadingStarted  Kind = "loading.started"
	LoadingFinished Kind = "loading.finished"
)

// Event is a single observation. Only the fields relevant to Kind are set.
type Event struct {
	Kind     Kind                 `json:"kind"`
	At       time.Time            `json:"at"`
	Endpoint string               `json:"endpoint,omitempty"`
	Probe    *models.ProbeOutcome `json:"probe,omitempty"`
	Status   string               `json:"status,omitempty"`
	Session  string               `json:"session,omitempty"`
	Label    string               `json:"label,omitempty"`
	Duration time.Duration        `json:"duration_ns,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use and
// must not block for long.
type Sink interface {
	Record(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Record(e Event) { f(e) }

// Nop discards every event.
var Nop Sink = SinkFunc(func(Event) {})

type multi []Sink

// Multi fans an event out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Record(e Event) {
	for _, s := range m {
		s.Record(e)
	}
}

// LogSink writes events through a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink logging to l.
func NewLogSink(l *slog.Logger) *LogSink {
	return &LogSink{logger: l}
}

func (s *LogSink) Record(e Event) {
	attrs := []any{"kind", string(e.Kind)}
	if e.Endpoint != "" {
		attrs = append(attrs, "endpoint", e.Endpoint)
	}
	if e.Probe != nil {
		attrs = append(attrs,
			"reachable", e.Probe.Reachable,
			"latency_ms", e.Probe.LatencyMs,
			"failure", e.Probe.Failure.String())
		if e.Probe.HTTPStatus != nil {
			attrs = append(attrs, "http_status", *e.Probe.HTTPStatus)
		}
	}
	if e.Status != "" {
		attrs = append(attrs, "status", e.Status)
	}
	if e.Session != "" {
		attrs = append(attrs, "session", e.Session, "label", e.Label)
	}
	if e.Duration > 0 {
		attrs = append(attrs, "duration", e.Duration)
	}

	switch e.Kind {
	case NetworkOffline:
		s.logger.Warn("network offline", attrs...)
	case ProbeCompleted:
		if e.Probe != nil && !e.Probe.Reachable {
			s.logger.Warn("probe failed", attrs...)
			return
		}
		s.logger.Debug("probe completed", attrs...)
	case StateChanged, NetworkOnline:
		s.logger.Info("connectivity event", attrs...)
	default:
		s.logger.Debug("event", attrs...)
	}
}
