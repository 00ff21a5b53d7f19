// Package metrics exposes connectivity observations as Prometheus metrics and
// summarises the probes seen during this session.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"stockpulse/internal/events"
	"stockpulse/internal/health"
	"stockpulse/internal/models"
)

const namespace = "stockpulse"

var statuses = []health.Status{
	health.StatusUnknown,
	health.StatusOffline,
	health.StatusUnreachable,
	health.StatusDegraded,
	health.StatusHealthy,
}

// Collector turns events into Prometheus series. It implements events.Sink.
type Collector struct {
	probes          *prometheus.CounterVec
	probeLatency    prometheus.Histogram
	discarded       prometheus.Counter
	status          *prometheus.GaugeVec
	transitions     *prometheus.CounterVec
	loadingSessions prometheus.Counter
	loadingDuration prometheus.Histogram
}

var _ events.Sink = (*Collector)(nil)

// NewCollector creates the collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Completed health probes by result.",
		}, []string{"result"}),
		probeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_latency_seconds",
			Help:      "Round-trip time of completed health probes.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 3, 5, 10},
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_discarded_total",
			Help:      "Probe results dropped because a newer probe or an offline transition superseded them.",
		}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "1 for the current classified connection status, 0 otherwise.",
		}, []string{"status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_transitions_total",
			Help:      "OS-level online/offline transitions.",
		}, []string{"direction"}),
		loadingSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loading_sessions_total",
			Help:      "Loading sessions started.",
		}),
		loadingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loading_duration_seconds",
			Help:      "Duration of finished loading sessions.",
			Buckets:   []float64{.5, 1, 3, 5, 10, 20, 30, 60},
		}),
	}

	for _, col := range []prometheus.Collector{
		c.probes, c.probeLatency, c.discarded, c.status,
		c.transitions, c.loadingSessions, c.loadingDuration,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	c.setStatus(health.StatusUnknown.String())
	return c, nil
}

// Record implements events.Sink.
func (c *Collector) Record(e events.Event) {
	switch e.Kind {
	case events.ProbeCompleted:
		if e.Probe == nil {
			return
		}
		result := "reachable"
		if !e.Probe.Reachable {
			result = "unreachable"
			if e.Probe.Failure != models.FailureNone {
				result = e.Probe.Failure.String()
			}
		}
		c.probes.WithLabelValues(result).Inc()
		c.probeLatency.Observe(e.Probe.LatencyMs / 1000)
	case events.ProbeDiscarded:
		c.discarded.Inc()
	case events.StateChanged:
		c.setStatus(e.Status)
	case events.NetworkOffline:
		c.transitions.WithLabelValues("offline").Inc()
		c.setStatus(health.StatusOffline.String())
	case events.NetworkOnline:
		c.transitions.WithLabelValues("online").Inc()
	case events.LoadingStarted:
		c.loadingSessions.Inc()
	case events.LoadingFinished:
		c.loadingDuration.Observe(e.Duration.Seconds())
	}
}

func (c *Collector) setStatus(current string) {
	if current == "" {
		return
	}
	for _, s := range statuses {
		v := 0.0
		if s.String() == current {
			v = 1
		}
		c.status.WithLabelValues(s.String()).Set(v)
	}
}
