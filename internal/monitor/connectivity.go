// Package monitor owns the authoritative connectivity state of the client.
package monitor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"stockpulse/internal/events"
	"stockpulse/internal/health"
	"stockpulse/internal/logging"
	"stockpulse/internal/models"
	"stockpulse/internal/netstate"
)

// DefaultInterval is the pause between scheduled probes while online.
const DefaultInterval = 30 * time.Second

// Listener receives connectivity snapshots.
type Listener func(models.ConnectionState)

// Options configures a ConnectivityMonitor. Endpoint, Prober and Source are
// required; everything else has a default.
type Options struct {
	Endpoint string
	Timeout  time.Duration
	Interval time.Duration

	Prober health.Prober
	Source netstate.Source
	Clock  clock.Clock
	Sink   events.Sink
	Logger *slog.Logger
}

// ConnectivityMonitor schedules probes, reacts to OS network transitions and
// publishes ConnectionState snapshots to listeners.
//
// Only the most recently issued probe may update the state. An offline
// transition supersedes every probe still in flight.
type ConnectivityMonitor struct {
	endpoint string
	timeout  time.Duration
	interval time.Duration

	prober health.Prober
	source netstate.Source
	clock  clock.Clock
	sink   events.Sink
	logger *slog.Logger

	mu          sync.Mutex
	state       models.ConnectionState
	running     bool
	issued      uint64
	listeners   map[uint64]Listener
	nextID      uint64
	ctx         context.Context
	cancel      context.CancelFunc
	unsubSource func()

	// notifyMu serialises delivery and doubles as the Stop barrier.
	notifyMu  sync.Mutex
	delivered *models.ConnectionState

	wg sync.WaitGroup
}

// NewConnectivityMonitor creates a stopped monitor with an all-unknown state.
func NewConnectivityMonitor(opts Options) *ConnectivityMonitor {
	if opts.Timeout <= 0 {
		opts.Timeout = health.DefaultTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Sink == nil {
		opts.Sink = events.Nop
	}
	if opts.Logger == nil {
		opts.Logger = logging.Logger("monitor")
	}
	if opts.Prober == nil {
		opts.Prober = health.NewProbe(health.WithClock(opts.Clock), health.WithSink(opts.Sink))
	}
	if opts.Source == nil {
		opts.Source = netstate.NewManual(true)
	}

	return &ConnectivityMonitor{
		endpoint:  opts.Endpoint,
		timeout:   opts.Timeout,
		interval:  opts.Interval,
		prober:    opts.Prober,
		source:    opts.Source,
		clock:     opts.Clock,
		sink:      opts.Sink,
		logger:    opts.Logger,
		listeners: make(map[uint64]Listener),
	}
}

// Start subscribes to OS transitions, starts the periodic schedule and
// probes immediately when online. Calling Start on a running monitor is a
// no-op.
func (m *ConnectivityMonitor) Start() {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if running {
		return
	}

	unsubscribe := m.source.Subscribe(m.handleTransition)

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		unsubscribe()
		return
	}
	m.running = true
	m.unsubSource = unsubscribe
	m.ctx, m.cancel = context.WithCancel(context.Background())

	online := m.source.Online()
	m.state.IsOnline = online
	if !online {
		m.state.ServerReachable = models.Unreachable
	}

	ticker := m.clock.Ticker(m.interval)
	m.wg.Add(1)
	go m.loop(m.ctx, ticker)
	m.mu.Unlock()

	m.logger.Info("connectivity monitor started",
		"endpoint", m.endpoint,
		"interval", m.interval,
		"timeout", m.timeout,
		"online", online)

	m.notify()
	if online {
		m.issueProbe()
	}
}

// Stop cancels the schedule, in-flight probes and the OS subscription. Once
// it returns no listener is invoked and the state no longer changes.
// Listeners must not call Stop.
func (m *ConnectivityMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	unsubscribe := m.unsubSource
	m.unsubSource = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	m.notifyMu.Lock()
	m.delivered = nil
	m.notifyMu.Unlock()

	m.wg.Wait()
	m.logger.Info("connectivity monitor stopped")
}

// Subscribe registers l. It is called right away with the current snapshot
// and again after every change. Listeners must not call Subscribe or Stop
// from inside the callback.
func (m *ConnectivityMonitor) Subscribe(l Listener) (unsubscribe func()) {
	if l == nil {
		return func() {}
	}

	m.notifyMu.Lock()
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	snapshot := m.state.Clone()
	m.mu.Unlock()
	l(snapshot)
	m.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Snapshot returns a copy of the current state.
func (m *ConnectivityMonitor) Snapshot() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Status classifies the current state.
func (m *ConnectivityMonitor) Status() health.Status {
	return health.ClassifyState(m.Snapshot())
}

// Endpoint returns the probed URL.
func (m *ConnectivityMonitor) Endpoint() string {
	return m.endpoint
}

// CheckNow issues a probe outside the schedule. It reports false when the
// monitor is stopped or the OS reports no network.
func (m *ConnectivityMonitor) CheckNow() bool {
	return m.issueProbe()
}

func (m *ConnectivityMonitor) loop(ctx context.Context, ticker *clock.Ticker) {
	defer m.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.issueProbe()
		}
	}
}

func (m *ConnectivityMonitor) handleTransition(online bool) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}

	if !online {
		changed := m.state.IsOnline || m.state.ServerReachable != models.Unreachable
		m.state.IsOnline = false
		m.state.ServerReachable = models.Unreachable
		// Results of probes still in flight must not land after going offline.
		m.issued++
		m.mu.Unlock()

		m.sink.Record(events.Event{Kind: events.NetworkOffline, At: m.clock.Now(), Status: health.StatusOffline.String()})
		if changed {
			m.notify()
		}
		return
	}

	changed := !m.state.IsOnline
	m.state.IsOnline = true
	m.mu.Unlock()

	m.sink.Record(events.Event{Kind: events.NetworkOnline, At: m.clock.Now()})
	if changed {
		m.notify()
	}
	m.issueProbe()
}

func (m *ConnectivityMonitor) issueProbe() bool {
	m.mu.Lock()
	if !m.running || !m.state.IsOnline {
		m.mu.Unlock()
		return false
	}
	m.issued++
	id := m.issued
	ctx := m.ctx
	m.wg.Add(1)
	m.mu.Unlock()

	go m.runProbe(ctx, id)
	return true
}

func (m *ConnectivityMonitor) runProbe(ctx context.Context, id uint64) {
	defer m.wg.Done()

	outcome := m.prober.Check(ctx, m.endpoint, m.timeout)
	m.apply(id, outcome)
}

func (m *ConnectivityMonitor) apply(id uint64, outcome models.ProbeOutcome) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	if id != m.issued || !m.state.IsOnline {
		m.mu.Unlock()
		m.logger.Debug("discarding superseded probe", "probe", id, "failure", outcome.Failure.String())
		m.sink.Record(events.Event{Kind: events.ProbeDiscarded, At: m.clock.Now(), Endpoint: m.endpoint, Probe: &outcome})
		return
	}

	checkedAt := m.clock.Now()
	if last := m.state.LastCheckedAt; last != nil && checkedAt.Before(*last) {
		checkedAt = *last
	}
	latency := outcome.LatencyMs
	m.state.ServerReachable = models.ReachabilityFromBool(outcome.Reachable)
	m.state.LatencyMs = &latency
	m.state.LastCheckedAt = &checkedAt
	snapshot := m.state.Clone()
	m.mu.Unlock()

	m.sink.Record(events.Event{
		Kind:     events.StateChanged,
		At:       checkedAt,
		Endpoint: m.endpoint,
		Probe:    &outcome,
		Status:   health.ClassifyState(snapshot).String(),
	})
	m.notify()
}

// notify delivers the current state to every listener unless it equals the
// last delivered one.
func (m *ConnectivityMonitor) notify() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	snapshot := m.state.Clone()
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, m.listeners[id])
	}
	m.mu.Unlock()

	if m.delivered != nil && m.delivered.Equal(snapshot) {
		return
	}
	delivered := snapshot.Clone()
	m.delivered = &delivered

	for _, l := range listeners {
		l(snapshot.Clone())
	}
}
