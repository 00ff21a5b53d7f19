// Package loading tracks user-facing "operation in progress" sessions and
// escalates what the UI shows as they drag on.
package loading

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"stockpulse/internal/events"
	"stockpulse/internal/logging"
	"stockpulse/internal/models"
)

// Escalation thresholds in whole elapsed seconds.
const (
	CounterAfterSeconds = 3
	SlowAfterSeconds    = 10
)

// OnlineFunc reports the OS-level online flag.
type OnlineFunc func() bool

// WatchFunc registers fn for online flag transitions. netstate.Source's
// Subscribe method satisfies it.
type WatchFunc func(fn func(online bool)) (unsubscribe func())

// Options configures a Tracker. Watch is optional; without it an offline
// transition reaches subscribers on the next tick.
type Options struct {
	Clock  clock.Clock
	Online OnlineFunc
	Watch  WatchFunc
	Sink   events.Sink
	Logger *slog.Logger
}

// Tracker follows one loading session at a time. Start while active restarts
// the session; Stop while idle does nothing.
type Tracker struct {
	clock  clock.Clock
	online OnlineFunc
	sink   events.Sink
	logger *slog.Logger

	mu        sync.Mutex
	id        string
	label     string
	startedAt *time.Time
	elapsed   int
	active    bool
	cancel    context.CancelFunc
	unwatch   func()
	listeners map[uint64]func(models.LoadingSnapshot)
	nextID    uint64

	notifyMu sync.Mutex
	wg       sync.WaitGroup
}

// New creates an idle tracker.
func New(opts Options) *Tracker {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Online == nil {
		opts.Online = func() bool { return true }
	}
	if opts.Sink == nil {
		opts.Sink = events.Nop
	}
	if opts.Logger == nil {
		opts.Logger = logging.Logger("loading")
	}
	t := &Tracker{
		clock:     opts.Clock,
		online:    opts.Online,
		sink:      opts.Sink,
		logger:    opts.Logger,
		listeners: make(map[uint64]func(models.LoadingSnapshot)),
	}
	if opts.Watch != nil {
		t.unwatch = opts.Watch(t.onlineChanged)
	}
	return t
}

// Start begins a new session with label. An active session is finished
// first and recorded as such.
func (t *Tracker) Start(label string) models.LoadingSnapshot {
	t.halt()

	now := t.clock.Now()
	ctx, cancel := context.WithCancel(context.Background())
	ticker := t.clock.Ticker(time.Second)

	t.mu.Lock()
	if t.cancel != nil {
		// A concurrent Start won the race; retire its ticker.
		t.cancel()
	}
	var superseded *events.Event
	if t.active && t.startedAt != nil {
		superseded = &events.Event{
			Kind:     events.LoadingFinished,
			At:       now,
			Session:  t.id,
			Label:    t.label,
			Duration: now.Sub(*t.startedAt),
		}
	}
	t.id = uuid.NewString()
	t.label = label
	t.startedAt = &now
	t.elapsed = 0
	t.active = true
	t.cancel = cancel
	id := t.id
	t.wg.Add(1)
	go t.tick(ctx, ticker, now)
	t.mu.Unlock()

	if superseded != nil {
		t.logger.Debug("loading session restarted", "session", superseded.Session, "label", superseded.Label, "duration", superseded.Duration)
		t.sink.Record(*superseded)
	}
	t.sink.Record(events.Event{Kind: events.LoadingStarted, At: now, Session: id, Label: label})
	t.notify()
	return t.Snapshot()
}

// Stop ends the active session and returns its final snapshot. The tick
// timer is cancelled before Stop returns.
func (t *Tracker) Stop() models.LoadingSnapshot {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return t.Snapshot()
	}
	t.mu.Unlock()

	t.halt()

	t.mu.Lock()
	if !t.active || t.startedAt == nil || t.cancel != nil {
		t.mu.Unlock()
		return t.Snapshot()
	}
	duration := t.clock.Since(*t.startedAt)
	t.elapsed = wholeSeconds(duration)
	t.active = false
	t.startedAt = nil
	id, label := t.id, t.label
	t.mu.Unlock()

	t.logger.Debug("loading session finished", "session", id, "label", label, "duration", duration)
	t.sink.Record(events.Event{
		Kind:     events.LoadingFinished,
		At:       t.clock.Now(),
		Session:  id,
		Label:    label,
		Duration: duration,
	})
	t.notify()
	return t.Snapshot()
}

// Snapshot returns the current session view with its escalation applied.
func (t *Tracker) Snapshot() models.LoadingSnapshot {
	t.mu.Lock()
	snap := models.LoadingSnapshot{
		ID:             t.id,
		Label:          t.label,
		ElapsedSeconds: t.elapsed,
		Active:         t.active,
	}
	if t.startedAt != nil {
		v := *t.startedAt
		snap.StartedAt = &v
	}
	t.mu.Unlock()

	if snap.Active {
		snap.Indicator, snap.Message = Escalate(snap.Label, snap.ElapsedSeconds, t.online())
	}
	return snap
}

// Subscribe registers fn for snapshots on start, every tick and stop.
func (t *Tracker) Subscribe(fn func(models.LoadingSnapshot)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.listeners, id)
			t.mu.Unlock()
		})
	}
}

// Close stops any active session, stops watching the online flag and drops
// all listeners.
func (t *Tracker) Close() {
	t.Stop()
	t.mu.Lock()
	unwatch := t.unwatch
	t.unwatch = nil
	t.listeners = make(map[uint64]func(models.LoadingSnapshot))
	t.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
}

// onlineChanged pushes a fresh snapshot so the offline indicator does not
// wait for the next tick.
func (t *Tracker) onlineChanged(bool) {
	t.mu.Lock()
	active := t.active
	t.mu.Unlock()
	if active {
		t.notify()
	}
}

// halt cancels the tick goroutine and waits for it.
func (t *Tracker) halt() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
}

func (t *Tracker) tick(ctx context.Context, ticker *clock.Ticker, startedAt time.Time) {
	defer t.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			if ctx.Err() != nil {
				t.mu.Unlock()
				return
			}
			t.elapsed = wholeSeconds(t.clock.Since(startedAt))
			t.mu.Unlock()
			t.notifyUnless(ctx)
		}
	}
}

func (t *Tracker) notify() {
	t.notifyUnless(nil)
}

// notifyUnless delivers the current snapshot unless ctx has been cancelled,
// so a stale tick cannot reach listeners after Stop.
func (t *Tracker) notifyUnless(ctx context.Context) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	if ctx != nil && ctx.Err() != nil {
		return
	}

	snap := t.Snapshot()
	t.mu.Lock()
	ids := make([]uint64, 0, len(t.listeners))
	for id := range t.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(models.LoadingSnapshot), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, t.listeners[id])
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Escalate decides what to show for an active session.
func Escalate(label string, elapsedSeconds int, online bool) (models.Indicator, string) {
	switch {
	case !online:
		return models.IndicatorOffline, fmt.Sprintf("%s · offline", label)
	case elapsedSeconds > SlowAfterSeconds:
		return models.IndicatorSlow, fmt.Sprintf("%s (%ds) · slow connection", label, elapsedSeconds)
	case elapsedSeconds > CounterAfterSeconds:
		return models.IndicatorCounter, fmt.Sprintf("%s (%ds)", label, elapsedSeconds)
	default:
		return models.IndicatorPlain, label
	}
}

func wholeSeconds(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
