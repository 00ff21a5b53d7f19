package loading

import (
	"errors"
	"sync"

	"stockpulse/internal/models"
)

// DefaultRegistryLimit caps the number of named trackers a registry holds.
const DefaultRegistryLimit = 64

// ErrRegistryFull is returned when every slot holds an active session.
var ErrRegistryFull = errors.New("too many active loading sessions")

// Registry keeps one tracker per named UI operation. Idle trackers are
// evicted to make room for new names.
type Registry struct {
	opts  Options
	limit int

	mu       sync.Mutex
	trackers map[string]*Tracker
}

// NewRegistry returns a registry whose trackers share opts. A limit of zero
// or less means DefaultRegistryLimit.
func NewRegistry(opts Options, limit int) *Registry {
	if limit <= 0 {
		limit = DefaultRegistryLimit
	}
	return &Registry{opts: opts, limit: limit, trackers: make(map[string]*Tracker)}
}

// Get returns the tracker for name, creating it on first use.
func (r *Registry) Get(name string) (*Tracker, error) {
	r.mu.Lock()
	if t, ok := r.trackers[name]; ok {
		r.mu.Unlock()
		return t, nil
	}

	var evicted []*Tracker
	if len(r.trackers) >= r.limit {
		for n, t := range r.trackers {
			if !t.Snapshot().Active {
				delete(r.trackers, n)
				evicted = append(evicted, t)
			}
		}
	}
	if len(r.trackers) >= r.limit {
		r.mu.Unlock()
		closeAll(evicted)
		return nil, ErrRegistryFull
	}

	t := New(r.opts)
	r.trackers[name] = t
	r.mu.Unlock()

	closeAll(evicted)
	return t, nil
}

// Lookup returns the tracker for name if it exists.
func (r *Registry) Lookup(name string) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[name]
	return t, ok
}

// Len reports how many named trackers are held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}

// Active returns snapshots of every active session keyed by name.
func (r *Registry) Active() map[string]models.LoadingSnapshot {
	r.mu.Lock()
	trackers := make(map[string]*Tracker, len(r.trackers))
	for name, t := range r.trackers {
		trackers[name] = t
	}
	r.mu.Unlock()

	out := make(map[string]models.LoadingSnapshot)
	for name, t := range trackers {
		if snap := t.Snapshot(); snap.Active {
			out[name] = snap
		}
	}
	return out
}

// Close stops every tracker.
func (r *Registry) Close() {
	r.mu.Lock()
	trackers := make([]*Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		trackers = append(trackers, t)
	}
	r.trackers = make(map[string]*Tracker)
	r.mu.Unlock()

	closeAll(trackers)
}

func closeAll(trackers []*Tracker) {
	for _, t := range trackers {
		t.Close()
	}
}
