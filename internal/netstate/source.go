// Package netstate abstracts the operating system's online/offline signal so
// the connectivity core can be driven by a real interface watcher, by the
// desktop shell, or by tests.
package netstate

import "sync"

// Source reports OS-level network presence and its transitions.
type Source interface {
	// Online reports the current OS-level network presence.
	Online() bool
	// Subscribe registers fn for online/offline transitions. fn is only called
	// when the value actually changes. The returned func deregisters it.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// hub stores the current flag and its listeners. Listeners run on the
// goroutine that changed the flag, outside the lock.
type hub struct {
	mu     sync.Mutex
	online bool
	subs   map[uint64]func(bool)
	nextID uint64
}

func newHub(online bool) *hub {
	return &hub{online: online, subs: make(map[uint64]func(bool))}
}

func (h *hub) Online() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online
}

func (h *hub) Subscribe(fn func(bool)) func() {
	if fn == nil {
		return func() {}
	}
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// set stores online and notifies listeners if it changed.
func (h *hub) set(online bool) bool {
	h.mu.Lock()
	if h.online == online {
		h.mu.Unlock()
		return false
	}
	h.online = online
	fns := make([]func(bool), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
	return true
}

// Manual is a Source whose state is pushed from outside, for example by the
// desktop shell forwarding its own online/offline events.
type Manual struct {
	*hub
}

var _ Source = (*Manual)(nil)

// NewManual returns a manual source starting in the given state.
func NewManual(online bool) *Manual {
	return &Manual{hub: newHub(online)}
}

// Set records a transition. It reports whether the state changed.
func (m *Manual) Set(online bool) bool {
	return m.set(online)
}
