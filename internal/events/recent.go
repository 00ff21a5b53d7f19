package events

import "sync"

const defaultRecentSize = 256

// Recent keeps the last N events in memory for the debug surface. Nothing is
// written to disk and the buffer dies with the process.
type Recent struct {
	mu   sync.RWMutex
	buf  []Event
	next int
	full bool
}

// NewRecent creates a ring buffer holding up to size events.
func NewRecent(size int) *Recent {
	if size <= 0 {
		size = defaultRecentSize
	}
	return &Recent{buf: make([]Event, size)}
}

// Record appends an event, evicting the oldest once full.
func (r *Recent) Record(e Event) {
	r.mu.Lock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Len returns the number of buffered events.
func (r *Recent) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// History returns a copy of the buffered events, oldest first.
func (r *Recent) History() []Event {
	return r.HistoryN(0)
}

// HistoryN returns up to the n most recent events, oldest first. n <= 0
// returns everything.
func (r *Recent) HistoryN(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	start := 0
	if r.full {
		size = len(r.buf)
		start = r.next
	}
	if size == 0 {
		return nil
	}
	if n > 0 && n < size {
		start = (start + size - n) % len(r.buf)
		size = n
	}

	out := make([]Event, size)
	for i := 0; i < size; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Filter returns the buffered events of the given kind, oldest first.
func (r *Recent) Filter(kind Kind) []Event {
	all := r.History()
	out := all[:0]
	for _, e := range all {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
