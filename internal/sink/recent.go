package sink

import (
	"context"
	"sync"
)

// Recent keeps the last N events in arrival order.
type Recent struct {
	mu    sync.Mutex
	buf   []Event
	next  int
	full  bool
	total uint64
}

var _ Sink = (*Recent)(nil)

func NewRecent(size int) *Recent {
	if size <= 0 {
		size = 1
	}
	return &Recent{buf: make([]Event, size)}
}

func (r *Recent) Name() string { return "recent" }

func (r *Recent) Handle(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.total++
	return nil
}

// Snapshot returns the retained events, oldest first.
func (r *Recent) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]Event, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]Event, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

// Total is the number of events ever handled.
func (r *Recent) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
