package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/vietddude/resilink/internal/metrics"
)

// Listener handles one event.
type Listener func(Event)

// Registration identifies one AddListener call.
type Registration struct {
	id  string
	typ Type
}

// ID returns the registration's unique id.
func (r Registration) ID() string { return r.id }

type entry struct {
	id string
	fn Listener
}

// Router dispatches events to listeners by type. Adding the same function twice
// registers it twice; each registration is removed on its own.
type Router struct {
	mu        sync.RWMutex
	listeners map[Type][]entry
	log       *slog.Logger

	mailboxMu sync.Mutex
	mailbox   []Event
	signal    chan struct{}
	closed    bool
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		listeners: make(map[Type][]entry),
		log:       slog.Default().With("component", "events"),
		signal:    make(chan struct{}, 1),
	}
}

// AddListener registers fn for events of type t. Use Wildcard to receive everything.
func (r *Router) AddListener(t Type, fn Listener) Registration {
	reg := Registration{id: uuid.NewString(), typ: t}
	r.mu.Lock()
	r.listeners[t] = append(r.listeners[t], entry{id: reg.id, fn: fn})
	r.mu.Unlock()
	return reg
}

// RemoveListener removes a registration. Removing twice is a no-op.
func (r *Router) RemoveListener(reg Registration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.listeners[reg.typ]
	for i, e := range list {
		if e.id != reg.id {
			continue
		}
		// copy so a concurrent Emit keeps iterating its own slice
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.listeners, reg.typ)
		} else {
			r.listeners[reg.typ] = next
		}
		return true
	}
	return false
}

// ListenerCount returns the number of registrations for t.
func (r *Router) ListenerCount(t Type) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[t])
}

// Emit delivers ev synchronously: typed listeners first, then wildcard ones.
// A panicking listener is logged and does not stop delivery to the others.
func (r *Router) Emit(ev Event) {
	if ev == nil {
		return
	}
	r.mu.RLock()
	typed := r.listeners[ev.Type()]
	wild := r.listeners[Wildcard]
	r.mu.RUnlock()

	for _, e := range typed {
		r.call(e, ev)
	}
	for _, e := range wild {
		r.call(e, ev)
	}
}

func (r *Router) call(e entry, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.ListenerPanicsTotal.WithLabelValues(string(ev.Type())).Inc()
			r.log.Error("Event listener panicked", "event", ev.Type(), "listener", e.id, "panic", rec)
		}
	}()
	e.fn(ev)
}

// Publish queues ev for delivery by Run. It never blocks.
func (r *Router) Publish(ev Event) {
	if ev == nil {
		return
	}
	r.mailboxMu.Lock()
	if r.closed {
		r.mailboxMu.Unlock()
		return
	}
	r.mailbox = append(r.mailbox, ev)
	r.mailboxMu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Pending returns the number of published events not yet delivered.
func (r *Router) Pending() int {
	r.mailboxMu.Lock()
	defer r.mailboxMu.Unlock()
	return len(r.mailbox)
}

// Run delivers published events in order until ctx is done.
// Events still queued at that point are delivered before Run returns.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.mailboxMu.Lock()
			r.closed = true
			r.mailboxMu.Unlock()
			r.flush()
			return
		case <-r.signal:
			r.flush()
		}
	}
}

func (r *Router) flush() {
	for {
		r.mailboxMu.Lock()
		batch := r.mailbox
		r.mailbox = nil
		r.mailboxMu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			r.Emit(ev)
		}
	}
}
