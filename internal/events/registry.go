package events

import "sync"

// Handler receives dispatched events on the client's reader goroutine.
// Handlers should return quickly; a slow handler delays every later event.
type Handler func(Event)

// Registry maps event types to handlers. It is safe for concurrent use and
// outlives any single connection.
type Registry struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[Type]map[uint64]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Type]map[uint64]Handler)}
}

// Subscribe registers h for events of type t and returns a function that
// removes exactly this registration. The returned function may be called
// any number of times.
func (r *Registry) Subscribe(t Type, h Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	set, ok := r.handlers[t]
	if !ok {
		set = make(map[uint64]Handler)
		r.handlers[t] = set
	}
	set[id] = h
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.handlers[t], id)
			if len(r.handlers[t]) == 0 {
				delete(r.handlers, t)
			}
		})
	}
}

// Count returns the number of handlers registered for t.
func (r *Registry) Count(t Type) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[t])
}

// Dispatch calls every handler registered for ev.Type and returns how many
// were called. Order among handlers is unspecified. Handlers run without the
// registry lock held, so they may subscribe or unsubscribe.
func (r *Registry) Dispatch(ev Event) int {
	r.mu.RLock()
	set := r.handlers[ev.Type]
	snapshot := make([]Handler, 0, len(set))
	for _, h := range set {
		snapshot = append(snapshot, h)
	}
	r.mu.RUnlock()

	for _, h := range snapshot {
		h(ev)
	}
	return len(snapshot)
}
