package domain

import (
	"sync"
	"time"
)

// Event announces that a transaction committed. It carries the committed
// change list; subscribers re-read store state rather than patching their own
// copies from the payload.
type Event struct {
	Seq        uint64    `json:"seq"`
	OccurredAt time.Time `json:"occurred_at"`
	Changes    []Change  `json:"changes"`
}

// Handler processes events as they are published.
type Handler func(Event)

// Filter decides whether an event should be delivered to a handler.
type Filter func(Event) bool

// FilterEntity delivers only events touching the given entity type.
func FilterEntity(entity EntityType) Filter {
	return func(ev Event) bool {
		for _, change := range ev.Changes {
			if change.Entity == entity {
				return true
			}
		}
		return false
	}
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

// Hub fans out commit events to subscribers and retains the most recent
// events in a fixed-size ring for inspection.
type Hub struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
	seq      uint64
}

const defaultHubSize = 256

// NewHub creates an event hub retaining up to size events.
func NewHub(size int) *Hub {
	if size <= 0 {
		size = defaultHubSize
	}
	return &Hub{
		events: make([]Event, size),
		size:   size,
	}
}

// Publish records an event for the committed change list and notifies
// subscribers. Handlers run synchronously, outside the hub lock, in
// subscription order. Publish must only be called after the mutation has been
// applied, so handlers reading store state observe post-mutation values.
func (h *Hub) Publish(changes []Change) Event {
	h.mu.Lock()
	h.seq++
	ev := Event{
		Seq:        h.seq,
		OccurredAt: time.Now().UTC(),
		Changes:    append([]Change(nil), changes...),
	}
	h.events[h.head] = ev
	h.head = (h.head + 1) % h.size
	if h.count < h.size {
		h.count++
	}
	handlers := make([]handlerEntry, len(h.handlers))
	copy(handlers, h.handlers)
	h.mu.Unlock()

	for _, entry := range handlers {
		if entry.filter == nil || entry.filter(ev) {
			entry.handler(ev)
		}
	}
	return ev
}

// Subscribe registers a handler for all events and returns an unsubscribe
// function.
func (h *Hub) Subscribe(handler Handler) func() {
	return h.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler gated by filter.
func (h *Hub) SubscribeFiltered(filter Filter, handler Handler) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.handlers = append(h.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, entry := range h.handlers {
			if entry.id == id {
				h.handlers = append(h.handlers[:i], h.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent n events in reverse chronological order.
func (h *Hub) Recent(n int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || h.count == 0 {
		return nil
	}
	if n > h.count {
		n = h.count
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (h.head - 1 - i + h.size) % h.size
		out[i] = h.events[idx]
	}
	return out
}
