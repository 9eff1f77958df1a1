package journal

import "sync"

const subscriberBuffer = 64

// Hub fans records out to subscribers. A subscriber that falls a full buffer
// behind is disconnected.
type Hub struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Record
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Record)}
}

// Subscribe registers a subscriber. The returned cancel func is idempotent.
func (h *Hub) Subscribe() (<-chan Record, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Record, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	return ch, func() { h.drop(id) }
}

func (h *Hub) drop(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish delivers rec to every subscriber without blocking.
func (h *Hub) Publish(rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- rec:
		default:
			delete(h.subs, id)
			close(ch)
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
