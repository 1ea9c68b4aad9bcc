package stream

import (
	"sync"

	"bushu/internal/model"
)

const defaultBuffer = 32

// Subscriber receives published records on C until unsubscribed
type Subscriber struct {
	C  <-chan *model.ExecutionRecord
	ch chan *model.ExecutionRecord
}

// Hub fans execution records out to live subscribers.
// Publish never blocks: a subscriber whose buffer is full misses the record.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	buffer int
	closed bool
}

// NewHub creates a hub. buffer <= 0 uses the default per-subscriber buffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[*Subscriber]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. On a closed hub the channel is already closed.
func (h *Hub) Subscribe() *Subscriber {
	ch := make(chan *model.ExecutionRecord, h.buffer)
	s := &Subscriber{C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Unsubscribe removes s and closes its channel
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
}

// Publish delivers rec to every subscriber with buffer room
func (h *Hub) Publish(rec *model.ExecutionRecord) {
	if rec == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.ch <- rec:
		default:
		}
	}
}

// Count returns the number of live subscribers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects all subscribers
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
		delete(h.subs, s)
	}
}
