// Package feed fans draft events out to live admin views.
package feed

import (
	"sync"

	"go.uber.org/zap"

	"hostelpay/internal/domain/event"
)

const defaultBuffer = 32

// Hub delivers each published event to every subscriber. A subscriber whose
// buffer is full misses the event; publishers never block.
type Hub struct {
	buffer int
	logger *zap.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]chan event.DraftEvent
	closed bool
}

func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		buffer: buffer,
		logger: logger,
		subs:   make(map[int]chan event.DraftEvent),
	}
}

// Subscribe returns the event channel and the function that cancels the
// subscription and closes the channel.
func (h *Hub) Subscribe() (<-chan event.DraftEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan event.DraftEvent, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
}

// Close ends every subscription. Later subscribers get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *Hub) Publish(ev event.DraftEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("Dropping draft event for slow subscriber",
				zap.Int("subscriber", id),
				zap.String("event_id", ev.EventID),
				zap.String("draft_id", ev.DraftID))
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
