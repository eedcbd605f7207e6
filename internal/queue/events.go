package queue

import (
	"sync"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/models"
)

// Hub fans job events out to in-process subscribers. Publishing never blocks;
// a subscriber that falls behind loses events rather than stalling the queue.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan models.JobEvent
	nextID int
	closed bool
	logger *common.Logger
}

// NewHub creates an event hub.
func NewHub(logger *common.Logger) *Hub {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Hub{
		subs:   make(map[int]chan models.JobEvent),
		logger: logger,
	}
}

// Subscribe registers a buffered event channel. The returned cancel function
// removes the subscription and closes the channel.
func (h *Hub) Subscribe() (<-chan models.JobEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan models.JobEvent, 64)

	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers, dropping it for any whose
// buffer is full.
func (h *Hub) Publish(event models.JobEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.logger.Debug().
				Str("event", event.Type).
				Msg("Event subscriber buffer full, dropping event")
		}
	}
}

// Close shuts the hub down and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
