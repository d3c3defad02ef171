// Package events fans broker events out to any number of observers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/arqut/arqut-desk/internal/pkg/models"
)

// Publisher is what the broker needs from the hub
type Publisher interface {
	Publish(ev models.BrokerEvent)
}

// Hub delivers each event to every subscriber. A subscriber whose buffer is
// full misses the event; Publish never blocks.
type Hub struct {
	subs    map[int]chan models.BrokerEvent
	nextID  int
	dropped atomic.Uint64
	mu      sync.RWMutex
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan models.BrokerEvent)}
}

// Publish sends ev to all subscribers
func (h *Hub) Publish(ev models.BrokerEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a new observer. The returned cancel func closes the
// channel and must be called once.
func (h *Hub) Subscribe(buffer int) (<-chan models.BrokerEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan models.BrokerEvent, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Subscribers returns the number of active observers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
