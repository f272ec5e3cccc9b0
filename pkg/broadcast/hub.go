package broadcast

import (
	"context"
	"sync"

	"github.com/platinummonkey/opsdesk/pkg/observability"
)

// DefaultBuffer is the per-subscriber queue length
const DefaultBuffer = 16

// Hub fans events out to in-process subscribers. Sends never block: a
// subscriber whose queue is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	buffer  int
	metrics *observability.Metrics
}

// NewHub creates a hub. metrics may be nil.
func NewHub(metrics *observability.Metrics) *Hub {
	return &Hub{
		subs:    make(map[int]chan Event),
		buffer:  DefaultBuffer,
		metrics: metrics,
	}
}

// Subscribe registers a subscriber. The channel is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.BroadcastSubscribers.Inc()
	}

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
		if h.metrics != nil {
			h.metrics.BroadcastSubscribers.Dec()
		}
	}()

	return ch
}

// Publish delivers evt to every subscriber with room in its queue
func (h *Hub) Publish(ctx context.Context, evt Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Len returns the number of subscribers
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
