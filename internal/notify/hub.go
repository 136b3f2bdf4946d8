// Package notify is the reference consumer: a per-user notification hub
// served over HTTP and Server-Sent Events behind the distributed validator.
package notify

import (
	"context"
	"sync"
	"time"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 16

// Notice is a message pushed to connected users. An empty To reaches everyone.
type Notice struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type subscriber struct {
	userID string
	ch     chan Notice
}

// Hub fans notices out to active subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]subscriber
	next   int
	buffer int
}

// NewHub returns an empty hub. Non-positive buffer selects DefaultBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[int]subscriber),
		buffer: buffer,
	}
}

// Subscribe registers userID and returns its notice channel. The channel is
// closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, userID string) <-chan Notice {
	ch := make(chan Notice, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscriber{userID: userID, ch: ch}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish delivers n to every matching subscriber and reports how many
// received it. Full queues are skipped.
func (h *Hub) Publish(n Notice) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, sub := range h.subs {
		if n.To != "" && sub.userID != n.To {
			continue
		}
		select {
		case sub.ch <- n:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
