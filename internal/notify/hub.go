package notify

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

type subscriber struct {
	receiverID int64
	ch         chan Event
}

// Hub fan-outs events to in-process subscribers (SSE/WebSocket clients).
type Hub struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for receiverID (0 receives everything).
// The channel is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, receiverID int64) <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscriber{receiverID: receiverID, ch: ch}
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

// Publish delivers evt to matching subscribers.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.receiverID != 0 && s.receiverID != evt.ReceiverID {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Name() string { return "hub" }

func (h *Hub) Deliver(ctx context.Context, evt Event) error {
	h.Publish(evt)
	return nil
}
