package app

import (
	"sync"

	"quiz-progress-service/internal/domain"
)

// Hub fans out progress updates to the subscribers of each user.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.ProgressView]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]map[chan domain.ProgressView]struct{})}
}

// Subscribe registers a buffered channel for userID. The caller must invoke
// the returned cancel function to avoid leaks.
func (h *Hub) Subscribe(userID string) (<-chan domain.ProgressView, func()) {
	ch := make(chan domain.ProgressView, 8)

	h.mu.Lock()
	subs, ok := h.subscribers[userID]
	if !ok {
		subs = make(map[chan domain.ProgressView]struct{})
		h.subscribers[userID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.subscribers[userID]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.subscribers, userID)
		}
	}
	return ch, cancel
}

// Publish delivers view to every subscriber of userID without blocking.
func (h *Hub) Publish(userID string, view domain.ProgressView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[userID] {
		select {
		case ch <- view:
		default:
			// slow subscriber: drop its oldest update so the newest one fits
			select {
			case <-ch:
			default:
			}
			ch <- view
		}
	}
}

// Subscribers reports how many channels are registered for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[userID])
}
