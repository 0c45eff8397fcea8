package api

import (
	"context"
	"log/slog"
	"sync"

	"github.com/eargollo/warren/internal/engine"
)

// Hub is the single consumer of the engine's notification stream. It fans
// events out to SSE subscribers and keeps draining even with none connected,
// so engine workers never block on a full channel.
type Hub struct {
	src <-chan engine.Notification

	mu   sync.Mutex
	subs map[chan engine.Notification]string // subscriber -> session filter ("" = all)
}

func NewHub(src <-chan engine.Notification) *Hub {
	return &Hub{src: src, subs: make(map[chan engine.Notification]string)}
}

// Subscribe registers a subscriber. A non-empty session limits delivery to
// events for that session plus unscoped events. The returned channel is
// closed by Unsubscribe.
func (h *Hub) Subscribe(session string) chan engine.Notification {
	ch := make(chan engine.Notification, 256)
	h.mu.Lock()
	h.subs[ch] = session
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan engine.Notification) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Run pumps notifications until the source closes or ctx is cancelled. Slow
// subscribers lose events rather than stalling the rest.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case n, ok := <-h.src:
			if !ok {
				return
			}
			h.broadcast(n)
		case <-ctx.Done():
			// Keep draining so engine shutdown can complete; the engine
			// closes the channel when it is done.
			for n := range h.src {
				h.broadcast(n)
			}
			return
		}
	}
}

func (h *Hub) broadcast(n engine.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch, session := range h.subs {
		if session != "" && n.SessionID != "" && n.SessionID != session {
			continue
		}
		select {
		case ch <- n:
		default:
			slog.Debug("dropping event for slow subscriber", "type", n.Type)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		close(ch)
	}
	h.subs = make(map[chan engine.Notification]string)
}
