package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// eventsHandler streams engine notifications as server-sent events.
// GET /api/events?session={id} limits the stream to one session's events.
type eventsHandler struct {
	hub *Hub
}

func (h *eventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch := h.hub.Subscribe(r.URL.Query().Get("session"))
	defer h.hub.Unsubscribe(ch)

	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				slog.Error("failed to marshal event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Type, data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
