package payments_http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"hostelpay/internal/feed"
)

const heartbeatInterval = 25 * time.Second

// StreamHandler pushes draft events to an admin view as Server-Sent Events.
type StreamHandler struct {
	hub    *feed.Hub
	logger *zap.Logger
}

func NewStreamHandler(hub *feed.Hub, l *zap.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, logger: l}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	h.logger.Info("Admin stream opened", zap.Int("subscribers", h.hub.Subscribers()))
	defer h.logger.Info("Admin stream closed")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("Failed to marshal draft event", zap.String("event_id", ev.EventID), zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.EventID, ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
