package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/internal/models"
	"github.com/neptunmap/neptun/internal/realtime"
)

// streamHandler handles GET /stream as server-sent events. Optional
// oblast and type parameters narrow the feed.
func (h *Handler) streamHandler(w http.ResponseWriter, r *http.Request) {
	if h.deps.Bus == nil {
		h.writeErrorResponse(w, r, http.StatusServiceUnavailable, "stream not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeErrorResponse(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	events := h.deps.Bus.Subscribe(ctx, 32, streamFilter(r))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	log := logger.WithContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev.Track)
			if err != nil {
				log.Warn("failed to encode stream event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", ev.Type, ev.Track.ID, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func streamFilter(r *http.Request) realtime.Filter {
	oblast := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("oblast")))
	var types []string
	for _, s := range r.URL.Query()["type"] {
		types = append(types, string(models.ParseThreatType(s)))
	}
	if oblast == "" && len(types) == 0 {
		return nil
	}
	return func(t models.APITrack) bool {
		if oblast != "" && !strings.Contains(strings.ToLower(t.Oblast), oblast) {
			return false
		}
		if len(types) == 0 {
			return true
		}
		for _, typ := range types {
			if typ == t.Type {
				return true
			}
		}
		return false
	}
}
