package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/pkg/utils"
)

// MessageRequest is a channel message pushed by an ingest relay.
type MessageRequest struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

const maxMessageBody = 64 << 10

// postMessageHandler handles POST /messages. A missing id is derived
// from channel, text and timestamp so retries deduplicate.
func (h *Handler) postMessageHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Pipeline == nil {
		h.writeErrorResponse(w, r, http.StatusServiceUnavailable, "pipeline not configured")
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBody)).Decode(&req); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Channel = strings.TrimSpace(req.Channel)
	if req.Channel == "" || strings.TrimSpace(req.Text) == "" {
		h.writeErrorResponse(w, r, http.StatusBadRequest, "channel and text are required")
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = h.now().UTC()
	}
	if req.ID == "" {
		req.ID = utils.StableID(req.Channel, req.Text, req.Timestamp.UTC().Format(time.RFC3339))
	}

	res := h.deps.Pipeline.ProcessMessage(ctx, req.ID, req.Channel, req.Text, req.Timestamp)
	if !res.Success {
		logger.WithContext(ctx).Warn("message processing failed", "channel", req.Channel, "message_id", req.ID, "error", res.Error)
		h.writeJSONResponse(w, http.StatusUnprocessableEntity, res)
		return
	}

	status := http.StatusOK
	if res.MarkersCreated > 0 {
		status = http.StatusCreated
	}
	h.writeJSONResponse(w, status, res)
}
