package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/internal/models"
	"github.com/neptunmap/neptun/internal/store"
)

const maxLimit = 1000

// TracksResponse wraps a list of map markers.
type TracksResponse struct {
	Data      []models.APITrack `json:"data"`
	Count     int               `json:"count"`
	Timestamp time.Time         `json:"timestamp"`
}

func (h *Handler) writeTracks(w http.ResponseWriter, tracks []*models.Track, maxAge int) {
	data := store.ToAPI(tracks)
	if data == nil {
		data = []models.APITrack{}
	}
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(maxAge))
	h.writeJSONResponse(w, http.StatusOK, TracksResponse{Data: data, Count: len(data), Timestamp: time.Now().UTC()})
}

// getTracksHandler handles GET /tracks
func (h *Handler) getTracksHandler(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseTrackQuery(r)
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q.OnlyGeocoded = true
	h.writeTracks(w, h.deps.Store.Query(q), 15)
}

// getActiveHandler handles GET /tracks/active?minutes=N
func (h *Handler) getActiveHandler(w http.ResponseWriter, r *http.Request) {
	minutes, err := intParam(r, "minutes", 60, 1, 1440)
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	since := h.now().Add(-time.Duration(minutes) * time.Minute)
	h.writeTracks(w, h.deps.Store.GetActive(since), 15)
}

// getRecentHandler handles GET /tracks/recent?hours=N&limit=M
func (h *Handler) getRecentHandler(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r, "hours", 24, 1, 168)
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", 0, 0, maxLimit)
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	h.writeTracks(w, h.deps.Store.GetRecent(time.Duration(hours)*time.Hour, false, limit), 30)
}

// getByOblastHandler handles GET /tracks/oblast/{oblast}
func (h *Handler) getByOblastHandler(w http.ResponseWriter, r *http.Request) {
	oblast := strings.TrimSpace(chi.URLParam(r, "oblast"))
	if oblast == "" {
		h.writeErrorResponse(w, r, http.StatusBadRequest, "oblast is required")
		return
	}
	var visible []*models.Track
	for _, t := range h.deps.Store.GetByOblast(oblast) {
		if !t.Hidden {
			visible = append(visible, t)
		}
	}
	h.writeTracks(w, visible, 30)
}

// getTrackHandler handles GET /tracks/{id}. It returns the stored track,
// including one still waiting for coordinates.
func (h *Handler) getTrackHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t := h.deps.Store.Get(id)
	if t == nil || t.Hidden {
		h.writeErrorResponse(w, r, http.StatusNotFound, "Track not found")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, t)
}

// historyHandler handles GET /history against the long-term archive.
func (h *Handler) historyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deps.Archive == nil {
		h.writeErrorResponse(w, r, http.StatusServiceUnavailable, "history archive not configured")
		return
	}
	q, err := h.parseTrackQuery(r)
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if q.Limit == 0 {
		q.Limit = 200
	}
	tracks, err := h.deps.Archive.QueryTracks(ctx, q)
	if err != nil {
		logger.WithContext(ctx).Error("Failed to query history", "error", err)
		h.writeErrorResponse(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}
	if tracks == nil {
		tracks = []*models.Track{}
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"data":      tracks,
		"count":     len(tracks),
		"timestamp": time.Now().UTC(),
	})
}

// parseTrackQuery parses query parameters into TrackQuery
func (h *Handler) parseTrackQuery(r *http.Request) (models.TrackQuery, error) {
	q := models.TrackQuery{}
	values := r.URL.Query()

	limit, err := intParam(r, "limit", 0, 0, maxLimit)
	if err != nil {
		return q, err
	}
	q.Limit = limit

	if sinceStr := values.Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return q, fmt.Errorf("invalid since format: %s", sinceStr)
		}
		q.Since = since
	}
	if untilStr := values.Get("until"); untilStr != "" {
		until, err := time.Parse(time.RFC3339, untilStr)
		if err != nil {
			return q, fmt.Errorf("invalid until format: %s", untilStr)
		}
		q.Until = until
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		return q, fmt.Errorf("until must not be before since")
	}

	q.Channels = values["channel"]
	for _, s := range values["type"] {
		tt := models.ParseThreatType(s)
		if tt == models.ThreatUnknown && !strings.EqualFold(s, string(models.ThreatUnknown)) {
			return q, fmt.Errorf("unknown threat type: %s", s)
		}
		q.Types = append(q.Types, tt)
	}
	q.Oblast = values.Get("oblast")
	return q, nil
}

// intParam reads an optional integer query parameter bounded to [lo, hi].
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", name, raw)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be between %d and %d", name, lo, hi)
	}
	return v, nil
}
