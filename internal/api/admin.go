package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "github.com/neptunmap/neptun/internal/errors"
	"github.com/neptunmap/neptun/internal/geo"
	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/internal/models"
)

// ManualTrackRequest creates an operator track. Without coordinates the
// place is geocoded immediately.
type ManualTrackRequest struct {
	Place     string   `json:"place"`
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	Text      string   `json:"text"`
	Type      string   `json:"type"`
	Oblast    string   `json:"oblast"`
	Direction string   `json:"direction"`
	Count     int      `json:"count"`
}

// CorrectionRequest pins a place name to coordinates.
type CorrectionRequest struct {
	Query  string  `json:"query"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Oblast string  `json:"oblast"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// adminCreateTrack handles POST /admin/tracks
func (h *Handler) adminCreateTrack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ManualTrackRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Place = strings.TrimSpace(req.Place)
	hasCoords := req.Lat != nil && req.Lng != nil
	if (req.Lat == nil) != (req.Lng == nil) {
		h.writeErrorResponse(w, r, http.StatusBadRequest, "lat and lng must be given together")
		return
	}
	if hasCoords && !geo.ValidateCoords(*req.Lat, *req.Lng) {
		h.writeErrorResponse(w, r, http.StatusBadRequest, apperrors.ErrInvalidCoordinates.Error())
		return
	}
	if !hasCoords && req.Place == "" {
		h.writeErrorResponse(w, r, http.StatusBadRequest, "place or coordinates are required")
		return
	}
	if !hasCoords && h.deps.Processor == nil {
		h.writeErrorResponse(w, r, http.StatusServiceUnavailable, "geocoding not configured")
		return
	}

	count := req.Count
	if count <= 0 {
		count = 1
	}
	t := &models.Track{
		ID:         "manual_" + uuid.NewString(),
		Text:       req.Text,
		Timestamp:  h.now().UTC(),
		Channel:    "manual",
		Place:      req.Place,
		Oblast:     req.Oblast,
		ThreatType: models.ParseThreatType(req.Type),
		Count:      count,
		Direction:  req.Direction,
		Manual:     true,
	}
	if t.Text == "" {
		t.Text = req.Place
	}

	var stored bool
	if hasCoords {
		lat, lng := geo.RoundCoords(*req.Lat, *req.Lng)
		t.SetCoords(lat, lng)
		t.Geocoded = true
		stored = h.deps.Store.Add(t)
	} else {
		h.deps.Processor.AddAndProcess(ctx, t)
		stored = h.deps.Store.Get(t.ID) != nil
	}
	if !stored {
		h.writeErrorResponse(w, r, http.StatusInternalServerError, "track was not stored")
		return
	}

	saved := h.deps.Store.Get(t.ID)
	if h.deps.Bus != nil {
		h.deps.Bus.PublishTrack(saved)
	}
	logger.WithContext(ctx).Info("manual track created", "id", t.ID, "place", t.Place, "placed", saved.HasCoords())
	h.writeJSONResponse(w, http.StatusCreated, saved)
}

func (h *Handler) adminHideTrack(w http.ResponseWriter, r *http.Request) {
	h.toggleTrack(w, r, h.deps.Store.Hide, "hidden")
}

func (h *Handler) adminUnhideTrack(w http.ResponseWriter, r *http.Request) {
	h.toggleTrack(w, r, h.deps.Store.Unhide, "visible")
}

func (h *Handler) adminDeleteTrack(w http.ResponseWriter, r *http.Request) {
	h.toggleTrack(w, r, h.deps.Store.Remove, "deleted")
}

func (h *Handler) toggleTrack(w http.ResponseWriter, r *http.Request, op func(string) bool, state string) {
	id := chi.URLParam(r, "id")
	if !op(id) {
		h.writeErrorResponse(w, r, http.StatusNotFound, "Track not found")
		return
	}
	logger.WithContext(r.Context()).Info("track updated by admin", "id", id, "state", state)
	h.writeJSONResponse(w, http.StatusOK, map[string]string{"id": id, "status": state})
}

// adminLearnCorrection handles POST /admin/corrections
func (h *Handler) adminLearnCorrection(w http.ResponseWriter, r *http.Request) {
	if h.deps.Geocoder == nil {
		h.writeErrorResponse(w, r, http.StatusServiceUnavailable, "geocoder not configured")
		return
	}
	var req CorrectionRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	err := h.deps.Geocoder.LearnCorrection(req.Query, req.Lat, req.Lng, req.Oblast, "admin")
	var verr apperrors.ValidationError
	switch {
	case errors.As(err, &verr):
		h.writeErrorResponse(w, r, http.StatusBadRequest, verr.Error())
		return
	case errors.Is(err, apperrors.ErrInvalidCoordinates):
		h.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		// the correction is active in memory even when persisting it failed
		logger.WithContext(r.Context()).Error("failed to persist correction", "error", err)
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"query":     req.Query,
		"lat":       req.Lat,
		"lng":       req.Lng,
		"oblast":    req.Oblast,
		"persisted": err == nil,
	})
}

// adminMerge handles POST /admin/merge
func (h *Handler) adminMerge(w http.ResponseWriter, r *http.Request) {
	res := h.deps.Merger.Merge(h.deps.Store.GetAll(false))
	if len(res.Removed) > 0 {
		h.deps.Store.Replace(res.Merged, res.Removed)
	}
	removed := res.Removed
	if removed == nil {
		removed = []string{}
	}
	logger.WithContext(r.Context()).Info("tracks merged", "groups", len(res.Merged), "removed", len(removed))
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"groups":  len(res.Merged),
		"removed": removed,
	})
}

// adminProcessNow handles POST /admin/process?max=N
func (h *Handler) adminProcessNow(w http.ResponseWriter, r *http.Request) {
	if h.deps.Processor == nil {
		h.writeErrorResponse(w, r, http.StatusServiceUnavailable, "processor not configured")
		return
	}
	maxItems, err := intParam(r, "max", 50, 1, maxLimit)
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	start := time.Now()
	geocoded := h.deps.Processor.ProcessNow(r.Context(), maxItems)
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"geocoded":    geocoded,
		"duration_ms": time.Since(start).Milliseconds(),
		"stats":       h.deps.Processor.Stats(),
	})
}

// adminClearNegativeCache handles POST /admin/geocoder/negative-cache/clear
func (h *Handler) adminClearNegativeCache(w http.ResponseWriter, r *http.Request) {
	if h.deps.Geocoder == nil {
		h.writeErrorResponse(w, r, http.StatusServiceUnavailable, "geocoder not configured")
		return
	}
	h.deps.Geocoder.ClearNegativeCache()
	h.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "cleared"})
}
