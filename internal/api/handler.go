package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/neptunmap/neptun/internal/geocoder"
	"github.com/neptunmap/neptun/internal/merger"
	middlewares "github.com/neptunmap/neptun/internal/middleware"
	"github.com/neptunmap/neptun/internal/models"
	"github.com/neptunmap/neptun/internal/pipeline"
	"github.com/neptunmap/neptun/internal/processor"
	"github.com/neptunmap/neptun/internal/realtime"
	"github.com/neptunmap/neptun/internal/store"
)

// TrackStore is the part of the rolling track store the API reads and
// edits.
type TrackStore interface {
	Add(t *models.Track) bool
	Get(id string) *models.Track
	GetRecent(window time.Duration, includeHidden bool, limit int) []*models.Track
	GetActive(since time.Time) []*models.Track
	GetByOblast(oblast string) []*models.Track
	GetAll(includeHidden bool) []*models.Track
	Query(q models.TrackQuery) []*models.Track
	Stats() store.TrackStats
	Hide(id string) bool
	Unhide(id string) bool
	Remove(id string) bool
	Replace(keep []*models.Track, remove []string)
}

// MessageProcessor turns submitted messages into tracks.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, messageID, channel, text string, ts time.Time) pipeline.ProcessingResult
	Stats() pipeline.Stats
}

// TrackProcessor geocodes pending tracks.
type TrackProcessor interface {
	ProcessNow(ctx context.Context, maxItems int) int
	AddAndProcess(ctx context.Context, t *models.Track) bool
	Stats() processor.Stats
}

// Geocoder is the operator-facing side of the smart geocoder.
type Geocoder interface {
	LearnCorrection(query string, lat, lng float64, oblast, source string) error
	ClearNegativeCache()
	Stats() geocoder.SmartStats
}

// Deps wires the handler. Store is required; the rest may be nil, which
// turns the matching endpoints into 503s.
type Deps struct {
	Store     TrackStore
	Pipeline  MessageProcessor
	Processor TrackProcessor
	Geocoder  Geocoder
	Archive   store.Archive
	Bus       *realtime.Bus
	Merger    *merger.Merger

	AdminSecret string
	Version     string
	BuildTime   string
	GitCommit   string
}

// Handler handles HTTP requests for the API
type Handler struct {
	deps      Deps
	startTime time.Time
	now       func() time.Time
	heartbeat time.Duration
}

// NewHandler creates a new API handler
func NewHandler(deps Deps) *Handler {
	if deps.Merger == nil {
		deps.Merger = merger.New(0, 0)
	}
	return &Handler{
		deps:      deps,
		startTime: time.Now(),
		now:       time.Now,
		heartbeat: 15 * time.Second,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		// Health check endpoints
		r.Get("/health", h.healthHandler)
		r.Get("/health/ready", h.readinessHandler)
		r.Get("/health/live", h.livenessHandler)

		r.Get("/tracks", h.getTracksHandler)
		r.Get("/tracks/active", h.getActiveHandler)
		r.Get("/tracks/recent", h.getRecentHandler)
		r.Get("/tracks/oblast/{oblast}", h.getByOblastHandler)
		r.Get("/tracks/{id}", h.getTrackHandler)
		r.Get("/history", h.historyHandler)
		r.Get("/stats", h.statsHandler)
		r.Get("/stream", h.streamHandler)
		r.Post("/messages", h.postMessageHandler)

		// System info
		r.Get("/version", h.versionHandler)

		// Admin routes (protected by shared secret middleware)
		r.Route("/admin", func(r chi.Router) {
			r.Use(middlewares.AdminSecret(h.deps.AdminSecret))
			r.Post("/tracks", h.adminCreateTrack)
			r.Post("/tracks/{id}/hide", h.adminHideTrack)
			r.Post("/tracks/{id}/unhide", h.adminUnhideTrack)
			r.Delete("/tracks/{id}", h.adminDeleteTrack)
			r.Post("/corrections", h.adminLearnCorrection)
			r.Post("/merge", h.adminMerge)
			r.Post("/process", h.adminProcessNow)
			r.Post("/geocoder/negative-cache/clear", h.adminClearNegativeCache)
		})
	})

	// Root health check
	r.Get("/health", h.healthHandler)
}

// healthHandler provides basic health check
func (h *Handler) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   h.deps.Version,
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// readinessHandler checks if the application is ready to serve traffic
func (h *Handler) readinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	checks := map[string]string{
		"store": "ok",
	}

	statusCode := http.StatusOK

	if h.deps.Archive != nil {
		checks["archive"] = "ok"
		if err := h.deps.Archive.Health(ctx); err != nil {
			checks["archive"] = "error: " + err.Error()
			statusCode = http.StatusServiceUnavailable
		}
	}

	response := map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	}
	if statusCode != http.StatusOK {
		response["status"] = "not ready"
	}

	h.writeJSONResponse(w, statusCode, response)
}

// livenessHandler checks if the application is alive
func (h *Handler) livenessHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// versionHandler returns version information
func (h *Handler) versionHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"version":    h.deps.Version,
		"build_time": h.deps.BuildTime,
		"git_commit": h.deps.GitCommit,
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// statsHandler reports store, pipeline, processor and geocoder counters.
func (h *Handler) statsHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"tracks":    h.deps.Store.Stats(),
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
	}
	if h.deps.Pipeline != nil {
		response["pipeline"] = h.deps.Pipeline.Stats()
	}
	if h.deps.Processor != nil {
		response["processor"] = h.deps.Processor.Stats()
	}
	if h.deps.Geocoder != nil {
		response["geocoder"] = h.deps.Geocoder.Stats()
	}
	if h.deps.Bus != nil {
		response["stream"] = map[string]interface{}{
			"subscribers": h.deps.Bus.Subscribers(),
			"dropped":     h.deps.Bus.Dropped(),
		}
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// writeJSONResponse writes a JSON response
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeErrorResponse writes a standardized error response
func (h *Handler) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	response := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   message,
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetReqID(r.Context()),
	}

	h.writeJSONResponse(w, statusCode, response)
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}
