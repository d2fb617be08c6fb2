package geocoder

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/internal/models"
	"github.com/neptunmap/neptun/internal/normalizer"
)

// Correction is an operator-pinned coordinate for a place name.
type Correction struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Place     string  `json:"place"`
	Oblast    *string `json:"oblast"`
	Source    string  `json:"source"`
	Timestamp float64 `json:"timestamp"`
}

type learningFile struct {
	Corrections map[string]Correction `json:"corrections"`
	SavedAt     float64               `json:"saved_at"`
}

// LearningStore holds manual corrections keyed by "name_oblast" and by
// "name" alone.
type LearningStore struct {
	path    string
	mu      sync.RWMutex
	entries map[string]Correction
	dirty   bool
	now     func() time.Time
}

// NewLearningStore loads corrections from path. An empty path keeps the
// store in memory only.
func NewLearningStore(path string) *LearningStore {
	s := &LearningStore{path: path, entries: make(map[string]Correction), now: time.Now}
	s.load()
	return s
}

func learningKey(name, oblast string) string {
	if oblast == "" {
		return name
	}
	return name + "_" + oblast
}

// Lookup finds a correction for an already-normalized name, trying the
// region-qualified key first.
func (s *LearningStore) Lookup(normalized, oblast string) *models.GeocodingResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if oblast != "" {
		if e, ok := s.entries[learningKey(normalized, oblast)]; ok {
			r := newResult(e.Lat, e.Lng, placeOr(e.Place, normalized), models.SourceLearning, 0.99)
			r.Oblast = oblast
			return r
		}
	}
	if e, ok := s.entries[normalized]; ok {
		r := newResult(e.Lat, e.Lng, placeOr(e.Place, normalized), models.SourceLearning, 0.95)
		if e.Oblast != nil {
			r.Oblast = *e.Oblast
		}
		return r
	}
	return nil
}

func placeOr(place, fallback string) string {
	if place == "" {
		return fallback
	}
	return place
}

// Learn stores a correction and persists the store. It returns the
// normalized name and oblast it was filed under.
func (s *LearningStore) Learn(query string, lat, lng float64, oblast, source string) (string, string, error) {
	normalized := normalizer.NormalizeCity(query)
	var normOblast string
	if oblast != "" {
		normOblast = normalizer.NormalizeOblast(oblast)
	}
	if source == "" {
		source = models.SourceManual
	}
	e := Correction{
		Lat:       lat,
		Lng:       lng,
		Place:     query,
		Source:    source,
		Timestamp: unixSeconds(s.now()),
	}
	if normOblast != "" {
		o := normOblast
		e.Oblast = &o
	}

	s.mu.Lock()
	s.entries[learningKey(normalized, normOblast)] = e
	if normOblast != "" {
		if _, ok := s.entries[normalized]; !ok {
			s.entries[normalized] = e
		}
	}
	s.dirty = true
	s.mu.Unlock()

	return normalized, normOblast, s.Save()
}

// Len returns the number of stored keys.
func (s *LearningStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Save writes the store when it has unsaved changes.
func (s *LearningStore) Save() error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	snapshot := make(map[string]Correction, len(s.entries))
	for k, v := range s.entries {
		snapshot[k] = v
	}
	if err := writeJSONAtomic(s.path, learningFile{Corrections: snapshot, SavedAt: unixSeconds(s.now())}, true); err != nil {
		return err
	}
	s.dirty = false
	logger.Debug("saved learned geocodes", "count", len(snapshot))
	return nil
}

func (s *LearningStore) load() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to load learning data", "path", s.path, "error", err)
		}
		return
	}
	var f learningFile
	if err := json.Unmarshal(data, &f); err != nil {
		logger.Warn("failed to decode learning data", "path", s.path, "error", err)
		return
	}
	if f.Corrections != nil {
		s.entries = f.Corrections
	}
	logger.Info("loaded learned geocodes", "count", len(s.entries))
}
