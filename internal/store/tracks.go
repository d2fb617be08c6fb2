package store

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/neptunmap/neptun/internal/errors"
	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/internal/metrics"
	"github.com/neptunmap/neptun/internal/models"
	"github.com/neptunmap/neptun/pkg/utils"
)

// Config controls retention and persistence of a TrackStore.
type Config struct {
	Path             string
	RetentionMinutes int
	MaxCount         int
	BackupCount      int
	AutoSaveInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetentionMinutes <= 0 {
		c.RetentionMinutes = 1440
	}
	if c.MaxCount <= 0 {
		c.MaxCount = 500
	}
	if c.BackupCount < 0 {
		c.BackupCount = 0
	}
	if c.AutoSaveInterval <= 0 {
		c.AutoSaveInterval = time.Minute
	}
	return c
}

// TrackStore is the in-memory track map backed by a JSON snapshot file.
// All methods are safe for concurrent use and return copies.
type TrackStore struct {
	cfg Config

	mu       sync.RWMutex
	tracks   map[string]*models.Track
	dirty    bool
	gen      uint64
	lastSave time.Time

	// serializes snapshot writes and backup rotation
	saveMu sync.Mutex

	now func() time.Time
}

// TrackStats summarizes visible tracks.
type TrackStats struct {
	Count    int            `json:"count"`
	ByType   map[string]int `json:"by_type"`
	ByOblast map[string]int `json:"by_oblast"`
	Total    int            `json:"total"`
	Hidden   int            `json:"hidden"`
}

// NewTrackStore loads cfg.Path (falling back to backups on corruption) and
// returns the store. An empty path keeps the store memory-only.
func NewTrackStore(cfg Config) *TrackStore {
	s := &TrackStore{
		cfg:    cfg.withDefaults(),
		tracks: make(map[string]*models.Track),
		now:    time.Now,
	}
	s.lastSave = s.now()
	s.load()
	return s
}

// Add inserts a copy of t. It returns false when the id is empty or
// already present.
func (s *TrackStore) Add(t *models.Track) bool {
	if t == nil || t.ID == "" {
		return false
	}
	s.mu.Lock()
	if _, exists := s.tracks[t.ID]; exists {
		s.mu.Unlock()
		return false
	}
	s.tracks[t.ID] = t.Clone()
	s.markDirtyLocked()
	s.enforceMaxCountLocked()
	s.mu.Unlock()

	s.MaybeAutoSave()
	return true
}

// AddBatch inserts every track not already present and returns how many
// were added.
func (s *TrackStore) AddBatch(tracks []*models.Track) int {
	added := 0
	s.mu.Lock()
	for _, t := range tracks {
		if t == nil || t.ID == "" {
			continue
		}
		if _, exists := s.tracks[t.ID]; exists {
			continue
		}
		s.tracks[t.ID] = t.Clone()
		added++
	}
	if added > 0 {
		s.markDirtyLocked()
		s.enforceMaxCountLocked()
	}
	s.mu.Unlock()

	if added > 0 {
		s.MaybeAutoSave()
	}
	return added
}

// Get returns a copy of the track or nil.
func (s *TrackStore) Get(id string) *models.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracks[id].Clone()
}

// GetAll returns every track, newest first.
func (s *TrackStore) GetAll(includeHidden bool) []*models.Track {
	return s.collect(func(t *models.Track) bool {
		return includeHidden || !t.Hidden
	}, 0)
}

// GetRecent returns tracks from the last window, newest first. A limit of
// zero means no limit.
func (s *TrackStore) GetRecent(window time.Duration, includeHidden bool, limit int) []*models.Track {
	return s.GetSince(s.now().Add(-window), includeHidden, limit)
}

// GetSince returns tracks at or after since, newest first.
func (s *TrackStore) GetSince(since time.Time, includeHidden bool, limit int) []*models.Track {
	return s.collect(func(t *models.Track) bool {
		return !t.Timestamp.Before(since) && (includeHidden || !t.Hidden)
	}, limit)
}

// GetActive returns visible tracks at or after since, newest first.
func (s *TrackStore) GetActive(since time.Time) []*models.Track {
	return s.GetSince(since, false, 0)
}

// GetByOblast matches the oblast as a case-insensitive substring.
func (s *TrackStore) GetByOblast(oblast string) []*models.Track {
	needle := strings.ToLower(oblast)
	return s.collect(func(t *models.Track) bool {
		return t.Oblast != "" && strings.Contains(strings.ToLower(t.Oblast), needle)
	}, 0)
}

// GetUngeocoded returns tracks still waiting for the processor.
func (s *TrackStore) GetUngeocoded() []*models.Track {
	out := s.collect(func(t *models.Track) bool {
		return !t.Geocoded && t.Lat == nil && !t.IsAllClear
	}, 0)
	// oldest first so the backlog drains in arrival order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Query filters with a TrackQuery, newest first.
func (s *TrackStore) Query(q models.TrackQuery) []*models.Track {
	return s.collect(q.Matches, q.Limit)
}

func (s *TrackStore) collect(keep func(*models.Track) bool, limit int) []*models.Track {
	s.mu.RLock()
	out := make([]*models.Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortNewestFirst(tracks []*models.Track) {
	sort.SliceStable(tracks, func(i, j int) bool {
		if tracks[i].Timestamp.Equal(tracks[j].Timestamp) {
			return tracks[i].ID < tracks[j].ID
		}
		return tracks[i].Timestamp.After(tracks[j].Timestamp)
	})
}

// Update applies fn to the stored track. It returns false when id is
// unknown. fn must not retain the pointer.
func (s *TrackStore) Update(id string, fn func(*models.Track)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracks[id]
	if !ok {
		return false
	}
	fn(t)
	t.ID = id
	s.markDirtyLocked()
	return true
}

// Hide soft-deletes a track.
func (s *TrackStore) Hide(id string) bool {
	return s.Update(id, func(t *models.Track) { t.Hidden = true })
}

// Unhide restores a hidden track.
func (s *TrackStore) Unhide(id string) bool {
	return s.Update(id, func(t *models.Track) { t.Hidden = false })
}

// Remove hard-deletes a track.
func (s *TrackStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tracks[id]; !ok {
		return false
	}
	delete(s.tracks, id)
	s.markDirtyLocked()
	return true
}

// Replace swaps the stored tracks for the given ids with merged versions.
// Ids in remove are deleted. It is used to persist merger output.
func (s *TrackStore) Replace(keep []*models.Track, remove []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range remove {
		delete(s.tracks, id)
	}
	for _, t := range keep {
		if t != nil && t.ID != "" {
			s.tracks[t.ID] = t.Clone()
		}
	}
	s.markDirtyLocked()
}

// Prune drops auto tracks older than the retention window, then applies
// the max-count bound. Manual tracks are never pruned.
func (s *TrackStore) Prune() int {
	cutoff := s.now().Add(-time.Duration(s.cfg.RetentionMinutes) * time.Minute)

	s.mu.Lock()
	removed := 0
	for id, t := range s.tracks {
		if !t.Manual && t.Timestamp.Before(cutoff) {
			delete(s.tracks, id)
			removed++
		}
	}
	removed += s.enforceMaxCountLocked()
	if removed > 0 {
		s.markDirtyLocked()
	}
	s.mu.Unlock()

	if removed > 0 {
		metrics.RecordTracksPruned(removed)
		logger.Debug("tracks pruned", "removed", removed)
	}
	return removed
}

// enforceMaxCountLocked keeps the newest auto tracks that fit next to the
// manual ones.
func (s *TrackStore) enforceMaxCountLocked() int {
	if len(s.tracks) <= s.cfg.MaxCount {
		return 0
	}
	var auto []*models.Track
	manual := 0
	for _, t := range s.tracks {
		if t.Manual {
			manual++
		} else {
			auto = append(auto, t)
		}
	}
	limit := s.cfg.MaxCount - manual
	if limit < 0 {
		limit = 0
	}
	if len(auto) <= limit {
		return 0
	}
	sortNewestFirst(auto)
	for _, t := range auto[limit:] {
		delete(s.tracks, t.ID)
	}
	s.markDirtyLocked()
	return len(auto) - limit
}

// Count returns the number of tracks.
func (s *TrackStore) Count(includeHidden bool) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if includeHidden {
		return len(s.tracks)
	}
	n := 0
	for _, t := range s.tracks {
		if !t.Hidden {
			n++
		}
	}
	return n
}

// Stats counts visible tracks by type and oblast.
func (s *TrackStore) Stats() TrackStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := TrackStats{
		ByType:   make(map[string]int),
		ByOblast: make(map[string]int),
		Total:    len(s.tracks),
	}
	for _, t := range s.tracks {
		if t.Hidden {
			st.Hidden++
			continue
		}
		st.Count++
		st.ByType[t.ThreatType.String()]++
		oblast := t.Oblast
		if oblast == "" {
			oblast = "unknown"
		}
		st.ByOblast[oblast]++
	}
	return st
}

// ToAPIFormat projects tracks with coordinates for map clients.
func (s *TrackStore) ToAPIFormat(includeHidden bool) []models.APITrack {
	return ToAPI(s.GetAll(includeHidden))
}

// ToAPI projects the placed tracks in order, skipping those without
// coordinates.
func ToAPI(tracks []*models.Track) []models.APITrack {
	out := make([]models.APITrack, 0, len(tracks))
	for _, t := range tracks {
		if a, ok := t.ToAPI(); ok {
			out = append(out, a)
		}
	}
	return out
}

func (s *TrackStore) markDirtyLocked() {
	s.dirty = true
	s.gen++
}

// Dirty reports whether there are unsaved changes.
func (s *TrackStore) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// MaybeAutoSave saves when the auto-save interval has elapsed. Errors are
// logged and retried on a later call.
func (s *TrackStore) MaybeAutoSave() {
	s.mu.RLock()
	due := s.dirty && s.now().Sub(s.lastSave) >= s.cfg.AutoSaveInterval
	s.mu.RUnlock()
	if !due {
		return
	}
	if _, err := s.Save(false); err != nil {
		logger.Warn("track auto-save failed", "path", s.cfg.Path, "error", err)
	}
}

// Save writes a snapshot when the store is dirty or force is set. The
// previous file is rotated into .bak1..N first; N is the oldest. It
// reports whether a file was written.
func (s *TrackStore) Save(force bool) (bool, error) {
	if s.cfg.Path == "" {
		return false, nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	if !force && !s.dirty {
		s.mu.RUnlock()
		return false, nil
	}
	snapshot := make([]*models.Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		snapshot = append(snapshot, t.Clone())
	}
	gen := s.gen
	s.mu.RUnlock()

	sortNewestFirst(snapshot)
	records := make([]json.RawMessage, len(snapshot))
	for i, t := range snapshot {
		rec, err := t.MarshalRecord()
		if err != nil {
			return false, apperrors.StorageError{Op: "encode", Path: s.cfg.Path, Err: err}
		}
		records[i] = rec
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return false, apperrors.StorageError{Op: "encode", Path: s.cfg.Path, Err: err}
	}

	s.rotateBackups()
	if err := utils.WriteFile(s.cfg.Path, data, 0o644); err != nil {
		return false, apperrors.StorageError{Op: "write", Path: s.cfg.Path, Err: err}
	}

	s.mu.Lock()
	if s.gen == gen {
		s.dirty = false
	}
	s.lastSave = s.now()
	s.mu.Unlock()

	logger.Debug("tracks saved", "path", s.cfg.Path, "count", len(snapshot))
	return true, nil
}

func (s *TrackStore) rotateBackups() {
	if err := utils.RotateBackups(s.cfg.Path, s.cfg.BackupCount); err != nil {
		logger.Warn("backup rotation failed", "path", s.cfg.Path, "error", err)
	}
}

func (s *TrackStore) load() {
	if s.cfg.Path == "" {
		return
	}
	tracks, err := readTrackFile(s.cfg.Path)
	if err == nil {
		s.tracks = tracks
		logger.Info("tracks loaded", "path", s.cfg.Path, "count", len(tracks))
		return
	}
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	logger.Warn("track file unreadable, trying backups", "path", s.cfg.Path, "error", err)

	for i := 1; i <= s.cfg.BackupCount; i++ {
		p := utils.BackupPath(s.cfg.Path, i)
		tracks, err := readTrackFile(p)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.Warn("backup unreadable", "path", p, "error", err)
			}
			continue
		}
		s.tracks = tracks
		logger.Info("tracks restored from backup", "path", p, "count", len(tracks))
		return
	}
	logger.Error("no readable track file or backup, starting empty", "path", s.cfg.Path)
}

// readTrackFile decodes a JSON array of tracks. Malformed entries are
// skipped; a malformed document is an error.
func readTrackFile(path string) (map[string]*models.Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, apperrors.StorageError{Op: "decode", Path: path, Err: err}
	}
	out := make(map[string]*models.Track, len(items))
	for _, item := range items {
		var t models.Track
		if err := json.Unmarshal(item, &t); err != nil || t.ID == "" {
			continue
		}
		out[t.ID] = &t
	}
	return out, nil
}
