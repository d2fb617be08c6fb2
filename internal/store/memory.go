package store

import (
	"context"
	"sync"

	"github.com/neptunmap/neptun/internal/models"
)

// MemoryArchive implements Archive in process memory.
type MemoryArchive struct {
	mu     sync.RWMutex
	tracks map[string]*models.Track
}

// NewMemoryArchive creates an empty in-memory archive
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		tracks: make(map[string]*models.Track),
	}
}

// UpsertTracks stores copies, replacing existing ids.
func (a *MemoryArchive) UpsertTracks(ctx context.Context, tracks []*models.Track) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, t := range tracks {
		if t == nil || t.ID == "" {
			continue
		}
		a.tracks[t.ID] = t.Clone()
	}
	return nil
}

// QueryTracks returns matching tracks, newest first.
func (a *MemoryArchive) QueryTracks(ctx context.Context, q models.TrackQuery) ([]*models.Track, error) {
	a.mu.RLock()
	var result []*models.Track
	for _, t := range a.tracks {
		if q.Matches(t) {
			result = append(result, t.Clone())
		}
	}
	a.mu.RUnlock()

	sortNewestFirst(result)
	if q.Limit > 0 && q.Limit < len(result) {
		result = result[:q.Limit]
	}
	return result, nil
}

// GetTrack returns nil, nil when the id is unknown.
func (a *MemoryArchive) GetTrack(ctx context.Context, id string) (*models.Track, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tracks[id].Clone(), nil
}

// Health always returns nil for the in-memory archive
func (a *MemoryArchive) Health(ctx context.Context) error {
	return nil
}
