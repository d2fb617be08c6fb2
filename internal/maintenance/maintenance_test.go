package maintenance

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/neptunmap/neptun/internal/models"
	"github.com/neptunmap/neptun/internal/store"
)

type MockCache struct {
	mu      sync.Mutex
	expired int
	saves   int
	err     error
}

func (m *MockCache) ClearExpired() int { return m.expired }

func (m *MockCache) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	return m.err
}

type MockArchive struct {
	ids []string
	err error
}

func (m *MockArchive) UpsertTracks(_ context.Context, tracks []*models.Track) error {
	if m.err != nil {
		return m.err
	}
	for _, t := range tracks {
		m.ids = append(m.ids, t.ID)
	}
	return nil
}

func newStore(t *testing.T) *store.TrackStore {
	t.Helper()
	s := store.NewTrackStore(store.Config{Path: filepath.Join(t.TempDir(), "tracks.json"), RetentionMinutes: 60})
	now := time.Now().UTC()
	s.Add(&models.Track{ID: "fresh", Timestamp: now, ThreatType: models.ThreatDrone})
	s.Add(&models.Track{ID: "stale", Timestamp: now.Add(-2 * time.Hour), ThreatType: models.ThreatDrone})
	s.Add(&models.Track{ID: "manual", Timestamp: now.Add(-2 * time.Hour), ThreatType: models.ThreatDrone, Manual: true})
	return s
}

func TestRunOnce(t *testing.T) {
	tests := []struct {
		name       string
		cache      *MockCache
		archive    *MockArchive
		wantErrors int
		wantArch   int
	}{
		{name: "store only"},
		{name: "all collaborators", cache: &MockCache{expired: 3}, archive: &MockArchive{}, wantArch: 2},
		{name: "failures are counted", cache: &MockCache{err: errors.New("disk full")}, archive: &MockArchive{err: errors.New("db down")}, wantErrors: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			r := &Runner{Store: s}
			if tt.cache != nil {
				r.Cache = tt.cache
			}
			if tt.archive != nil {
				r.Archive = tt.archive
			}

			rep := r.RunOnce(context.Background())
			if rep.Pruned != 1 || s.Get("stale") != nil || s.Get("manual") == nil {
				t.Errorf("unexpected prune result %+v", rep)
			}
			if !rep.Saved || s.Dirty() {
				t.Error("store should be saved")
			}
			if rep.Errors != tt.wantErrors || rep.Archived != tt.wantArch {
				t.Errorf("report %+v", rep)
			}
			if tt.cache != nil && (tt.cache.saves != 1 || rep.Expired != tt.cache.expired) {
				t.Errorf("cache saves=%d expired=%d", tt.cache.saves, rep.Expired)
			}
		})
	}
}

func TestRunFlushesOnShutdown(t *testing.T) {
	s := newStore(t)
	cache := &MockCache{}
	r := &Runner{Store: s, Cache: cache, Interval: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if s.Dirty() {
		t.Error("store should be flushed on shutdown")
	}
	if cache.saves != 1 {
		t.Errorf("cache saves = %d, want 1", cache.saves)
	}
}
