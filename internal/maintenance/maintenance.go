// Package maintenance runs the periodic housekeeping cycle: track
// pruning and persistence, cache expiry, and history archiving.
package maintenance

import (
	"context"
	"time"

	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/internal/models"
)

// TrackStore is the store surface the cycle needs.
type TrackStore interface {
	Prune() int
	Save(force bool) (bool, error)
	GetAll(includeHidden bool) []*models.Track
}

// Cache is a persisted geocode cache.
type Cache interface {
	ClearExpired() int
	Save() error
}

// Archive receives snapshots of the live tracks.
type Archive interface {
	UpsertTracks(ctx context.Context, tracks []*models.Track) error
}

// Report summarizes one cycle.
type Report struct {
	Pruned   int  `json:"pruned"`
	Saved    bool `json:"saved"`
	Expired  int  `json:"expired"`
	Archived int  `json:"archived"`
	Errors   int  `json:"errors"`
}

// Runner performs the cycle. Cache and Archive may be nil.
type Runner struct {
	Store    TrackStore
	Cache    Cache
	Archive  Archive
	Interval time.Duration
}

// Run executes a cycle every Interval until ctx is done, then saves the
// store one last time.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce exposes a single cycle for tests and ops.
func (r *Runner) RunOnce(ctx context.Context) Report {
	var rep Report

	rep.Pruned = r.Store.Prune()
	saved, err := r.Store.Save(false)
	if err != nil {
		rep.Errors++
		logger.Error("maintenance: track save failed", "error", err)
	}
	rep.Saved = saved

	if r.Cache != nil {
		rep.Expired = r.Cache.ClearExpired()
		if err := r.Cache.Save(); err != nil {
			rep.Errors++
			logger.Warn("maintenance: cache save failed", "error", err)
		}
	}

	if r.Archive != nil {
		tracks := r.Store.GetAll(true)
		if len(tracks) > 0 {
			if err := r.Archive.UpsertTracks(ctx, tracks); err != nil {
				rep.Errors++
				logger.Warn("maintenance: archive upsert failed", "error", err)
			} else {
				rep.Archived = len(tracks)
			}
		}
	}

	logger.Debug("maintenance cycle", "pruned", rep.Pruned, "saved", rep.Saved, "expired", rep.Expired, "archived", rep.Archived)
	return rep
}

func (r *Runner) flush() {
	if _, err := r.Store.Save(true); err != nil {
		logger.Error("maintenance: final track save failed", "error", err)
	}
	if r.Cache != nil {
		if err := r.Cache.Save(); err != nil {
			logger.Warn("maintenance: final cache save failed", "error", err)
		}
	}
}
