// Package merger folds duplicate reports of the same threat, seen in
// several channels within a short window, into one track.
package merger

import (
	"sort"
	"time"

	"github.com/neptunmap/neptun/internal/geo"
	"github.com/neptunmap/neptun/internal/models"
)

// Defaults for duplicate detection.
const (
	DefaultWindow     = 5 * time.Minute
	DefaultDistanceKm = 10.0
)

// Merger detects duplicates by threat type, time window and distance.
// It never mutates its input.
type Merger struct {
	window     time.Duration
	distanceKm float64
}

// New creates a merger; non-positive arguments select the defaults.
func New(window time.Duration, distanceKm float64) *Merger {
	if window <= 0 {
		window = DefaultWindow
	}
	if distanceKm <= 0 {
		distanceKm = DefaultDistanceKm
	}
	return &Merger{window: window, distanceKm: distanceKm}
}

// FindDuplicates groups tracks that report the same threat. Each group
// is anchored on its earliest track and holds at least two tracks.
func (m *Merger) FindDuplicates(tracks []*models.Track) [][]*models.Track {
	sorted := make([]*models.Track, 0, len(tracks))
	for _, t := range tracks {
		if t != nil {
			sorted = append(sorted, t)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	used := make(map[string]bool, len(sorted))
	var groups [][]*models.Track
	for i, anchor := range sorted {
		if used[anchor.ID] {
			continue
		}
		used[anchor.ID] = true
		group := []*models.Track{anchor}

		for _, other := range sorted[i+1:] {
			if other.Timestamp.Sub(anchor.Timestamp) > m.window {
				break
			}
			if used[other.ID] || other.ThreatType != anchor.ThreatType {
				continue
			}
			if anchor.HasCoords() && other.HasCoords() &&
				geo.Haversine(*anchor.Lat, *anchor.Lng, *other.Lat, *other.Lng) > m.distanceKm {
				continue
			}
			group = append(group, other)
			used[other.ID] = true
		}
		if len(group) > 1 {
			groups = append(groups, group)
		}
	}
	return groups
}

func completeness(t *models.Track) int {
	score := 0
	if t.HasCoords() {
		score += 10
	}
	if t.Place != "" {
		score += 5
	}
	if t.Target != "" {
		score += 3
	}
	if t.Source != "" {
		score += 2
	}
	if t.Oblast != "" {
		score++
	}
	return score
}

// MergeGroup returns a copy of the most complete track with missing
// fields filled from the others and the largest count. It returns nil
// for an empty group.
func MergeGroup(group []*models.Track) *models.Track {
	if len(group) == 0 {
		return nil
	}
	ranked := append([]*models.Track(nil), group...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return completeness(ranked[i]) > completeness(ranked[j])
	})

	base := ranked[0].Clone()
	for _, other := range ranked[1:] {
		if !base.HasCoords() && other.HasCoords() {
			base.SetCoords(*other.Lat, *other.Lng)
		}
		if base.Place == "" {
			base.Place = other.Place
		}
		if base.Target == "" {
			base.Target = other.Target
		}
		if base.Source == "" {
			base.Source = other.Source
		}
		if base.Oblast == "" {
			base.Oblast = other.Oblast
		}
		if base.Direction == "" {
			base.Direction = other.Direction
		}
		if other.Count > base.Count {
			base.Count = other.Count
		}
	}
	return base
}

// Result describes one Merge pass.
type Result struct {
	Tracks  []*models.Track `json:"-"`
	Merged  []*models.Track `json:"merged"`
	Removed []string        `json:"removed"`
}

// Merge returns the deduplicated list. Tracks outside any group are
// returned unchanged; each group is replaced by its merged track.
// Removed lists the ids that no longer appear.
func (m *Merger) Merge(tracks []*models.Track) Result {
	groups := m.FindDuplicates(tracks)
	replaced := make(map[string]*models.Track)
	dropped := make(map[string]bool)

	var res Result
	for _, g := range groups {
		merged := MergeGroup(g)
		replaced[merged.ID] = merged
		res.Merged = append(res.Merged, merged)
		for _, t := range g {
			if t.ID != merged.ID {
				dropped[t.ID] = true
				res.Removed = append(res.Removed, t.ID)
			}
		}
	}

	for _, t := range tracks {
		if t == nil || dropped[t.ID] {
			continue
		}
		if merged, ok := replaced[t.ID]; ok {
			res.Tracks = append(res.Tracks, merged)
			continue
		}
		res.Tracks = append(res.Tracks, t)
	}
	return res
}
