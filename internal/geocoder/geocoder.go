// Package geocoder resolves Ukrainian place names to coordinates through a
// local gazetteer, persisted caches, operator corrections and external
// HTTP providers.
package geocoder

import (
	"context"
	"fmt"
	"sort"

	"github.com/neptunmap/neptun/internal/geo"
	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/internal/models"
)

// Geocoder converts a place name to coordinates. Implementations return
// (nil, nil) when the place is not found; errors are reserved for failures
// the caller may want to log.
type Geocoder interface {
	Name() string
	// Priority orders geocoders in a chain; lower runs first.
	Priority() int
	Available() bool
	Geocode(ctx context.Context, query, region string) (*models.GeocodingResult, error)
}

// ProviderStats is a snapshot of an HTTP provider's counters
type ProviderStats struct {
	Name      string  `json:"name"`
	Enabled   bool    `json:"enabled"`
	Requests  int64   `json:"requests"`
	Hits      int64   `json:"hits"`
	Errors    int64   `json:"errors"`
	Throttled int64   `json:"throttled"`
	HitRate   float64 `json:"hit_rate"`
}

// sortByPriority returns a copy of gs ordered by Priority, stable for ties.
func sortByPriority(gs []Geocoder) []Geocoder {
	out := make([]Geocoder, 0, len(gs))
	for _, g := range gs {
		if g != nil {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority() < out[j].Priority() })
	return out
}

// safeGeocode runs g.Geocode and turns a panic into an error so one broken
// provider cannot take down the caller.
func safeGeocode(ctx context.Context, g Geocoder, query, region string) (res *models.GeocodingResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("geocoder panicked", "geocoder", g.Name(), "query", query, "panic", r)
			res, err = nil, fmt.Errorf("geocoder %s panicked: %v", g.Name(), r)
		}
	}()
	return g.Geocode(ctx, query, region)
}

func newResult(lat, lng float64, place, source string, confidence float64) *models.GeocodingResult {
	return &models.GeocodingResult{
		Coordinates: geo.Coordinates{Lat: lat, Lng: lng},
		PlaceName:   place,
		Source:      source,
		Confidence:  confidence,
	}
}
