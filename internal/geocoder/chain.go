package geocoder

import (
	"context"
	"strings"
	"sync"

	"github.com/neptunmap/neptun/internal/geo"
	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/internal/metrics"
	"github.com/neptunmap/neptun/internal/models"
)

// Chain tries geocoders in priority order until one returns a result.
// An optional cache is consulted before any geocoder and updated after.
type Chain struct {
	geocoders []Geocoder
	cache     *GeocodeCache

	mu        sync.Mutex
	total     int64
	cacheHits int64
	failures  int64
	hits      map[string]int64
}

func NewChain(cache *GeocodeCache, geocoders ...Geocoder) *Chain {
	sorted := sortByPriority(geocoders)
	hits := make(map[string]int64, len(sorted))
	for _, g := range sorted {
		hits[g.Name()] = 0
	}
	return &Chain{geocoders: sorted, cache: cache, hits: hits}
}

func (c *Chain) Name() string    { return "chain" }
func (c *Chain) Priority() int   { return 0 }
func (c *Chain) Available() bool { return true }

func (c *Chain) Geocode(ctx context.Context, query, region string) (*models.GeocodingResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	c.mu.Lock()
	c.total++
	c.mu.Unlock()

	if c.cache != nil {
		if cached := c.cache.Get(query, region); cached != nil {
			c.mu.Lock()
			c.cacheHits++
			c.mu.Unlock()
			metrics.RecordGeocode(models.SourceCache, "hit")
			return cached, nil
		}
		if c.cache.IsNegative(query, region) {
			metrics.RecordGeocode(models.SourceCache, "negative")
			return nil, nil
		}
	}

	for _, g := range c.geocoders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !g.Available() {
			logger.Debug("geocoder not available, skipping", "geocoder", g.Name())
			continue
		}
		res, err := safeGeocode(ctx, g, query, region)
		if err != nil {
			logger.Warn("geocoder failed", "geocoder", g.Name(), "query", query, "error", err)
			metrics.RecordGeocode(g.Name(), "error")
			continue
		}
		if res == nil {
			continue
		}
		if !geo.ValidateCoords(res.Coordinates.Lat, res.Coordinates.Lng) {
			logger.Debug("rejected out-of-bounds result", "geocoder", g.Name(), "query", query,
				"lat", res.Coordinates.Lat, "lng", res.Coordinates.Lng)
			continue
		}
		logger.Debug("geocoded", "query", query, "geocoder", g.Name(),
			"lat", res.Coordinates.Lat, "lng", res.Coordinates.Lng)
		if c.cache != nil {
			c.cache.Put(query, region, res)
		}
		c.mu.Lock()
		c.hits[g.Name()]++
		c.mu.Unlock()
		metrics.RecordGeocode(g.Name(), "hit")
		return res, nil
	}

	logger.Debug("all geocoders failed", "query", query)
	c.mu.Lock()
	c.failures++
	c.mu.Unlock()
	metrics.RecordGeocode("chain", "miss")
	if c.cache != nil {
		c.cache.AddNegative(query, region)
	}
	return nil, nil
}

// AvailableGeocoders lists the names of geocoders currently usable.
func (c *Chain) AvailableGeocoders() []string {
	var out []string
	for _, g := range c.geocoders {
		if g.Available() {
			out = append(out, g.Name())
		}
	}
	return out
}

// ChainStats is a snapshot of chain counters.
type ChainStats struct {
	Total        int64            `json:"total_requests"`
	CacheHits    int64            `json:"cache_hits"`
	Failures     int64            `json:"failures"`
	GeocoderHits map[string]int64 `json:"geocoder_hits"`
	Available    []string         `json:"available_geocoders"`
	Cache        *CacheStats      `json:"cache_stats,omitempty"`
}

func (c *Chain) Stats() ChainStats {
	c.mu.Lock()
	hits := make(map[string]int64, len(c.hits))
	for k, v := range c.hits {
		hits[k] = v
	}
	s := ChainStats{
		Total:        c.total,
		CacheHits:    c.cacheHits,
		Failures:     c.failures,
		GeocoderHits: hits,
	}
	c.mu.Unlock()

	s.Available = c.AvailableGeocoders()
	if c.cache != nil {
		cs := c.cache.Stats()
		s.Cache = &cs
	}
	return s
}
