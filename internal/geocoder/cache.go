package geocoder

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/neptunmap/neptun/internal/errors"
	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/internal/models"
	"github.com/neptunmap/neptun/pkg/utils"
)

// CacheEntry is one cached lookup. A nil Coords marks a negative entry.
type CacheEntry struct {
	Coords     *[2]float64 `json:"coords"`
	Source     string      `json:"source"`
	PlaceName  *string     `json:"place_name"`
	Confidence float64     `json:"confidence"`
	CachedAt   float64     `json:"cached_at"`
	ExpiresAt  float64     `json:"expires_at"`
}

// Negative reports whether the entry records a failed lookup.
func (e CacheEntry) Negative() bool { return e.Coords == nil }

func (e CacheEntry) expired(now time.Time) bool {
	return unixSeconds(now) > e.ExpiresAt
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// CacheConfig configures a GeocodeCache. Empty file paths disable
// persistence for that half of the cache.
type CacheConfig struct {
	File         string
	NegativeFile string
	PositiveTTL  time.Duration
	NegativeTTL  time.Duration
	MaxNegative  int
}

// DefaultCacheConfig mirrors production defaults.
func DefaultCacheConfig(dir string) CacheConfig {
	cfg := CacheConfig{
		PositiveTTL: 30 * 24 * time.Hour,
		NegativeTTL: 3 * 24 * time.Hour,
		MaxNegative: 500,
	}
	if dir != "" {
		cfg.File = filepath.Join(dir, "geocode_cache.json")
		cfg.NegativeFile = filepath.Join(dir, "negative_geocode_cache.json")
	}
	return cfg
}

// GeocodeCache stores positive and negative geocoding results with TTLs.
// It also satisfies Geocoder so it can sit in a chain.
type GeocodeCache struct {
	cfg     CacheConfig
	mu      sync.Mutex
	entries map[string]CacheEntry
	now     func() time.Time
}

// NewGeocodeCache creates a cache and loads any unexpired entries from disk.
func NewGeocodeCache(cfg CacheConfig) *GeocodeCache {
	if cfg.PositiveTTL <= 0 {
		cfg.PositiveTTL = 30 * 24 * time.Hour
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = 3 * 24 * time.Hour
	}
	if cfg.MaxNegative <= 0 {
		cfg.MaxNegative = 500
	}
	c := &GeocodeCache{cfg: cfg, entries: make(map[string]CacheEntry), now: time.Now}
	c.load(cfg.File, false)
	c.load(cfg.NegativeFile, true)
	return c
}

// CacheKey builds the lookup key: lowercased query, plus "|region" when a
// region is given.
func CacheKey(query, region string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	r := strings.ToLower(strings.TrimSpace(region))
	if r == "" {
		return q
	}
	return q + "|" + r
}

func (c *GeocodeCache) Name() string    { return models.SourceCache }
func (c *GeocodeCache) Priority() int   { return 5 }
func (c *GeocodeCache) Available() bool { return true }

func (c *GeocodeCache) Geocode(_ context.Context, query, region string) (*models.GeocodingResult, error) {
	return c.Get(query, region), nil
}

// Get returns a cached positive result, or nil when absent, expired or
// negative.
func (c *GeocodeCache) Get(query, region string) *models.GeocodingResult {
	key := CacheKey(query, region)
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		return nil
	}
	if e.Negative() {
		return nil
	}
	place := ""
	if e.PlaceName != nil {
		place = *e.PlaceName
	}
	return newResult(e.Coords[0], e.Coords[1], place, e.Source+"+cache", e.Confidence)
}

// Put caches a successful result.
func (c *GeocodeCache) Put(query, region string, res *models.GeocodingResult) {
	if res == nil {
		return
	}
	now := c.now()
	coords := [2]float64{res.Coordinates.Lat, res.Coordinates.Lng}
	var place *string
	if res.PlaceName != "" {
		p := res.PlaceName
		place = &p
	}
	e := CacheEntry{
		Coords:     &coords,
		Source:     strings.TrimSuffix(res.Source, "+cache"),
		PlaceName:  place,
		Confidence: res.Confidence,
		CachedAt:   unixSeconds(now),
		ExpiresAt:  unixSeconds(now.Add(c.cfg.PositiveTTL)),
	}
	c.mu.Lock()
	c.entries[CacheKey(query, region)] = e
	c.mu.Unlock()
}

// AddNegative records that query could not be resolved. The oldest
// negative entries are evicted once MaxNegative is exceeded.
func (c *GeocodeCache) AddNegative(query, region string) {
	now := c.now()
	e := CacheEntry{
		Source:    "negative",
		CachedAt:  unixSeconds(now),
		ExpiresAt: unixSeconds(now.Add(c.cfg.NegativeTTL)),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[CacheKey(query, region)] = e
	c.enforceLimits()
}

// IsNegative reports whether query is cached as not found.
func (c *GeocodeCache) IsNegative(query, region string) bool {
	key := CacheKey(query, region)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		return false
	}
	return e.Negative()
}

// Invalidate removes an entry and reports whether it existed.
func (c *GeocodeCache) Invalidate(query, region string) bool {
	key := CacheKey(query, region)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		return true
	}
	return false
}

// ClearNegative drops every negative entry and returns how many were
// removed. Positive entries are kept.
func (c *GeocodeCache) ClearNegative() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.Negative() {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// ClearExpired drops expired entries and returns how many were removed.
func (c *GeocodeCache) ClearExpired() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// caller holds c.mu
func (c *GeocodeCache) enforceLimits() {
	type neg struct {
		key string
		at  float64
	}
	var negatives []neg
	for k, e := range c.entries {
		if e.Negative() {
			negatives = append(negatives, neg{k, e.CachedAt})
		}
	}
	excess := len(negatives) - c.cfg.MaxNegative
	if excess <= 0 {
		return
	}
	sort.Slice(negatives, func(i, j int) bool { return negatives[i].at < negatives[j].at })
	for _, n := range negatives[:excess] {
		delete(c.entries, n.key)
	}
}

// CacheStats summarizes cache contents.
type CacheStats struct {
	Total    int `json:"total"`
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Expired  int `json:"expired"`
}

func (c *GeocodeCache) Stats() CacheStats {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var s CacheStats
	for _, e := range c.entries {
		s.Total++
		if e.Negative() {
			s.Negative++
		} else {
			s.Positive++
		}
		if e.expired(now) {
			s.Expired++
		}
	}
	return s
}

// Save writes positive and negative entries to their files atomically.
func (c *GeocodeCache) Save() error {
	now := c.now()
	positive := make(map[string]CacheEntry)
	negative := make(map[string]CacheEntry)

	c.mu.Lock()
	for k, e := range c.entries {
		if e.expired(now) {
			continue
		}
		if e.Negative() {
			negative[k] = e
		} else {
			positive[k] = e
		}
	}
	c.mu.Unlock()

	var errs apperrors.MultiError
	if c.cfg.File != "" {
		if err := writeJSONAtomic(c.cfg.File, positive, false); err != nil {
			errs.Add(err)
		}
	}
	if c.cfg.NegativeFile != "" {
		if err := writeJSONAtomic(c.cfg.NegativeFile, negative, false); err != nil {
			errs.Add(err)
		}
	}
	return errs.ErrorOrNil()
}

func (c *GeocodeCache) load(path string, negativeOnly bool) {
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to read geocode cache", "path", path, "error", err)
		}
		return
	}
	var stored map[string]CacheEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		logger.Warn("failed to decode geocode cache", "path", path, "error", err)
		return
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range stored {
		if e.expired(now) {
			continue
		}
		if negativeOnly {
			e.Coords = nil
			e.PlaceName = nil
			e.Confidence = 0
		}
		if e.Source == "" {
			e.Source = models.SourceCache
		}
		c.entries[k] = e
	}
	logger.Debug("geocode cache loaded", "path", path, "entries", len(stored))
}

// writeJSONAtomic encodes v and replaces path atomically.
func writeJSONAtomic(path string, v any, indent bool) error {
	var (
		data []byte
		err  error
	)
	if indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return apperrors.StorageError{Op: "encode", Path: path, Err: err}
	}
	if err := utils.WriteFile(path, data, 0o644); err != nil {
		return apperrors.StorageError{Op: "write", Path: path, Err: err}
	}
	return nil
}
