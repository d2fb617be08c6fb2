package geocoder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestCacheKey(t *testing.T) {
	tests := []struct {
		query, region, want string
	}{
		{"Київ", "", "київ"},
		{" Київ ", "Київська", "київ|київська"},
	}
	for _, tt := range tests {
		if got := CacheKey(tt.query, tt.region); got != tt.want {
			t.Errorf("CacheKey(%q, %q) = %q, want %q", tt.query, tt.region, got, tt.want)
		}
	}
}

func TestGeocodeCachePutGetExpire(t *testing.T) {
	clock := newClock()
	c := NewGeocodeCache(CacheConfig{PositiveTTL: time.Hour, NegativeTTL: time.Minute})
	c.now = clock.now

	c.Put("Київ", "", newResult(50.45, 30.52, "Київ", "photon", 0.7))
	got := c.Get("київ", "")
	if got == nil {
		t.Fatal("expected hit")
	}
	if got.Source != "photon+cache" || got.Confidence != 0.7 || got.PlaceName != "Київ" {
		t.Errorf("unexpected cached result %+v", got)
	}
	if c.Get("київ", "київська") != nil {
		t.Error("region is part of the key")
	}

	clock.advance(2 * time.Hour)
	if c.Get("київ", "") != nil {
		t.Error("expected expiry")
	}
	if s := c.Stats(); s.Total != 0 {
		t.Errorf("expired entry should be dropped on read, stats %+v", s)
	}
}

func TestGeocodeCacheNegative(t *testing.T) {
	clock := newClock()
	c := NewGeocodeCache(CacheConfig{NegativeTTL: time.Minute, MaxNegative: 2})
	c.now = clock.now

	c.AddNegative("a", "")
	clock.advance(time.Second)
	c.AddNegative("b", "")
	clock.advance(time.Second)
	c.AddNegative("c", "")

	if c.IsNegative("a", "") {
		t.Error("oldest negative should have been evicted")
	}
	if !c.IsNegative("b", "") || !c.IsNegative("c", "") {
		t.Error("newer negatives should remain")
	}
	if c.Get("b", "") != nil {
		t.Error("negative entry must not produce a result")
	}

	clock.advance(2 * time.Minute)
	if c.IsNegative("c", "") {
		t.Error("negative entry should expire")
	}
}

func TestGeocodeCacheInvalidateAndClearExpired(t *testing.T) {
	clock := newClock()
	c := NewGeocodeCache(CacheConfig{PositiveTTL: time.Hour, NegativeTTL: time.Minute})
	c.now = clock.now

	c.Put("x", "", newResult(50, 30, "x", "local", 1))
	c.AddNegative("y", "")
	if !c.Invalidate("x", "") {
		t.Error("expected Invalidate to report existing entry")
	}
	if c.Invalidate("x", "") {
		t.Error("second Invalidate should report false")
	}

	clock.advance(2 * time.Minute)
	if n := c.ClearExpired(); n != 1 {
		t.Errorf("ClearExpired = %d, want 1", n)
	}
}

func TestGeocodeCacheSaveLoad(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultCacheConfig(dir)
	c := NewGeocodeCache(cfg)
	c.Put("Одеса", "", newResult(46.4825, 30.7233, "Одеса", "local", 1))
	c.AddNegative("нікуди", "")

	if err := c.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "geocode_cache.json"))
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	entry, ok := raw["одеса"]
	if !ok {
		t.Fatalf("positive file missing key: %s", data)
	}
	for _, k := range []string{"coords", "source", "place_name", "confidence", "cached_at", "expires_at"} {
		if _, ok := entry[k]; !ok {
			t.Errorf("entry missing %q", k)
		}
	}

	reloaded := NewGeocodeCache(cfg)
	if got := reloaded.Get("одеса", ""); got == nil || got.Coordinates.Lat != 46.4825 {
		t.Errorf("positive entry not reloaded: %+v", got)
	}
	if !reloaded.IsNegative("нікуди", "") {
		t.Error("negative entry not reloaded")
	}
}

func TestGeocodeCacheIgnoresCorruptFile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultCacheConfig(dir)
	if err := os.WriteFile(cfg.File, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewGeocodeCache(cfg)
	if s := c.Stats(); s.Total != 0 {
		t.Errorf("expected empty cache, got %+v", s)
	}
}

func TestLearningStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learning.json")
	s := NewLearningStore(path)

	norm, obl, err := s.Learn("Олександрівки", 48.1, 33.1, "Кіровоградщина", "")
	if err != nil {
		t.Fatalf("Learn: %v", err)
	}
	if norm != "олександрівки" || obl != "кіровоградська" {
		t.Errorf("filed under %q/%q", norm, obl)
	}

	withRegion := s.Lookup("олександрівки", "кіровоградська")
	if withRegion == nil || withRegion.Confidence != 0.99 || withRegion.Source != "learning" {
		t.Errorf("region lookup = %+v", withRegion)
	}
	fallback := s.Lookup("олександрівки", "одеська")
	if fallback == nil || fallback.Confidence != 0.95 || fallback.Oblast != "кіровоградська" {
		t.Errorf("fallback lookup = %+v", fallback)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}

	reloaded := NewLearningStore(path)
	if reloaded.Lookup("олександрівки", "кіровоградська") == nil {
		t.Error("correction not persisted")
	}

	var f learningFile
	data, _ := os.ReadFile(path)
	if err := json.Unmarshal(data, &f); err != nil || f.SavedAt == 0 {
		t.Errorf("unexpected file contents: %s (%v)", data, err)
	}
}

func TestGeocodeCacheClearNegative(t *testing.T) {
	c := NewGeocodeCache(CacheConfig{})
	c.Put("x", "", newResult(50, 30, "x", "local", 1))
	c.AddNegative("y", "")
	c.AddNegative("z", "одеська")

	if n := c.ClearNegative(); n != 2 {
		t.Errorf("ClearNegative = %d, want 2", n)
	}
	if c.IsNegative("y", "") || c.IsNegative("z", "одеська") {
		t.Error("negative entries survived")
	}
	if c.Get("x", "") == nil {
		t.Error("positive entry was dropped")
	}
}
