package geocoder

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/neptunmap/neptun/internal/models"
)

// MockGeocoder returns canned results and counts calls.
type MockGeocoder struct {
	name      string
	priority  int
	available bool
	results   map[string]*models.GeocodingResult
	err       error
	panics    bool

	mu    sync.Mutex
	calls int
	seen  []string
}

func newMock(name string, priority int) *MockGeocoder {
	return &MockGeocoder{name: name, priority: priority, available: true, results: map[string]*models.GeocodingResult{}}
}

func (m *MockGeocoder) with(query string, lat, lng float64) *MockGeocoder {
	m.results[query] = newResult(lat, lng, query, m.name, 0.9)
	return m
}

func (m *MockGeocoder) Name() string    { return m.name }
func (m *MockGeocoder) Priority() int   { return m.priority }
func (m *MockGeocoder) Available() bool { return m.available }

func (m *MockGeocoder) Geocode(_ context.Context, query, _ string) (*models.GeocodingResult, error) {
	m.mu.Lock()
	m.calls++
	m.seen = append(m.seen, query)
	m.mu.Unlock()
	if m.panics {
		panic("boom")
	}
	if m.err != nil {
		return nil, m.err
	}
	if r, ok := m.results[query]; ok {
		c := *r
		return &c, nil
	}
	return nil, nil
}

func (m *MockGeocoder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestChainFallbackOrder(t *testing.T) {
	first := newMock("first", 10)
	second := newMock("second", 20).with("Київ", 50.4501, 30.5234)
	// passed out of order: the chain sorts by priority
	chain := NewChain(nil, second, first)

	res, err := chain.Geocode(context.Background(), "Київ", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil || res.Source != "second" {
		t.Fatalf("expected result from second geocoder, got %+v", res)
	}
	if first.Calls() != 1 {
		t.Errorf("first geocoder calls = %d, want 1", first.Calls())
	}
	if second.Calls() != 1 {
		t.Errorf("second geocoder calls = %d, want 1", second.Calls())
	}
}

func TestChainSkipsUnavailableErrorsAndPanics(t *testing.T) {
	off := newMock("off", 1).with("Суми", 50.9, 34.8)
	off.available = false
	failing := newMock("failing", 2)
	failing.err = errors.New("timeout")
	panicking := newMock("panicking", 3)
	panicking.panics = true
	good := newMock("good", 4).with("Суми", 50.9077, 34.7981)

	chain := NewChain(nil, off, failing, panicking, good)
	res, err := chain.Geocode(context.Background(), "Суми", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil || res.Source != "good" {
		t.Fatalf("expected good result, got %+v", res)
	}
	if off.Calls() != 0 {
		t.Error("unavailable geocoder must not be called")
	}
	if got := chain.AvailableGeocoders(); len(got) != 3 {
		t.Errorf("AvailableGeocoders() = %v", got)
	}
}

func TestChainRejectsOutOfBoundsResult(t *testing.T) {
	far := newMock("far", 1).with("Париж", 48.85, 2.35)
	chain := NewChain(nil, far)
	res, _ := chain.Geocode(context.Background(), "Париж", "")
	if res != nil {
		t.Errorf("expected rejection, got %+v", res)
	}
}

func TestChainCacheShortCircuit(t *testing.T) {
	cache := NewGeocodeCache(CacheConfig{})
	g := newMock("g", 10).with("Одеса", 46.4825, 30.7233)
	chain := NewChain(cache, g)
	ctx := context.Background()

	first, _ := chain.Geocode(ctx, "Одеса", "")
	second, _ := chain.Geocode(ctx, "Одеса", "")
	if first == nil || second == nil {
		t.Fatal("expected both lookups to resolve")
	}
	if g.Calls() != 1 {
		t.Errorf("underlying geocoder calls = %d, want 1", g.Calls())
	}
	if first.Coordinates != second.Coordinates {
		t.Errorf("coordinates differ: %v vs %v", first.Coordinates, second.Coordinates)
	}
	if second.Source != "g+cache" {
		t.Errorf("cached source = %q", second.Source)
	}
	if s := chain.Stats(); s.CacheHits != 1 || s.Total != 2 || s.GeocoderHits["g"] != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestChainNegativeCacheSuppression(t *testing.T) {
	cache := NewGeocodeCache(CacheConfig{})
	a := newMock("a", 1)
	b := newMock("b", 2)
	chain := NewChain(cache, a, b)
	ctx := context.Background()

	if res, _ := chain.Geocode(ctx, "Нікуди", ""); res != nil {
		t.Fatal("expected miss")
	}
	if res, _ := chain.Geocode(ctx, "Нікуди", ""); res != nil {
		t.Fatal("expected miss")
	}
	if a.Calls() != 1 || b.Calls() != 1 {
		t.Errorf("calls a=%d b=%d, want 1 each", a.Calls(), b.Calls())
	}
	if chain.Stats().Failures != 1 {
		t.Errorf("failures = %d, want 1", chain.Stats().Failures)
	}
}

func TestChainEmptyQuery(t *testing.T) {
	g := newMock("g", 1)
	chain := NewChain(nil, g)
	if res, err := chain.Geocode(context.Background(), "   ", ""); res != nil || err != nil {
		t.Errorf("expected nil, nil; got %v, %v", res, err)
	}
	if g.Calls() != 0 {
		t.Error("blank query reached geocoder")
	}
}

func TestChainCanceledContext(t *testing.T) {
	g := newMock("g", 1).with("Київ", 50.45, 30.52)
	chain := NewChain(nil, g)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := chain.Geocode(ctx, "Київ", ""); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
