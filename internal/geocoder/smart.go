package geocoder

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/neptunmap/neptun/internal/errors"
	"github.com/neptunmap/neptun/internal/geo"
	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/internal/metrics"
	"github.com/neptunmap/neptun/internal/models"
	"github.com/neptunmap/neptun/internal/normalizer"
)

const responseTimeWindow = 1000

// SmartConfig tunes the smart geocoder's negative cache.
type SmartConfig struct {
	MaxNegative int
	NegativeTTL time.Duration
	// LookupTimeout bounds one shared lookup. Callers joining it may give
	// up earlier on their own context.
	LookupTimeout time.Duration
}

// SmartGeocoder is the context-aware entry point used by the pipeline and
// processor. Strategy order: negative cache, learned corrections, response
// cache, local dictionary with name variants, homonym disambiguation, then
// external providers by priority.
type SmartGeocoder struct {
	local    Geocoder
	apis     []Geocoder
	cache    *GeocodeCache
	learning *LearningStore
	negTTL   time.Duration
	timeout  time.Duration
	negative *lru.Cache[string, time.Time]
	group    singleflight.Group
	now      func() time.Time

	mu    sync.Mutex
	stats smartCounters
}

type smartCounters struct {
	total, cacheHits, learningHits, localHits, apiHits, failures int64
	times                                                        []float64
}

// NewSmartGeocoder wires the strategies. Any of local, cache and learning
// may be nil.
func NewSmartGeocoder(local Geocoder, apis []Geocoder, cache *GeocodeCache, learning *LearningStore, cfg SmartConfig) *SmartGeocoder {
	if cfg.MaxNegative <= 0 {
		cfg.MaxNegative = 5000
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = 3 * 24 * time.Hour
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 30 * time.Second
	}
	neg, err := lru.New[string, time.Time](cfg.MaxNegative)
	if err != nil {
		panic(fmt.Sprintf("negative cache: %v", err))
	}
	if learning == nil {
		learning = NewLearningStore("")
	}
	return &SmartGeocoder{
		local:    local,
		apis:     sortByPriority(apis),
		cache:    cache,
		learning: learning,
		negTTL:   cfg.NegativeTTL,
		timeout:  cfg.LookupTimeout,
		negative: neg,
		now:      time.Now,
	}
}

func (s *SmartGeocoder) Name() string    { return "smart" }
func (s *SmartGeocoder) Priority() int   { return 1 }
func (s *SmartGeocoder) Available() bool { return true }

// Geocode resolves without message context.
func (s *SmartGeocoder) Geocode(ctx context.Context, query, region string) (*models.GeocodingResult, error) {
	return s.GeocodeWithContext(ctx, query, region, "", "")
}

// GeocodeWithContext resolves query using region, then an oblast found in
// messageText, then sourceRegion as the region hint.
func (s *SmartGeocoder) GeocodeWithContext(ctx context.Context, query, region, messageText, sourceRegion string) (*models.GeocodingResult, error) {
	if query == "" || normalizer.IsDirectionWord(query) {
		return nil, nil
	}
	normalized := normalizer.NormalizeCity(query)
	if normalized == "" {
		return nil, nil
	}
	var normRegion string
	if region != "" {
		normRegion = normalizer.NormalizeOblast(region)
	}
	if normRegion == "" && messageText != "" {
		normRegion = normalizer.ExtractOblast(messageText)
	}
	if normRegion == "" && sourceRegion != "" {
		normRegion = normalizer.NormalizeOblast(sourceRegion)
	}

	key := negativeKey(normalized, normRegion)
	ch := s.group.DoChan(key+"\x00"+messageText, func() (any, error) {
		// shared by every waiter, so it must not die with the first caller
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.resolve(lctx, query, normalized, normRegion, messageText, key)
	})
	var r singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r = <-ch:
	}
	found, _ := r.Val.(*models.GeocodingResult)
	if r.Err != nil || found == nil {
		return nil, r.Err
	}
	res := *found
	return &res, nil
}

func negativeKey(normalized, region string) string {
	return normalized + "|" + region
}

func (s *SmartGeocoder) resolve(ctx context.Context, query, normalized, region, messageText, key string) (*models.GeocodingResult, error) {
	start := s.now()

	if s.isNegative(key, normalized, region) {
		logger.Debug("negative cache hit", "query", normalized, "region", region)
		metrics.RecordGeocode("negative", "hit")
		return nil, nil
	}

	if res := s.learning.Lookup(normalized, region); res != nil {
		s.record(models.SourceLearning, start)
		return res, nil
	}

	if s.cache != nil {
		if cached := s.cache.Get(normalized, region); cached != nil {
			cached.Source = models.SourceCache
			if cached.Oblast == "" {
				cached.Oblast = region
			}
			s.record(models.SourceCache, start)
			return cached, nil
		}
	}

	if res := s.localWithVariants(ctx, normalized, region); res != nil {
		s.record(models.SourceLocal, start)
		s.remember(normalized, region, res)
		return res, nil
	}

	if oblast, ok := Disambiguate(normalized, region, messageText); ok {
		if res := s.localWithVariants(ctx, normalized, oblast); res != nil {
			logger.Debug("disambiguated homonym", "query", normalized, "oblast", oblast)
			s.record(models.SourceLocal, start)
			s.remember(normalized, region, res)
			return res, nil
		}
	}

	apiRegion := region
	for _, api := range s.apis {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !api.Available() {
			continue
		}
		res, err := safeGeocode(ctx, api, query, apiRegion)
		if err != nil {
			logger.Warn("api geocoder failed", "geocoder", api.Name(), "query", query, "error", err)
			metrics.RecordGeocode(api.Name(), "error")
			continue
		}
		if res == nil {
			continue
		}
		if !geo.IsWithinUkraine(res.Coordinates.Lat, res.Coordinates.Lng) {
			logger.Debug("rejected api result outside Ukraine", "geocoder", api.Name(), "query", query)
			continue
		}
		out := *res
		if out.PlaceName == "" {
			out.PlaceName = query
		}
		out.Source = api.Name()
		out.Oblast = region
		s.record(api.Name(), start)
		s.remember(normalized, region, &out)
		return &out, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.record("failure", start)
	s.addNegative(key, normalized, region)
	return nil, nil
}

func (s *SmartGeocoder) localWithVariants(ctx context.Context, normalized, region string) *models.GeocodingResult {
	if s.local == nil {
		return nil
	}
	for _, v := range normalizer.NameVariants(normalized) {
		res, err := safeGeocode(ctx, s.local, v, region)
		if err != nil {
			logger.Warn("local geocoder failed", "query", v, "error", err)
			return nil
		}
		if res != nil {
			out := *res
			out.Source = models.SourceLocal
			if out.Oblast == "" {
				out.Oblast = region
			}
			return &out
		}
	}
	return nil
}

func (s *SmartGeocoder) remember(normalized, region string, res *models.GeocodingResult) {
	if s.cache != nil {
		s.cache.Put(normalized, region, res)
	}
}

func (s *SmartGeocoder) isNegative(key, normalized, region string) bool {
	if at, ok := s.negative.Peek(key); ok {
		if s.now().Sub(at) < s.negTTL {
			return true
		}
		s.negative.Remove(key)
	}
	return s.cache != nil && s.cache.IsNegative(normalized, region)
}

func (s *SmartGeocoder) addNegative(key, normalized, region string) {
	s.negative.Add(key, s.now())
	if s.cache != nil {
		s.cache.AddNegative(normalized, region)
	}
}

func (s *SmartGeocoder) record(source string, start time.Time) {
	elapsed := float64(s.now().Sub(start).Microseconds()) / 1000
	status := "hit"
	if source == "failure" {
		status = "miss"
	}
	metrics.RecordGeocode(source, status)

	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.stats
	st.total++
	switch source {
	case models.SourceCache:
		st.cacheHits++
	case models.SourceLearning:
		st.learningHits++
	case models.SourceLocal:
		st.localHits++
	case "failure":
		st.failures++
	default:
		st.apiHits++
	}
	st.times = append(st.times, elapsed)
	if len(st.times) > responseTimeWindow {
		st.times = st.times[len(st.times)-responseTimeWindow:]
	}
}

// LearnCorrection pins coordinates for query (and oblast, when given).
// The correction wins over every other strategy on later lookups.
func (s *SmartGeocoder) LearnCorrection(query string, lat, lng float64, oblast, source string) error {
	if query == "" {
		return apperrors.ValidationError{Field: "query", Message: "required"}
	}
	if !geo.ValidateCoords(lat, lng) {
		return apperrors.ErrInvalidCoordinates
	}
	normalized, normOblast, err := s.learning.Learn(query, lat, lng, oblast, source)

	s.negative.Remove(negativeKey(normalized, normOblast))
	s.negative.Remove(negativeKey(normalized, ""))
	if s.cache != nil {
		s.cache.Invalidate(normalized, normOblast)
		if normOblast != "" {
			s.cache.Invalidate(normalized, "")
		}
	}
	logger.Info("learned geocode correction", "query", normalized, "oblast", normOblast, "lat", lat, "lng", lng)
	return err
}

// ClearNegativeCache forgets recorded failures, in memory and in the
// response cache, so they are retried.
func (s *SmartGeocoder) ClearNegativeCache() {
	s.negative.Purge()
	if s.cache != nil {
		n := s.cache.ClearNegative()
		logger.Info("negative geocode cache cleared", "persisted", n)
	}
}

// SmartStats is a snapshot of smart geocoder counters.
type SmartStats struct {
	Total             int64   `json:"total_queries"`
	CacheHits         int64   `json:"cache_hits"`
	LearningHits      int64   `json:"learning_hits"`
	LocalHits         int64   `json:"local_hits"`
	APIHits           int64   `json:"api_hits"`
	Failures          int64   `json:"failures"`
	CacheRate         string  `json:"cache_rate"`
	SuccessRate       string  `json:"success_rate"`
	AvgResponseMs     float64 `json:"avg_response_time_ms"`
	LearningEntries   int     `json:"learning_entries"`
	NegativeCacheSize int     `json:"negative_cache_size"`
}

func (s *SmartGeocoder) Stats() SmartStats {
	s.mu.Lock()
	st := s.stats
	var sum float64
	for _, t := range st.times {
		sum += t
	}
	n := len(st.times)
	s.mu.Unlock()

	out := SmartStats{
		Total:             st.total,
		CacheHits:         st.cacheHits,
		LearningHits:      st.learningHits,
		LocalHits:         st.localHits,
		APIHits:           st.apiHits,
		Failures:          st.failures,
		CacheRate:         "0%",
		SuccessRate:       "0%",
		LearningEntries:   s.learning.Len(),
		NegativeCacheSize: s.negative.Len(),
	}
	if n > 0 {
		out.AvgResponseMs = float64(int(sum/float64(n)*100)) / 100
	}
	if st.total > 0 {
		out.CacheRate = fmt.Sprintf("%.1f%%", float64(st.cacheHits)/float64(st.total)*100)
		out.SuccessRate = fmt.Sprintf("%.1f%%", float64(st.total-st.failures)/float64(st.total)*100)
	}
	return out
}
