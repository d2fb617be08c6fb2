// Package processor geocodes tracks that were stored without
// coordinates. It runs as a background loop and can be driven
// synchronously through ProcessNow.
package processor

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/neptunmap/neptun/internal/errors"
	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/internal/metrics"
	"github.com/neptunmap/neptun/internal/models"
)

// Geocoder resolves a place name with an optional region hint.
type Geocoder interface {
	Geocode(ctx context.Context, query, region string) (*models.GeocodingResult, error)
}

// contextGeocoder also uses the message text to pick among homonyms.
type contextGeocoder interface {
	GeocodeWithContext(ctx context.Context, query, region, messageText, sourceRegion string) (*models.GeocodingResult, error)
}

// Store is the subset of the track store the processor needs.
type Store interface {
	Add(t *models.Track) bool
	GetUngeocoded() []*models.Track
	Update(id string, fn func(*models.Track)) bool
	Save(force bool) (bool, error)
}

// Config controls batching and pacing. Zero delays disable waiting.
type Config struct {
	BatchSize    int
	BatchDelay   time.Duration
	GeocodeDelay time.Duration
	// IdleInterval is the pause when nothing was pending. Zero means
	// BatchDelay.
	IdleInterval time.Duration
	// ErrorDelay is the pause after a failed batch save.
	ErrorDelay time.Duration
}

// Stats is a snapshot of processor counters.
type Stats struct {
	Processed   int64      `json:"processed"`
	Geocoded    int64      `json:"geocoded"`
	Failed      int64      `json:"failed"`
	Pending     int        `json:"pending"`
	LastProcess *time.Time `json:"last_process"`
	Running     bool       `json:"running"`
}

// Processor drains ungeocoded tracks from the store.
type Processor struct {
	store    Store
	geocoder Geocoder
	cfg      Config

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	processed atomic.Int64
	geocoded  atomic.Int64
	failed    atomic.Int64
	lastRun   atomic.Int64
}

// New creates a processor. geocoder may be nil, in which case nothing is
// ever geocoded.
func New(store Store, geocoder Geocoder, cfg Config) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.ErrorDelay <= 0 {
		cfg.ErrorDelay = 5 * time.Second
	}
	return &Processor{store: store, geocoder: geocoder, cfg: cfg}
}

// Start launches the background loop. It returns ErrAlreadyRunning when
// called twice.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return apperrors.ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
	logger.Info("track processor started", "batch_size", p.cfg.BatchSize)
	return nil
}

// Stop cancels the loop and waits up to timeout for it to exit. It
// reports whether the loop finished in time.
func (p *Processor) Stop(timeout time.Duration) bool {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return true
	}
	p.running = false
	p.cancel()
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
		logger.Info("track processor stopped")
		return true
	case <-time.After(timeout):
		logger.Warn("track processor did not stop in time", "timeout", timeout)
		return false
	}
}

// Run blocks until ctx is done. It is the errgroup-friendly form of
// Start and Stop.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	p.Stop(5 * time.Second)
	return nil
}

// Running reports whether the background loop is active.
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		_, touched := p.processBatch(ctx, p.cfg.BatchSize)
		delay := p.cfg.BatchDelay
		if touched == 0 && p.cfg.IdleInterval > 0 {
			delay = p.cfg.IdleInterval
		}
		// failures are marked in the store too and must reach disk
		if touched > 0 {
			p.lastRun.Store(time.Now().UnixNano())
			if _, err := p.store.Save(false); err != nil {
				logger.Warn("save after geocoding batch failed", "error", err)
				delay = p.cfg.ErrorDelay
			}
		}
		if !sleep(ctx, delay) {
			return
		}
	}
}

// ProcessNow geocodes up to maxItems pending tracks and returns how many
// got coordinates.
func (p *Processor) ProcessNow(ctx context.Context, maxItems int) int {
	geocoded, _ := p.processBatch(ctx, maxItems)
	return geocoded
}

// processBatch also returns how many tracks were updated in the store,
// geocoded or marked as attempted.
func (p *Processor) processBatch(ctx context.Context, maxItems int) (geocoded, touched int) {
	if p.geocoder == nil {
		logger.Debug("no geocoder configured, skipping")
		return 0, 0
	}
	pending := p.store.GetUngeocoded()
	if len(pending) == 0 {
		return 0, 0
	}
	if maxItems > 0 && len(pending) > maxItems {
		pending = pending[:maxItems]
	}

	for i, t := range pending {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && !sleep(ctx, p.cfg.GeocodeDelay) {
			break
		}
		ok, updated := p.geocodeTrack(ctx, t)
		if ok {
			geocoded++
		}
		if updated {
			touched++
		}
	}
	return geocoded, touched
}

// AddAndProcess stores t and geocodes it immediately. It reports whether
// the track got coordinates.
func (p *Processor) AddAndProcess(ctx context.Context, t *models.Track) bool {
	if !p.store.Add(t) {
		return false
	}
	if p.geocoder == nil || t.Geocoded || t.HasCoords() {
		return false
	}
	ok, _ := p.geocodeTrack(ctx, t)
	return ok
}

// AddPending stores t for the background loop.
func (p *Processor) AddPending(t *models.Track) bool {
	return p.store.Add(t)
}

// Stats returns counters and the current backlog size.
func (p *Processor) Stats() Stats {
	st := Stats{
		Processed: p.processed.Load(),
		Geocoded:  p.geocoded.Load(),
		Failed:    p.failed.Load(),
		Pending:   len(p.store.GetUngeocoded()),
		Running:   p.Running(),
	}
	if ns := p.lastRun.Load(); ns != 0 {
		ts := time.Unix(0, ns).UTC()
		st.LastProcess = &ts
	}
	return st
}

// geocodeTrack reports whether t got coordinates and whether the store
// was changed. A track whose lookup was cut short by ctx is left pending.
func (p *Processor) geocodeTrack(ctx context.Context, t *models.Track) (ok, updated bool) {
	p.processed.Add(1)

	query := BuildQuery(t)
	if query == "" {
		logger.Debug("no geocode query for track", "track_id", t.ID)
		p.markAttempted(t.ID)
		return false, true
	}

	var (
		res *models.GeocodingResult
		err error
	)
	if cg, ok := p.geocoder.(contextGeocoder); ok {
		res, err = cg.GeocodeWithContext(ctx, query, t.Oblast, t.Text, t.Source)
	} else {
		res, err = p.geocoder.Geocode(ctx, query, t.Oblast)
	}
	if err != nil {
		logger.Warn("geocoding failed", "track_id", t.ID, "query", query, "error", err)
	}
	if ctx.Err() != nil {
		logger.Debug("geocoding interrupted, track stays pending", "track_id", t.ID)
		return false, false
	}
	if err != nil || res == nil {
		p.markAttempted(t.ID)
		metrics.RecordGeocode("processor", "miss")
		logger.Debug("track not geocoded", "track_id", t.ID, "query", query)
		return false, true
	}

	place := res.PlaceName
	if place == "" {
		place = query
	}
	lat, lng := res.Coordinates.Lat, res.Coordinates.Lng
	p.store.Update(t.ID, func(tr *models.Track) {
		tr.SetCoords(lat, lng)
		tr.Place = place
		if tr.Oblast == "" && res.Oblast != "" {
			tr.Oblast = res.Oblast
		}
		tr.Geocoded = true
	})
	p.geocoded.Add(1)
	metrics.RecordGeocode("processor", "hit")
	logger.Debug("track geocoded", "track_id", t.ID, "lat", lat, "lng", lng, "source", res.Source)
	return true, true
}

// markAttempted flags a track so it is not retried forever.
func (p *Processor) markAttempted(id string) {
	p.failed.Add(1)
	p.store.Update(id, func(tr *models.Track) { tr.Geocoded = true })
}

var textPlacePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:^|[^\p{L}])біля\s+([А-ЯІЇЄҐа-яіїєґ][а-яіїєґ'ʼ’\-]+)`),
	regexp.MustCompile(`(?i)(?:^|[^\p{L}])над\s+([А-ЯІЇЄҐа-яіїєґ][а-яіїєґ'ʼ’\-]+)`),
	regexp.MustCompile(`(?i)(?:^|[^\p{L}])поблизу\s+([А-ЯІЇЄҐа-яіїєґ][а-яіїєґ'ʼ’\-]+)`),
	regexp.MustCompile(`(?i)(?:^|[^\p{L}])в\s+район[іу]\s+([А-ЯІЇЄҐа-яіїєґ][а-яіїєґ'ʼ’\-]+)`),
}

// BuildQuery picks the most specific place for a track: course target,
// course source, stored place, a place named in the text, then oblast.
func BuildQuery(t *models.Track) string {
	switch {
	case t.Target != "":
		return t.Target
	case t.Source != "":
		return t.Source
	case t.Place != "":
		return t.Place
	}
	for _, re := range textPlacePatterns {
		if m := re.FindStringSubmatch(t.Text); m != nil {
			return m[1]
		}
	}
	return t.Oblast
}

// sleep waits for d or until ctx is done. It reports false when ctx
// ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
