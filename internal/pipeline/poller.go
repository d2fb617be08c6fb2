package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	apperrors "github.com/neptunmap/neptun/internal/errors"
	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/internal/metrics"
	"github.com/neptunmap/neptun/internal/models"
)

// Source is a pollable producer of raw messages.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]models.RawMessage, error)
	Interval() time.Duration
}

// Processor consumes fetched messages.
type Processor interface {
	ProcessBatch(ctx context.Context, msgs []models.RawMessage) []ProcessingResult
}

// PollerConfig controls concurrency and retries of source polling.
type PollerConfig struct {
	Workers       int
	RatePerSec    float64
	RetryAttempts int
	RetryDelay    time.Duration
}

// Poller runs every source on its own ticker and hands fetched messages
// to the processor.
type Poller struct {
	processor Processor
	sources   []Source
	cfg       PollerConfig
	limiter   *rate.Limiter
	sem       *semaphore.Weighted

	mu      sync.RWMutex
	running bool
}

// NewPoller creates a poller over sources.
func NewPoller(processor Processor, cfg PollerConfig, sources ...Source) *Poller {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	logger.Info("source poller initialized", "sources", len(sources), "workers", cfg.Workers)
	return &Poller{
		processor: processor,
		sources:   sources,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		sem:       semaphore.NewWeighted(int64(cfg.Workers)),
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return apperrors.ErrAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	var wg sync.WaitGroup
	for _, src := range p.sources {
		src := src
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.poll(ctx, src)
		}()
	}
	wg.Wait()
	logger.Info("source poller stopped")
	return nil
}

// IsRunning reports whether Run is active.
func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Poller) poll(ctx context.Context, src Source) {
	logger.Info("starting source", "source", src.Name(), "interval", src.Interval())
	ticker := time.NewTicker(src.Interval())
	defer ticker.Stop()

	for {
		if _, err := p.RunOnce(ctx, src); err != nil && ctx.Err() == nil {
			logger.Error("source run failed", "source", src.Name(), "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce fetches one batch from src and processes it. It returns the
// number of markers created.
func (p *Poller) RunOnce(ctx context.Context, src Source) (int, error) {
	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("acquire worker: %w", err)
	}
	defer p.sem.Release(1)

	if err := p.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit: %w", err)
	}
	defer func() { metrics.RecordSourceRun(src.Name(), time.Since(start)) }()

	var (
		msgs []models.RawMessage
		err  error
	)
	for attempt := 0; attempt <= p.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * p.cfg.RetryDelay
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
		}
		msgs, err = src.Fetch(ctx)
		if err == nil {
			break
		}
		logger.Warn("fetch attempt failed", "source", src.Name(), "attempt", attempt+1, "error", err)
	}
	if err != nil {
		return 0, apperrors.PipelineError{Source: src.Name(), Stage: "fetch", Err: err}
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	created := 0
	for _, r := range p.processor.ProcessBatch(ctx, msgs) {
		created += r.MarkersCreated
	}
	logger.Info("source batch processed", "source", src.Name(), "messages", len(msgs), "markers", created)
	return created, nil
}
