package geocoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/neptunmap/neptun/internal/errors"
	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/internal/ratelimit"
)

const (
	defaultHTTPTimeout = 5 * time.Second
	defaultUserAgent   = "NeptunMap/2.0"
	maxResponseBytes   = 1 << 20
)

// HTTPConfig configures one external provider.
type HTTPConfig struct {
	URL        string
	APIKey     string
	Enabled    bool
	Timeout    time.Duration
	UserAgent  string
	RatePerSec float64
	Burst      int
	DailyQuota int
}

// httpProvider carries the transport, pacing and counters shared by the
// HTTP geocoders.
type httpProvider struct {
	name     string
	priority int
	cfg      HTTPConfig
	client   *http.Client
	limiter  *rate.Limiter
	quota    ratelimit.Quota

	requests  atomic.Int64
	hits      atomic.Int64
	errors    atomic.Int64
	throttled atomic.Int64
}

func newHTTPProvider(name string, priority int, cfg HTTPConfig, quota ratelimit.Quota, client *http.Client) *httpProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &httpProvider{
		name:     name,
		priority: priority,
		cfg:      cfg,
		client:   client,
		limiter:  rate.NewLimiter(limit, burst),
		quota:    quota,
	}
}

func (p *httpProvider) Name() string  { return p.name }
func (p *httpProvider) Priority() int { return p.priority }

// searchText appends the region and country context providers expect.
func searchText(query, region string) string {
	q := strings.TrimSpace(query)
	if region != "" {
		q += ", " + region
	}
	return q + ", Україна"
}

// getJSON performs a paced, quota-checked GET and decodes the body into out.
func (p *httpProvider) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	if p.quota != nil {
		ok, err := p.quota.Allow(ctx, p.name, p.cfg.DailyQuota)
		if err != nil {
			// quota backend down: keep serving
			logger.Warn("quota check failed", "provider", p.name, "error", err)
		} else if !ok {
			p.throttled.Add(1)
			return apperrors.ProviderError{Provider: p.name, Op: "quota", Err: apperrors.ErrQuotaExceeded}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	if err := p.limiter.Wait(ctx); err != nil {
		p.throttled.Add(1)
		return apperrors.ProviderError{Provider: p.name, Op: "rate", Err: err}
	}

	p.requests.Add(1)
	u := endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		p.errors.Add(1)
		return apperrors.ProviderError{Provider: p.name, Op: "request", Err: err}
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.errors.Add(1)
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
		}
		return apperrors.ProviderError{Provider: p.name, Op: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.errors.Add(1)
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return apperrors.ProviderError{Provider: p.name, Op: "status", Err: statusError(resp.StatusCode)}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		p.errors.Add(1)
		return apperrors.ProviderError{Provider: p.name, Op: "decode", Err: err}
	}
	return nil
}

func statusError(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return apperrors.ErrRateLimit
	case code >= 500:
		return fmt.Errorf("%w: status %d", apperrors.ErrProviderUnavailable, code)
	default:
		return fmt.Errorf("unexpected status %d", code)
	}
}

// swallow logs a provider failure; HTTP geocoders never surface them.
func (p *httpProvider) swallow(query string, err error) {
	logger.Warn("geocoder request failed", "provider", p.name, "query", query, "error", err)
}

func (p *httpProvider) Stats() ProviderStats {
	req := p.requests.Load()
	hits := p.hits.Load()
	s := ProviderStats{
		Name:      p.name,
		Enabled:   p.cfg.Enabled,
		Requests:  req,
		Hits:      hits,
		Errors:    p.errors.Load(),
		Throttled: p.throttled.Load(),
	}
	if req > 0 {
		s.HitRate = float64(int(float64(hits)/float64(req)*1000)) / 10
	}
	return s
}
