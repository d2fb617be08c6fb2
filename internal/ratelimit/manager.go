package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Quota counts calls against a daily per-provider budget.
type Quota interface {
	// Allow consumes one unit for provider and reports whether the call
	// stays within limit for the current UTC day. limit <= 0 means unlimited.
	Allow(ctx context.Context, provider string, limit int) (bool, error)
	Used(ctx context.Context, provider string) (int, error)
}

// Manager provides Redis-backed rate limiting and quota accounting
type Manager struct {
	redis  *redis.Client
	prefix string
	now    func() time.Time
}

func NewManager(redisURL string) (*Manager, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Manager{redis: client, prefix: "neptun", now: time.Now}, nil
}

func (m *Manager) Close() error { return m.redis.Close() }

func dayKey(t time.Time) string { return t.UTC().Format("20060102") }

func untilNextDay(t time.Time) time.Duration {
	t = t.UTC()
	next := time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
	return next.Sub(t)
}

func (m *Manager) quotaKey(provider string, now time.Time) string {
	return fmt.Sprintf("%s:quota:%s:%s", m.prefix, provider, dayKey(now))
}

// Allow increments today's counter for provider and reports whether it is
// still within limit.
func (m *Manager) Allow(ctx context.Context, provider string, limit int) (bool, error) {
	now := m.now()
	k := m.quotaKey(provider, now)
	pipe := m.redis.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, untilNextDay(now)+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	if limit <= 0 {
		return true, nil
	}
	return int(incr.Val()) <= limit, nil
}

// Used returns today's counter for provider.
func (m *Manager) Used(ctx context.Context, provider string) (int, error) {
	val, err := m.redis.Get(ctx, m.quotaKey(provider, m.now())).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// CheckRate returns allowed=false if the per-minute bucket for key is
// exhausted, along with seconds until the window resets.
func (m *Manager) CheckRate(ctx context.Context, key string, rpm int) (allowed bool, resetSec int, err error) {
	now := m.now().UTC()
	window := now.Unix() / 60
	rk := fmt.Sprintf("%s:rl:%s:%d", m.prefix, key, window)
	pipe := m.redis.TxPipeline()
	incr := pipe.Incr(ctx, rk)
	pipe.Expire(ctx, rk, time.Minute)
	if _, err = pipe.Exec(ctx); err != nil {
		return false, 0, err
	}
	if int(incr.Val()) > rpm {
		return false, 60 - int(now.Unix()%60), nil
	}
	return true, 0, nil
}

// MemoryQuota is the in-process Quota used when Redis is not configured.
type MemoryQuota struct {
	mu     sync.Mutex
	counts map[string]dayCount
	now    func() time.Time
}

type dayCount struct {
	day string
	n   int
}

func NewMemoryQuota() *MemoryQuota {
	return &MemoryQuota{counts: make(map[string]dayCount), now: time.Now}
}

func (q *MemoryQuota) Allow(_ context.Context, provider string, limit int) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	day := dayKey(q.now())
	c := q.counts[provider]
	if c.day != day {
		c = dayCount{day: day}
	}
	c.n++
	q.counts[provider] = c
	return limit <= 0 || c.n <= limit, nil
}

func (q *MemoryQuota) Used(_ context.Context, provider string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := q.counts[provider]
	if c.day != dayKey(q.now()) {
		return 0, nil
	}
	return c.n, nil
}
