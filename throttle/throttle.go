// Package throttle provides a per-key token bucket used to pace outbound
// scraping traffic by site domain.
//
// Unlike an HTTP-side rate limiter that rejects excess requests, Wait blocks
// the caller until a token is available: exceeding the bucket delays the
// attempt, it never fails it. The only error Wait returns is the context's.
package throttle

import (
	"context"
	"sync"
	"time"
)

// Config tunes the limiter. One bucket is kept per key (site domain).
type Config struct {
	// Interval is the steady-state spacing between requests to one domain
	// once the burst is exhausted. Default: 2s.
	Interval time.Duration
	// Burst is how many requests may proceed immediately against a fresh
	// bucket. Default: 2.
	Burst int
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 2
	}
}

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a keyed token bucket. Safe for concurrent use: any worker
// touching a domain shares that domain's bucket.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	cfg.defaults()
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Wait blocks until a token is available for key, then consumes it.
// Returns ctx.Err() if the context expires first.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		d := l.reserve(key)
		if d <= 0 {
			return nil
		}
		if err := l.sleep(ctx, d); err != nil {
			return err
		}
	}
}

// reserve consumes a token if one is available, otherwise returns how long
// the caller should wait before trying again.
func (l *Limiter) reserve(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.Burst), last: now}
		l.buckets[key] = b
	}

	// Refill at one token per Interval, capped at Burst.
	elapsed := now.Sub(b.last)
	b.tokens += float64(elapsed) / float64(l.cfg.Interval)
	if b.tokens > float64(l.cfg.Burst) {
		b.tokens = float64(l.cfg.Burst)
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return 0
	}
	deficit := 1 - b.tokens
	return time.Duration(deficit * float64(l.cfg.Interval))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
