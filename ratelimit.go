package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// RateLimiter spaces requests to one host at least 1000/limit ms apart.
// Other hosts are never delayed.
type RateLimiter struct {
	host   string
	limit  atomic.Int64
	logger Logger
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

func NewRateLimiter(host string, limit int, logger Logger) *RateLimiter {
	r := &RateLimiter{
		host:   strings.ToLower(host),
		logger: withPrefix(logger, "ratelimit"),
		now:    time.Now,
	}
	r.limit.Store(int64(limit))
	return r
}

// SetLimit changes the requests-per-second ceiling; zero or negative disables it.
func (r *RateLimiter) SetLimit(limit int) {
	r.limit.Store(int64(limit))
}

func (r *RateLimiter) Limit() int {
	return int(r.limit.Load())
}

// Guard blocks until a request to host may be sent. The window check and the
// timestamp update happen under one lock, so concurrent callers are spaced
// out one after another. It returns an error only if ctx ends while waiting.
func (r *RateLimiter) Guard(ctx context.Context, host string) error {
	limit := r.limit.Load()
	if limit <= 0 || !strings.EqualFold(host, r.host) {
		return nil
	}
	spacing := time.Second / time.Duration(limit)

	r.mu.Lock()
	defer r.mu.Unlock()

	if wait := r.last.Add(spacing).Sub(r.now()); wait > 0 {
		r.logger.Log("Throttling request by %v", wait)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("request interrupted during rate limiting: %w", ctx.Err())
		}
	}
	r.last = r.now()
	return nil
}
