package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a single-token bucket that admits perMinute operations per
// minute. A nil *RateLimiter admits everything.
type RateLimiter struct {
	interval time.Duration
	mu       sync.Mutex
	next     time.Time // earliest time the next operation may start
}

// NewRateLimiter creates a RateLimiter for perMinute operations per minute.
// It returns nil when perMinute is not positive.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &RateLimiter{interval: time.Minute / time.Duration(perMinute)}
}

// Wait blocks until the caller may start an operation or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return ctx.Err()
	}

	rl.mu.Lock()
	now := time.Now()
	start := rl.next
	if start.Before(now) {
		start = now
	}
	rl.next = start.Add(rl.interval)
	rl.mu.Unlock()

	delay := time.Until(start)
	if delay <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
