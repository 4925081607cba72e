package util

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy describes how a single upstream call is retried: how many
// attempts in total, which backoff strategy separates them, and which errors
// are worth another attempt. Policies are values; each call site picks its
// own.
type RetryPolicy struct {
	MaxAttempts int
	// NewBackOff returns a fresh backoff strategy for one call.
	NewBackOff func() backoff.BackOff
	// Retryable reports whether err should trigger another attempt. A nil
	// Retryable retries every error.
	Retryable func(err error) bool
	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// ExponentialPolicy returns a policy with randomized exponential delays that
// start at base and are capped at maxDelay.
func ExponentialPolicy(maxAttempts int, base, maxDelay time.Duration, retryable func(error) bool) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = base
			b.Multiplier = 2
			b.RandomizationFactor = 0.5
			b.MaxInterval = maxDelay
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		},
		Retryable: retryable,
	}
}

// FixedPolicy returns a policy that waits the same interval between
// attempts. Used for endpoints with a known hard rate-limit window.
func FixedPolicy(maxAttempts int, wait time.Duration, retryable func(error) bool) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		NewBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(wait)
		},
		Retryable: retryable,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. fn receives the 1-based attempt number. Do returns
// the number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	attempts := 0
	op := func() error {
		attempts++
		err := fn(attempts)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	maxRetries := p.MaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}

	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.NewBackOff != nil {
		b = p.NewBackOff()
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempts, wait, err)
		}
	}

	err := backoff.RetryNotify(op, b, notify)
	return attempts, err
}

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first successful call, or the last error
// if all attempts fail. The function respects context cancellation between
// retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	p := RetryPolicy{
		MaxAttempts: maxAttempts,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = baseDelay
			b.RandomizationFactor = 0
			b.Multiplier = 2
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		},
	}
	_, err := p.Do(ctx, func(int) error { return fn() })
	return err
}
