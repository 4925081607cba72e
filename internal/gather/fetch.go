package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"stockuniverse/internal/domain"
	"stockuniverse/internal/metrics"
	"stockuniverse/internal/util"
)

// Fetcher runs upstream requests under a hard concurrency ceiling shared by
// every caller in the run. A request holds its slot from the first attempt
// until it succeeds or fails terminally, backoff waits included.
type Fetcher struct {
	slots   chan struct{}
	limiter *util.RateLimiter
	rec     *metrics.Recorder
	log     *slog.Logger
}

// NewFetcher creates a Fetcher admitting at most maxConcurrency requests at
// once. limiter and rec may be nil.
func NewFetcher(maxConcurrency int, limiter *util.RateLimiter, rec *metrics.Recorder, log *slog.Logger) (*Fetcher, error) {
	if maxConcurrency <= 0 {
		return nil, fmt.Errorf("%w: max concurrency must be positive, got %d", ErrInvalidInput, maxConcurrency)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		slots:   make(chan struct{}, maxConcurrency),
		limiter: limiter,
		rec:     rec,
		log:     log.With("component", "fetcher"),
	}, nil
}

// MaxConcurrency returns the configured ceiling.
func (f *Fetcher) MaxConcurrency() int { return cap(f.slots) }

// Do runs fn under policy once a slot is free. Transient errors are retried
// and never reach the caller; anything else ends as a *FetchError.
func (f *Fetcher) Do(ctx context.Context, op string, policy util.RetryPolicy, fn func(ctx context.Context) error) error {
	return f.do(ctx, ctx, op, policy, fn)
}

// do separates admission from the request itself. Once admitCtx is done no
// new attempt is sent, while an attempt already in flight keeps reqCtx and
// is allowed to finish.
func (f *Fetcher) do(admitCtx, reqCtx context.Context, op string, policy util.RetryPolicy, fn func(ctx context.Context) error) error {
	select {
	case f.slots <- struct{}{}:
	case <-admitCtx.Done():
		return admitCtx.Err()
	}
	defer func() { <-f.slots }()
	if err := admitCtx.Err(); err != nil {
		return err
	}

	f.rec.Acquire()
	defer f.rec.Release()

	notify := policy.OnRetry
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		f.log.Warn("retry scheduled", "op", op, "attempt", attempt, "wait", wait.Round(time.Millisecond), "err", err)
		if notify != nil {
			notify(attempt, wait, err)
		}
	}

	attempts, err := policy.Do(admitCtx, func(int) error {
		if err := f.limiter.Wait(admitCtx); err != nil {
			return err
		}
		f.rec.Attempt(op)
		return fn(reqCtx)
	})
	if err == nil {
		return nil
	}
	if admitCtx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}

	f.rec.Failure(op)
	f.log.Error("fetch failed", "op", op, "attempts", attempts, "err", err)
	return &FetchError{Op: op, Attempts: attempts, Err: err}
}

// BatchFunc fetches one batch and returns its records keyed by symbol.
type BatchFunc[T any] func(ctx context.Context, batch domain.Batch) (map[string]T, error)

// FetchAll runs fn for every batch through f and merges the results. The
// first terminal failure stops admission of further batches, lets requests
// already sent drain, and is returned with a nil map: a run is either
// complete or failed.
func FetchAll[T any](ctx context.Context, f *Fetcher, op string, policy util.RetryPolicy, batches []domain.Batch, fn BatchFunc[T]) (map[string]T, error) {
	g, gctx := errgroup.WithContext(ctx)

	var (
		results  = make([]map[string]T, len(batches))
		done     atomic.Int64
		runStart = time.Now()
	)

	for i, batch := range batches {
		g.Go(func() error {
			err := f.do(gctx, ctx, op, policy, func(rctx context.Context) error {
				m, err := fn(rctx, batch)
				if err != nil {
					return err
				}
				results[i] = m
				return nil
			})
			if err != nil {
				return err
			}

			f.log.Info("batch done",
				"op", op,
				"batch", fmt.Sprintf("%d/%d", done.Add(1), len(batches)),
				"symbols", len(batch),
				"records", len(results[i]),
				"elapsed", time.Since(runStart).Round(time.Millisecond),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Aggregate(results), nil
}

// Aggregate merges per-batch results into one map. Batches come from Chunk,
// so keys are disjoint.
func Aggregate[T any](outcomes []map[string]T) map[string]T {
	n := 0
	for _, m := range outcomes {
		n += len(m)
	}
	out := make(map[string]T, n)
	for _, m := range outcomes {
		maps.Copy(out, m)
	}
	return out
}
