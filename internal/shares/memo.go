package shares

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"stockuniverse/internal/domain"
)

var _ Resolver = (*Memo)(nil)

// Memo coalesces resolutions within one run: concurrent callers for the same
// symbol share a single call to the wrapped Resolver, and the outcome,
// success or failure, is kept for the rest of the run. Cancellations are not
// kept.
type Memo struct {
	resolver Resolver
	group    singleflight.Group

	mu      sync.Mutex
	results map[string]memoResult
}

type memoResult struct {
	series domain.ShareSeries
	err    error
}

// NewMemo wraps resolver.
func NewMemo(resolver Resolver) *Memo {
	return &Memo{
		resolver: resolver,
		results:  make(map[string]memoResult),
	}
}

// Resolve returns the memoized series for symbol.
func (m *Memo) Resolve(ctx context.Context, symbol string) (domain.ShareSeries, error) {
	key := domain.NormalizeSymbol(symbol)
	if r, ok := m.lookup(key); ok {
		return r.series, r.err
	}

	v, _, _ := m.group.Do(key, func() (any, error) {
		// A flight that finished between lookup and Do already stored its
		// result before releasing the key.
		if r, ok := m.lookup(key); ok {
			return r, nil
		}
		series, err := m.resolver.Resolve(ctx, key)
		r := memoResult{series: series, err: err}
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			m.mu.Lock()
			m.results[key] = r
			m.mu.Unlock()
		}
		return r, nil
	})
	r := v.(memoResult)
	return r.series, r.err
}

// Len returns the number of memoized symbols.
func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

func (m *Memo) lookup(key string) (memoResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[key]
	return r, ok
}
