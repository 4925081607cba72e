// Package shares resolves quarterly outstanding-share series per symbol
// through a persistent cache-aside store and an in-run memoizer, and joins
// them against daily prices to compute market capitalization.
package shares

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"stockuniverse/internal/domain"
	"stockuniverse/internal/gather"
	"stockuniverse/internal/metrics"
	"stockuniverse/internal/store"
	"stockuniverse/internal/util"
)

// Source fetches the quarterly share series of one symbol from upstream. It
// returns gather.ErrNoData when the upstream confirms there is none.
type Source interface {
	QuarterlyShares(ctx context.Context, symbol string) (domain.ShareSeries, error)
}

// Resolver returns the share series of a symbol.
type Resolver interface {
	Resolve(ctx context.Context, symbol string) (domain.ShareSeries, error)
}

const cachePrefix = "fundamentals/outstanding-shares/"

// CacheKey returns the cache key of symbol. It is namespaced apart from the
// date-partitioned daily artifacts.
func CacheKey(symbol string) string {
	return cachePrefix + domain.NormalizeSymbol(symbol) + ".json"
}

var _ Resolver = (*Cache)(nil)

// Cache is the cache-aside store of share series. A stored entry, empty or
// not, means the symbol was resolved and is never fetched again. Entries
// never expire.
type Cache struct {
	kv      store.KV
	source  Source
	fetcher *gather.Fetcher
	policy  util.RetryPolicy
	rec     *metrics.Recorder
	log     *slog.Logger
}

// NewCache creates a Cache. Misses are fetched from source through fetcher
// with policy; rec may be nil.
func NewCache(kv store.KV, source Source, fetcher *gather.Fetcher, policy util.RetryPolicy, rec *metrics.Recorder, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		kv:      kv,
		source:  source,
		fetcher: fetcher,
		policy:  policy,
		rec:     rec,
		log:     log.With("component", "shares-cache"),
	}
}

// Resolve returns the cached series for symbol, fetching and persisting it
// on a miss. A confirmed no-data answer is persisted as an empty series. A
// terminal fetch failure is returned and nothing is written, so a later run
// retries the symbol.
func (c *Cache) Resolve(ctx context.Context, symbol string) (domain.ShareSeries, error) {
	symbol = domain.NormalizeSymbol(symbol)
	key := CacheKey(symbol)

	data, ok, err := c.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading share cache %s: %w", key, err)
	}
	if ok {
		c.rec.CacheHit()
		var series domain.ShareSeries
		if err := json.Unmarshal(data, &series); err != nil {
			return nil, fmt.Errorf("%w: share cache %s: %v", gather.ErrMalformed, key, err)
		}
		c.log.Debug("cache hit", "symbol", symbol, "records", len(series))
		return series, nil
	}

	c.rec.CacheMiss()
	c.log.Debug("cache miss", "symbol", symbol)

	var series domain.ShareSeries
	err = c.fetcher.Do(ctx, "shares", c.policy, func(ctx context.Context) error {
		s, err := c.source.QuarterlyShares(ctx, symbol)
		if errors.Is(err, gather.ErrNoData) {
			series = domain.ShareSeries{}
			return nil
		}
		if err != nil {
			return err
		}
		series = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching shares for %s: %w", symbol, err)
	}

	if series == nil {
		series = domain.ShareSeries{}
	}
	sort.Slice(series, func(i, j int) bool { return series[i].AsOf.Before(series[j].AsOf) })

	data, err = json.Marshal(series)
	if err != nil {
		return nil, err
	}
	if err := c.kv.Put(ctx, key, data); err != nil {
		return nil, fmt.Errorf("writing share cache %s: %w", key, err)
	}
	return series, nil
}
