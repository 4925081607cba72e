package main

import (
	"context"
	"fmt"

	"stockuniverse/internal/config"
	"stockuniverse/internal/gather"
	"stockuniverse/internal/gather/us"
	"stockuniverse/internal/shares"
	"stockuniverse/internal/store"
	"stockuniverse/internal/util"
)

func openObjects(ctx context.Context, cfg config.Storage) (store.ObjectStore, error) {
	switch cfg.Backend {
	case "s3":
		s, err := store.NewS3Store(ctx, cfg.Bucket, cfg.Region)
		if err != nil {
			return nil, fmt.Errorf("opening s3 store: %w", err)
		}
		return s, nil
	default:
		return store.NewFSStore(cfg.DataDir), nil
	}
}

// shareKV opens the configured backend of the outstanding-shares cache.
func (a *app) shareKV(ctx context.Context) (store.KV, error) {
	c := a.cfg.Cache
	switch c.Backend {
	case "sqlite":
		s, err := store.NewSQLiteStore(c.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		return s, nil
	case "redis":
		s, err := store.NewRedisStore(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB, c.RedisPrefix)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		return s, nil
	default:
		return store.NewObjectKV(a.objects), nil
	}
}

// fetcher returns the single Fetcher of the run. Batch fetches and share
// lookups share it, so the concurrency ceiling covers both.
func (a *app) fetcher() (*gather.Fetcher, error) {
	g := a.cfg.Gather
	return gather.NewFetcher(g.MaxConcurrency, util.NewRateLimiter(g.RateLimitPerMin), a.rec, a.log)
}

func (a *app) eodClient() *us.EODClient {
	return us.NewEODClient(a.cfg.EOD.BaseURL, a.cfg.EOD.APIToken,
		us.WithTimeout(a.cfg.EOD.Timeout),
		us.WithLogger(a.log),
	)
}

func (a *app) quoteClient() *us.QuoteClient {
	al := a.cfg.Alpaca
	return us.NewQuoteClient(al.APIKey, al.APISecret, al.DataURL, al.Feed)
}

func (a *app) calendar() (*us.Calendar, error) {
	al := a.cfg.Alpaca
	return us.NewCalendar(al.APIKey, al.APISecret, al.BaseURL)
}

// shareCache builds the cache-aside store of share series behind an in-run
// memo.
func (a *app) shareCache(ctx context.Context, f *gather.Fetcher, eod *us.EODClient) (*shares.Memo, error) {
	kv, err := a.shareKV(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening share cache: %w", err)
	}
	cache := shares.NewCache(kv, eod, f, a.cfg.Gather.SharesRetry.Fixed(), a.rec, a.log)
	return shares.NewMemo(cache), nil
}

func (a *app) joiner(ctx context.Context, f *gather.Fetcher, eod *us.EODClient) (*shares.Joiner, error) {
	memo, err := a.shareCache(ctx, f, eod)
	if err != nil {
		return nil, err
	}
	return shares.NewJoiner(memo, a.cfg.Gather.JoinWorkers, a.log), nil
}
