package us

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"stockuniverse/internal/domain"
	"stockuniverse/internal/gather"
	"stockuniverse/internal/metrics"
	"stockuniverse/internal/shares"
	"stockuniverse/internal/store"
	"stockuniverse/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ gather.Gatherer = (*DailyGatherer)(nil)
var _ gather.Gatherer = (*MarketCapBackfill)(nil)

// QuoteSource fetches quote snapshots for one batch.
type QuoteSource interface {
	Snapshots(ctx context.Context, batch domain.Batch) (map[string]domain.Quote, error)
}

// EODSource is the part of the EOD client used by the daily gatherer.
type EODSource interface {
	BulkPrices(ctx context.Context, exchange domain.Exchange, date time.Time, symbols []string) (map[string]domain.PriceRow, error)
	BulkFundamentals(ctx context.Context, exchange domain.Exchange, symbols []string) (map[string]domain.Fundamental, error)
}

// ---------------------------------------------------------------------------
// DailyGatherer: one dataset for one listing and day.
// ---------------------------------------------------------------------------

// DailyConfig selects what a DailyGatherer run produces.
type DailyConfig struct {
	Dataset      string // store.DatasetQuotes, DatasetFundamentals or DatasetPrices
	Listing      string // ListingNasdaq or ListingOther
	Date         time.Time
	Force        bool
	MaxChunkSize int
	BatchPolicy  util.RetryPolicy
}

// DailyGatherer loads the listed universe of a day, fetches one dataset for
// it in bounded concurrent batches and writes the day's artifact. Nothing is
// written unless every batch succeeded.
type DailyGatherer struct {
	cfg       DailyConfig
	objects   store.ObjectStore
	artifacts *store.Artifacts
	fetcher   *gather.Fetcher
	quotes    QuoteSource
	eod       EODSource
	joiner    *shares.Joiner // nil disables the market-cap join
	rec       *metrics.Recorder
	log       *slog.Logger
}

// NewDailyGatherer creates a DailyGatherer. quotes is only needed for the
// quotes dataset and eod for the others. A non-nil joiner makes a prices run
// also write the market-cap artifact.
func NewDailyGatherer(cfg DailyConfig, objects store.ObjectStore, fetcher *gather.Fetcher, quotes QuoteSource, eod EODSource, joiner *shares.Joiner, rec *metrics.Recorder, log *slog.Logger) *DailyGatherer {
	if log == nil {
		log = slog.Default()
	}
	return &DailyGatherer{
		cfg:       cfg,
		objects:   objects,
		artifacts: store.NewArtifacts(objects),
		fetcher:   fetcher,
		quotes:    quotes,
		eod:       eod,
		joiner:    joiner,
		rec:       rec,
		log:       log.With("gatherer", "us-"+cfg.Dataset, "listing", cfg.Listing),
	}
}

// Name returns the gatherer identifier.
func (g *DailyGatherer) Name() string { return "us-" + g.cfg.Dataset }

// Run executes the gatherer once and returns.
func (g *DailyGatherer) Run(ctx context.Context) error {
	exchange, err := ExchangeForListing(g.cfg.Listing)
	if err != nil {
		return err
	}
	date := g.cfg.Date
	dateStr := date.Format("2006-01-02")

	// 1. Idempotency.
	done, err := g.artifacts.Exists(ctx, g.cfg.Dataset, exchange, date)
	if err != nil {
		return fmt.Errorf("checking artifact: %w", err)
	}
	if done && !g.cfg.Force {
		g.log.Info("already completed", "date", dateStr)
		return nil
	}

	// 2. Universe.
	symbols, err := g.loadUniverse(ctx)
	if err != nil {
		return err
	}

	// 3. Batches.
	batches, err := gather.Chunk(symbols, g.cfg.MaxChunkSize)
	if err != nil {
		return err
	}

	g.log.Info("starting",
		"date", dateStr,
		"exchange", exchange,
		"symbols", len(symbols),
		"batches", len(batches),
		"maxConcurrency", g.fetcher.MaxConcurrency(),
	)
	runStart := time.Now()

	// 4. Fetch and write.
	var rows int
	switch g.cfg.Dataset {
	case store.DatasetQuotes:
		rows, err = g.runQuotes(ctx, exchange, batches)
	case store.DatasetFundamentals:
		rows, err = g.runFundamentals(ctx, exchange, batches)
	case store.DatasetPrices:
		rows, err = g.runPrices(ctx, exchange, batches)
	default:
		err = fmt.Errorf("%w: unknown dataset %q", gather.ErrInvalidInput, g.cfg.Dataset)
	}
	if err != nil {
		return err
	}

	g.log.Info("complete",
		"date", dateStr,
		"rows", rows,
		"missing", len(symbols)-rows,
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

func (g *DailyGatherer) loadUniverse(ctx context.Context) ([]string, error) {
	key := store.ListingKey(g.cfg.Date, g.cfg.Listing)
	data, err := g.objects.Get(ctx, key)
	if errors.Is(err, store.ErrNotExist) {
		return nil, fmt.Errorf("listing %s not found, run the universe command first: %w", key, err)
	}
	if err != nil {
		return nil, fmt.Errorf("reading listing %s: %w", key, err)
	}
	symbols, err := ParseListing(bytes.NewReader(data), g.cfg.Listing)
	if err != nil {
		return nil, err
	}
	return symbols, nil
}

func (g *DailyGatherer) runQuotes(ctx context.Context, exchange domain.Exchange, batches []domain.Batch) (int, error) {
	if g.quotes == nil {
		return 0, fmt.Errorf("%w: quotes dataset needs a quote source", gather.ErrInvalidInput)
	}
	got, err := gather.FetchAll(ctx, g.fetcher, store.DatasetQuotes, g.cfg.BatchPolicy, batches, g.quotes.Snapshots)
	if err != nil {
		return 0, err
	}
	quotes := sortedValues(got)
	if err := g.artifacts.WriteQuotes(ctx, exchange, g.cfg.Date, quotes); err != nil {
		return 0, err
	}
	g.written(store.DatasetQuotes, exchange, len(quotes))
	return len(quotes), nil
}

func (g *DailyGatherer) runFundamentals(ctx context.Context, exchange domain.Exchange, batches []domain.Batch) (int, error) {
	if g.eod == nil {
		return 0, fmt.Errorf("%w: fundamentals dataset needs an EOD source", gather.ErrInvalidInput)
	}
	got, err := gather.FetchAll(ctx, g.fetcher, store.DatasetFundamentals, g.cfg.BatchPolicy, batches,
		func(ctx context.Context, b domain.Batch) (map[string]domain.Fundamental, error) {
			return g.eod.BulkFundamentals(ctx, domain.ExchangeUS, b)
		})
	if err != nil {
		return 0, err
	}
	funds := sortedValues(got)
	if err := g.artifacts.WriteFundamentals(ctx, exchange, g.cfg.Date, funds); err != nil {
		return 0, err
	}
	g.written(store.DatasetFundamentals, exchange, len(funds))
	return len(funds), nil
}

func (g *DailyGatherer) runPrices(ctx context.Context, exchange domain.Exchange, batches []domain.Batch) (int, error) {
	if g.eod == nil {
		return 0, fmt.Errorf("%w: prices dataset needs an EOD source", gather.ErrInvalidInput)
	}
	got, err := gather.FetchAll(ctx, g.fetcher, store.DatasetPrices, g.cfg.BatchPolicy, batches,
		func(ctx context.Context, b domain.Batch) (map[string]domain.PriceRow, error) {
			return g.eod.BulkPrices(ctx, domain.ExchangeUS, g.cfg.Date, b)
		})
	if err != nil {
		return 0, err
	}
	prices := sortedValues(got)

	// The join runs before anything is written so a failed lookup leaves
	// neither artifact behind.
	var caps []domain.MarketCapRow
	if g.joiner != nil {
		caps, err = g.joiner.MarketCaps(ctx, prices)
		if err != nil {
			return 0, fmt.Errorf("joining market cap: %w", err)
		}
	}

	if err := g.artifacts.WritePrices(ctx, exchange, g.cfg.Date, prices); err != nil {
		return 0, err
	}
	g.written(store.DatasetPrices, exchange, len(prices))

	if caps != nil {
		if err := g.artifacts.WriteMarketCaps(ctx, exchange, g.cfg.Date, caps); err != nil {
			return 0, err
		}
		g.written(store.DatasetMarketCap, exchange, len(caps))
	}
	return len(prices), nil
}

func (g *DailyGatherer) written(dataset string, exchange domain.Exchange, rows int) {
	g.rec.Rows(dataset, rows)
	g.log.Info("artifact written", "key", store.ArtifactKey(dataset, exchange, g.cfg.Date), "rows", rows)
}

// sortedValues returns the values of m ordered by key.
func sortedValues[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}

// ---------------------------------------------------------------------------
// MarketCapBackfill: market-cap artifacts for past sessions.
// ---------------------------------------------------------------------------

// SessionSource lists trading sessions.
type SessionSource interface {
	Sessions(start, end time.Time) ([]time.Time, error)
}

// MarketCapBackfill joins the stored prices artifact of every session in a
// range with the share cache and writes the market-cap artifact. Sessions
// without a prices artifact are skipped; the first join failure aborts.
type MarketCapBackfill struct {
	artifacts *store.Artifacts
	sessions  SessionSource
	joiner    *shares.Joiner
	exchanges []domain.Exchange
	dates     gather.DateRange
	force     bool
	rec       *metrics.Recorder
	log       *slog.Logger
}

// NewMarketCapBackfill creates a backfill over dates for exchanges.
func NewMarketCapBackfill(objects store.ObjectStore, sessions SessionSource, joiner *shares.Joiner, exchanges []domain.Exchange, dates gather.DateRange, force bool, rec *metrics.Recorder, log *slog.Logger) *MarketCapBackfill {
	if log == nil {
		log = slog.Default()
	}
	return &MarketCapBackfill{
		artifacts: store.NewArtifacts(objects),
		sessions:  sessions,
		joiner:    joiner,
		exchanges: exchanges,
		dates:     dates,
		force:     force,
		rec:       rec,
		log:       log.With("gatherer", "us-market-cap"),
	}
}

// Name returns the gatherer identifier.
func (b *MarketCapBackfill) Name() string { return "us-market-cap" }

// Run processes every session in the configured range.
func (b *MarketCapBackfill) Run(ctx context.Context) error {
	sessions, err := b.sessions.Sessions(b.dates.Start, b.dates.End)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	b.log.Info("starting",
		"start", b.dates.Start.Format("2006-01-02"),
		"end", b.dates.End.Format("2006-01-02"),
		"sessions", len(sessions),
	)

	var written, skipped int
	for i, day := range sessions {
		for _, exchange := range b.exchanges {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := b.session(ctx, exchange, day)
			if err != nil {
				return fmt.Errorf("%s %s: %w", day.Format("2006-01-02"), exchange, err)
			}
			if ok {
				written++
			} else {
				skipped++
			}
		}
		b.log.Info("session done",
			"session", fmt.Sprintf("%d/%d", i+1, len(sessions)),
			"date", day.Format("2006-01-02"),
		)
	}

	b.log.Info("complete", "written", written, "skipped", skipped)
	return nil
}

// session returns false when there was nothing to do for the day.
func (b *MarketCapBackfill) session(ctx context.Context, exchange domain.Exchange, day time.Time) (bool, error) {
	if !b.force {
		done, err := b.artifacts.Exists(ctx, store.DatasetMarketCap, exchange, day)
		if err != nil {
			return false, err
		}
		if done {
			return false, nil
		}
	}

	prices, err := b.artifacts.ReadPrices(ctx, exchange, day)
	if errors.Is(err, store.ErrNotExist) {
		b.log.Warn("no prices artifact", "date", day.Format("2006-01-02"), "exchange", exchange)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	caps, err := b.joiner.MarketCaps(ctx, prices)
	if err != nil {
		return false, err
	}
	if err := b.artifacts.WriteMarketCaps(ctx, exchange, day, caps); err != nil {
		return false, err
	}
	b.rec.Rows(store.DatasetMarketCap, len(caps))
	return true, nil
}
