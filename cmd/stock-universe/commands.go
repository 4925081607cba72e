package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"stockuniverse/internal/domain"
	"stockuniverse/internal/gather"
	"stockuniverse/internal/gather/us"
	"stockuniverse/internal/shares"
	"stockuniverse/internal/store"
	"stockuniverse/internal/util"
)

// ---------------------------------------------------------------------------
// universe
// ---------------------------------------------------------------------------

func (a *app) universeCmd() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "universe",
		Short: "Download the symbol directory files into incoming/",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			date, err := a.date()
			if err != nil {
				return err
			}
			if baseURL == "" {
				baseURL = a.cfg.EOD.ListingURL
			}
			g := &universeGatherer{
				client:  us.NewListingClient(baseURL, a.cfg.EOD.Timeout),
				objects: a.objects,
				date:    date,
				force:   a.force,
				log:     a.log.With("gatherer", "us-universe"),
			}
			return a.run(cmd.Context(), g)
		},
	}
	cmd.Flags().StringVar(&baseURL, "listing-url", "", "symbol directory base URL (default from config)")
	return cmd
}

// universeGatherer stores the raw listing files of one day.
type universeGatherer struct {
	client  *us.ListingClient
	objects store.ObjectStore
	date    time.Time
	force   bool
	log     *slog.Logger
}

func (g *universeGatherer) Name() string { return "us-universe" }

func (g *universeGatherer) Run(ctx context.Context) error {
	for _, listing := range us.Listings {
		key := store.ListingKey(g.date, listing)
		if !g.force {
			ok, err := g.objects.Exists(ctx, key)
			if err != nil {
				return err
			}
			if ok {
				g.log.Info("already completed", "key", key)
				continue
			}
		}
		var body []byte
		err := util.Retry(ctx, 3, time.Second, func() error {
			var err error
			body, err = g.client.Download(ctx, listing)
			return err
		})
		if err != nil {
			return fmt.Errorf("downloading %s: %w", listing, err)
		}
		if err := g.objects.Put(ctx, key, body); err != nil {
			return err
		}
		g.log.Info("listing saved", "key", key, "bytes", len(body))
	}
	return nil
}

// ---------------------------------------------------------------------------
// quotes, fundamentals, prices
// ---------------------------------------------------------------------------

func (a *app) datasetCmd(dataset, short string) *cobra.Command {
	var (
		listing   string
		marketCap bool
	)
	cmd := &cobra.Command{
		Use:   dataset,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			date, err := a.date()
			if err != nil {
				return err
			}
			listings := us.Listings
			if listing != "" {
				if _, err := us.ExchangeForListing(listing); err != nil {
					return err
				}
				listings = []string{listing}
			}

			f, err := a.fetcher()
			if err != nil {
				return err
			}
			var (
				quotes us.QuoteSource
				eod    *us.EODClient
				joiner *shares.Joiner
			)
			if dataset == store.DatasetQuotes {
				quotes = a.quoteClient()
			} else {
				eod = a.eodClient()
			}
			if marketCap {
				if joiner, err = a.joiner(ctx, f, eod); err != nil {
					return err
				}
			}

			gs := make([]gather.Gatherer, 0, len(listings))
			for _, l := range listings {
				cfg := us.DailyConfig{
					Dataset:      dataset,
					Listing:      l,
					Date:         date,
					Force:        a.force,
					MaxChunkSize: a.cfg.Gather.MaxChunkSize,
					BatchPolicy:  a.cfg.Gather.BatchRetry.Exponential(),
				}
				var eodSrc us.EODSource
				if eod != nil {
					eodSrc = eod
				}
				gs = append(gs, us.NewDailyGatherer(cfg, a.objects, f, quotes, eodSrc, joiner, a.rec, a.log))
			}
			return a.run(ctx, gs...)
		},
	}
	cmd.Flags().StringVar(&listing, "listing", "", "only this listing: nasdaqlisted or otherlisted (default both)")
	if dataset == store.DatasetPrices {
		cmd.Flags().BoolVar(&marketCap, "market-cap", false, "also write the market-cap artifact")
	}
	return cmd
}

// ---------------------------------------------------------------------------
// market-cap
// ---------------------------------------------------------------------------

func (a *app) marketCapCmd() *cobra.Command {
	var startStr, endStr string
	cmd := &cobra.Command{
		Use:   "market-cap",
		Short: "Backfill market-cap artifacts from stored prices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			start, err := parseDate("start", startStr)
			if err != nil {
				return err
			}
			end := start
			if endStr != "" {
				if end, err = parseDate("end", endStr); err != nil {
					return err
				}
			}
			if end.Before(start) {
				return fmt.Errorf("%w: --end is before --start", gather.ErrInvalidInput)
			}

			cal, err := a.calendar()
			if err != nil {
				return err
			}
			f, err := a.fetcher()
			if err != nil {
				return err
			}
			joiner, err := a.joiner(ctx, f, a.eodClient())
			if err != nil {
				return err
			}
			exchanges := []domain.Exchange{domain.ExchangeNasdaq, domain.ExchangeNYSE}
			b := us.NewMarketCapBackfill(a.objects, cal, joiner, exchanges,
				gather.DateRange{Start: start, End: end}, a.force, a.rec, a.log)
			return a.run(ctx, b)
		},
	}
	cmd.Flags().StringVar(&startStr, "start", "", "first session YYYY-MM-DD")
	cmd.Flags().StringVar(&endStr, "end", "", "last session YYYY-MM-DD (default --start)")
	cmd.MarkFlagRequired("start")
	return cmd
}

// ---------------------------------------------------------------------------
// shares
// ---------------------------------------------------------------------------

func (a *app) sharesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shares SYMBOL",
		Short: "Resolve one symbol's outstanding shares through the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			defer a.close()

			symbol := domain.NormalizeSymbol(args[0])
			f, err := a.fetcher()
			if err != nil {
				return err
			}
			memo, err := a.shareCache(ctx, f, a.eodClient())
			if err != nil {
				return err
			}
			series, err := memo.Resolve(ctx, symbol)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(series); err != nil {
				return err
			}
			if a.dateStr == "" {
				return nil
			}
			day, err := parseDate("date", a.dateStr)
			if err != nil {
				return err
			}
			if v, ok := shares.ResolveAsOf(series, day); ok {
				fmt.Fprintf(out, "%s shares as of %s: %.0f\n", symbol, day.Format("2006-01-02"), v)
			} else {
				fmt.Fprintf(out, "%s has no share data\n", symbol)
			}
			return nil
		},
	}
}
