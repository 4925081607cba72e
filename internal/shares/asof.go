package shares

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"stockuniverse/internal/domain"
)

// ResolveAsOf returns the shares outstanding on day: the latest record dated
// on or before day. When every record postdates day the earliest record is
// used, so the first dates of a symbol's history still get a figure. ok is
// false only for an empty series.
func ResolveAsOf(records domain.ShareSeries, day time.Time) (shares float64, ok bool) {
	if len(records) == 0 {
		return 0, false
	}
	d := civilDate(day)

	var (
		best     *domain.ShareRecord
		earliest = &records[0]
	)
	for i := range records {
		r := &records[i]
		asOf := civilDate(r.AsOf)
		if asOf.Before(civilDate(earliest.AsOf)) {
			earliest = r
		}
		if asOf.After(d) {
			continue
		}
		if best == nil || asOf.After(civilDate(best.AsOf)) {
			best = r
		}
	}
	if best == nil {
		best = earliest
	}
	return best.Shares, true
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MarketCap joins row with series. SharesOutstanding and MarketCap stay null
// when no share figure applies.
func MarketCap(row domain.PriceRow, series domain.ShareSeries) domain.MarketCapRow {
	out := domain.MarketCapRow{PriceRow: row}
	shares, ok := ResolveAsOf(series, row.Date)
	if !ok {
		return out
	}
	s := decimal.NewFromFloat(shares)
	out.SharesOutstanding = decimal.NewNullDecimal(s)
	out.MarketCap = decimal.NewNullDecimal(s.Mul(decimal.NewFromFloat(row.AdjustedClose)))
	return out
}

// Joiner computes market-cap rows for a daily price table.
type Joiner struct {
	resolver Resolver
	workers  int
	log      *slog.Logger
}

// NewJoiner creates a Joiner resolving up to workers symbols at once. The
// upstream ceiling is still enforced by the Fetcher behind resolver.
func NewJoiner(resolver Resolver, workers int, log *slog.Logger) *Joiner {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Joiner{resolver: resolver, workers: workers, log: log.With("component", "joiner")}
}

// MarketCaps joins every row with its symbol's share series, in input order.
// The first resolution failure stops new lookups and is returned with no
// rows; lookups already started finish first.
func (j *Joiner) MarketCaps(ctx context.Context, rows []domain.PriceRow) ([]domain.MarketCapRow, error) {
	out := make([]domain.MarketCapRow, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.workers)

	start := time.Now()
	for i, row := range rows {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			series, err := j.resolver.Resolve(ctx, row.Symbol)
			if err != nil {
				return fmt.Errorf("resolving shares for %s: %w", row.Symbol, err)
			}
			out[i] = MarketCap(row, series)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	missing := 0
	for _, r := range out {
		if !r.MarketCap.Valid {
			missing++
		}
	}
	j.log.Info("market cap joined",
		"rows", len(out),
		"missing", missing,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return out, nil
}
