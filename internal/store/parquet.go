package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"stockuniverse/internal/domain"
)

// Artifacts reads and writes the daily Parquet artifacts in an ObjectStore.
// Every artifact is one file per (dataset, exchange, day), rows sorted by
// symbol.
type Artifacts struct {
	objects ObjectStore
}

// NewArtifacts creates an Artifacts writer over objects.
func NewArtifacts(objects ObjectStore) *Artifacts {
	return &Artifacts{objects: objects}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// QuoteRecord is the Parquet schema for daily quote snapshots.
type QuoteRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Last      float64 `parquet:"last"`
	Bid       float64 `parquet:"bid"`
	Ask       float64 `parquet:"ask"`
	BidSize   int64   `parquet:"bid_size"`
	AskSize   int64   `parquet:"ask_size"`
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
	PrevClose float64 `parquet:"prev_close"`
}

// FundamentalRecord is the Parquet schema for daily fundamentals.
type FundamentalRecord struct {
	Symbol               string  `parquet:"symbol"`
	Name                 string  `parquet:"name"`
	Exchange             string  `parquet:"exchange"`
	Sector               string  `parquet:"sector"`
	Industry             string  `parquet:"industry"`
	MarketCapitalization float64 `parquet:"market_capitalization"`
	SharesOutstanding    float64 `parquet:"shares_outstanding"`
	SharesFloat          float64 `parquet:"shares_float"`
	PERatio              float64 `parquet:"pe_ratio"`
	EarningsShare        float64 `parquet:"earnings_share"`
	DividendYield        float64 `parquet:"dividend_yield"`
}

// PriceRecord is the Parquet schema for end-of-day prices.
type PriceRecord struct {
	Symbol        string  `parquet:"symbol"`
	Exchange      string  `parquet:"exchange"`
	Date          int64   `parquet:"date,timestamp(millisecond)"` // Unix ms, midnight UTC
	Open          float64 `parquet:"open"`
	High          float64 `parquet:"high"`
	Low           float64 `parquet:"low"`
	Close         float64 `parquet:"close"`
	AdjustedClose float64 `parquet:"adjusted_close"`
	Volume        int64   `parquet:"volume"`
	PrevClose     float64 `parquet:"prev_close"`
	Change        float64 `parquet:"change"`
	ChangePct     float64 `parquet:"change_p"`
	Name          string  `parquet:"name"`
	Type          string  `parquet:"type"`
}

// MarketCapRecord is PriceRecord plus the joined share count. Both extra
// columns are null when no share record applies.
type MarketCapRecord struct {
	Symbol            string   `parquet:"symbol"`
	Exchange          string   `parquet:"exchange"`
	Date              int64    `parquet:"date,timestamp(millisecond)"`
	Open              float64  `parquet:"open"`
	High              float64  `parquet:"high"`
	Low               float64  `parquet:"low"`
	Close             float64  `parquet:"close"`
	AdjustedClose     float64  `parquet:"adjusted_close"`
	Volume            int64    `parquet:"volume"`
	PrevClose         float64  `parquet:"prev_close"`
	Change            float64  `parquet:"change"`
	ChangePct         float64  `parquet:"change_p"`
	Name              string   `parquet:"name"`
	Type              string   `parquet:"type"`
	SharesOutstanding *float64 `parquet:"shares_outstanding,optional"`
	MarketCap         *float64 `parquet:"market_cap,optional"`
}

// ---------------------------------------------------------------------------
// Writers
// ---------------------------------------------------------------------------

// Exists reports whether the artifact for (dataset, exchange, date) exists.
func (a *Artifacts) Exists(ctx context.Context, dataset string, exchange domain.Exchange, date time.Time) (bool, error) {
	return a.objects.Exists(ctx, ArtifactKey(dataset, exchange, date))
}

// WriteQuotes writes the quotes artifact.
func (a *Artifacts) WriteQuotes(ctx context.Context, exchange domain.Exchange, date time.Time, quotes []domain.Quote) error {
	records := make([]QuoteRecord, len(quotes))
	for i, q := range quotes {
		records[i] = QuoteRecord{
			Symbol:    q.Symbol,
			Timestamp: q.Timestamp.UnixMilli(),
			Last:      q.Last,
			Bid:       q.Bid,
			Ask:       q.Ask,
			BidSize:   q.BidSize,
			AskSize:   q.AskSize,
			Open:      q.Open,
			High:      q.High,
			Low:       q.Low,
			Close:     q.Close,
			Volume:    q.Volume,
			PrevClose: q.PrevClose,
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Symbol < records[j].Symbol })
	return writeArtifact(ctx, a.objects, ArtifactKey(DatasetQuotes, exchange, date), records)
}

// WriteFundamentals writes the fundamentals artifact.
func (a *Artifacts) WriteFundamentals(ctx context.Context, exchange domain.Exchange, date time.Time, funds []domain.Fundamental) error {
	records := make([]FundamentalRecord, len(funds))
	for i, f := range funds {
		records[i] = FundamentalRecord{
			Symbol:               f.Symbol,
			Name:                 f.Name,
			Exchange:             f.Exchange,
			Sector:               f.Sector,
			Industry:             f.Industry,
			MarketCapitalization: f.MarketCapitalization,
			SharesOutstanding:    f.SharesOutstanding,
			SharesFloat:          f.SharesFloat,
			PERatio:              f.PERatio,
			EarningsShare:        f.EarningsShare,
			DividendYield:        f.DividendYield,
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Symbol < records[j].Symbol })
	return writeArtifact(ctx, a.objects, ArtifactKey(DatasetFundamentals, exchange, date), records)
}

// WritePrices writes the prices artifact.
func (a *Artifacts) WritePrices(ctx context.Context, exchange domain.Exchange, date time.Time, rows []domain.PriceRow) error {
	records := make([]PriceRecord, len(rows))
	for i, r := range rows {
		records[i] = priceRecord(r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Symbol < records[j].Symbol })
	return writeArtifact(ctx, a.objects, ArtifactKey(DatasetPrices, exchange, date), records)
}

// ReadPrices reads the prices artifact back into domain rows.
func (a *Artifacts) ReadPrices(ctx context.Context, exchange domain.Exchange, date time.Time) ([]domain.PriceRow, error) {
	records, err := readArtifact[PriceRecord](ctx, a.objects, ArtifactKey(DatasetPrices, exchange, date))
	if err != nil {
		return nil, err
	}
	rows := make([]domain.PriceRow, len(records))
	for i, r := range records {
		rows[i] = domain.PriceRow{
			Symbol:        r.Symbol,
			Exchange:      r.Exchange,
			Date:          time.UnixMilli(r.Date).UTC(),
			Open:          r.Open,
			High:          r.High,
			Low:           r.Low,
			Close:         r.Close,
			AdjustedClose: r.AdjustedClose,
			Volume:        r.Volume,
			PrevClose:     r.PrevClose,
			Change:        r.Change,
			ChangePct:     r.ChangePct,
			Name:          r.Name,
			Type:          r.Type,
		}
	}
	return rows, nil
}

// WriteMarketCaps writes the market-cap artifact.
func (a *Artifacts) WriteMarketCaps(ctx context.Context, exchange domain.Exchange, date time.Time, rows []domain.MarketCapRow) error {
	records := make([]MarketCapRecord, len(rows))
	for i, r := range rows {
		p := priceRecord(r.PriceRow)
		records[i] = MarketCapRecord{
			Symbol:            p.Symbol,
			Exchange:          p.Exchange,
			Date:              p.Date,
			Open:              p.Open,
			High:              p.High,
			Low:               p.Low,
			Close:             p.Close,
			AdjustedClose:     p.AdjustedClose,
			Volume:            p.Volume,
			PrevClose:         p.PrevClose,
			Change:            p.Change,
			ChangePct:         p.ChangePct,
			Name:              p.Name,
			Type:              p.Type,
			SharesOutstanding: nullFloat(r.SharesOutstanding),
			MarketCap:         nullFloat(r.MarketCap),
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Symbol < records[j].Symbol })
	return writeArtifact(ctx, a.objects, ArtifactKey(DatasetMarketCap, exchange, date), records)
}

// ReadMarketCaps reads the raw market-cap records.
func (a *Artifacts) ReadMarketCaps(ctx context.Context, exchange domain.Exchange, date time.Time) ([]MarketCapRecord, error) {
	return readArtifact[MarketCapRecord](ctx, a.objects, ArtifactKey(DatasetMarketCap, exchange, date))
}

// ---------------------------------------------------------------------------
// Parquet helpers
// ---------------------------------------------------------------------------

func priceRecord(r domain.PriceRow) PriceRecord {
	return PriceRecord{
		Symbol:        strings.ToUpper(r.Symbol),
		Exchange:      r.Exchange,
		Date:          r.Date.UnixMilli(),
		Open:          r.Open,
		High:          r.High,
		Low:           r.Low,
		Close:         r.Close,
		AdjustedClose: r.AdjustedClose,
		Volume:        r.Volume,
		PrevClose:     r.PrevClose,
		Change:        r.Change,
		ChangePct:     r.ChangePct,
		Name:          r.Name,
		Type:          r.Type,
	}
}

func nullFloat(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f := d.Decimal.InexactFloat64()
	return &f
}

func writeArtifact[T any](ctx context.Context, objects ObjectStore, key string, records []T) error {
	var buf bytes.Buffer
	if err := parquet.Write(&buf, records); err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := objects.Put(ctx, key, buf.Bytes()); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func readArtifact[T any](ctx context.Context, objects ObjectStore, key string) ([]T, error) {
	data, err := objects.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	rows, err := parquet.Read[T](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return rows, nil
}
