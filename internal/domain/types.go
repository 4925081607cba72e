// Package domain defines the core data types shared across the stock-universe
// pipeline: symbols and batches, per-symbol share history, daily price rows
// and the derived market-capitalization rows.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Market identifies a country-level market.
type Market string

const (
	MarketUS Market = "us"
)

// Exchange is the MIC-style identifier used in artifact paths.
type Exchange string

const (
	ExchangeNasdaq Exchange = "xnas"
	ExchangeNYSE   Exchange = "xnys"
	// ExchangeUS is the consolidated US feed used by the bulk EOD endpoints.
	ExchangeUS Exchange = "us"
)

// NormalizeSymbol returns the canonical form of a ticker: trimmed, upper-case,
// with share-class separators (space, slash, dash) folded into a dot.
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", ".", "/", ".", "-", ".").Replace(s)
}

// Batch is an ordered, non-empty group of symbols sent in a single upstream
// request.
type Batch []string

// ShareRecord is one quarterly outstanding-shares figure.
type ShareRecord struct {
	AsOf   time.Time `json:"as_of"`
	Shares float64   `json:"shares"`
}

// ShareSeries is a per-symbol sequence of ShareRecord sorted by AsOf. An
// empty series means the upstream has no share data for the symbol.
type ShareSeries []ShareRecord

// PriceRow is one end-of-day price row for a symbol.
type PriceRow struct {
	Symbol        string
	Exchange      string
	Date          time.Time
	Open          float64
	High          float64
	Low           float64
	Close         float64
	AdjustedClose float64
	Volume        int64
	PrevClose     float64
	Change        float64
	ChangePct     float64
	Name          string
	Type          string
}

// MarketCapRow is a PriceRow joined with the shares outstanding as of its
// date. Both SharesOutstanding and MarketCap are invalid when no share record
// applies; they are never defaulted to zero.
type MarketCapRow struct {
	PriceRow
	SharesOutstanding decimal.NullDecimal
	MarketCap         decimal.NullDecimal
}

// Quote is a point-in-time market snapshot for a symbol.
type Quote struct {
	Symbol    string
	Timestamp time.Time
	Last      float64
	Bid       float64
	Ask       float64
	BidSize   int64
	AskSize   int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	PrevClose float64
}

// Fundamental is the subset of company fundamentals persisted per day.
type Fundamental struct {
	Symbol               string
	Name                 string
	Exchange             string
	Sector               string
	Industry             string
	MarketCapitalization float64
	SharesOutstanding    float64
	SharesFloat          float64
	PERatio              float64
	EarningsShare        float64
	DividendYield        float64
}
