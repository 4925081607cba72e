package us

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"stockuniverse/internal/domain"
	"stockuniverse/internal/gather"
)

// EODClient provides access to the EOD Historical Data REST API. Every call
// is a single attempt; retry policies belong to the caller.
type EODClient struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	log        *slog.Logger
}

// EODOption configures an EODClient.
type EODOption func(*EODClient)

// NewEODClient creates a client for baseURL authenticated with apiToken.
func NewEODClient(baseURL, apiToken string, opts ...EODOption) *EODClient {
	c := &EODClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) EODOption {
	return func(c *EODClient) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) EODOption {
	return func(c *EODClient) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) EODOption {
	return func(c *EODClient) {
		c.log = log
	}
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// flexFloat decodes JSON numbers, numeric strings, "NA" and null. Anything
// that is not a number decodes as zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" || strings.EqualFold(s, "NA") {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

type eodPrice struct {
	Code          string    `json:"code"`
	Exchange      string    `json:"exchange_short_name"`
	Date          string    `json:"date"`
	Open          flexFloat `json:"open"`
	High          flexFloat `json:"high"`
	Low           flexFloat `json:"low"`
	Close         flexFloat `json:"close"`
	AdjustedClose flexFloat `json:"adjusted_close"`
	Volume        flexFloat `json:"volume"`
	PrevClose     flexFloat `json:"prev_close"`
	Change        flexFloat `json:"change"`
	ChangePct     flexFloat `json:"change_p"`
	Name          string    `json:"name"`
	Type          string    `json:"type"`
}

type eodFundamentals struct {
	General struct {
		Code     string `json:"Code"`
		Name     string `json:"Name"`
		Exchange string `json:"Exchange"`
		Sector   string `json:"Sector"`
		Industry string `json:"Industry"`
	} `json:"General"`
	Highlights struct {
		MarketCapitalization flexFloat `json:"MarketCapitalization"`
		PERatio              flexFloat `json:"PERatio"`
		EarningsShare        flexFloat `json:"EarningsShare"`
		DividendYield        flexFloat `json:"DividendYield"`
	} `json:"Highlights"`
	SharesStats struct {
		SharesOutstanding flexFloat `json:"SharesOutstanding"`
		SharesFloat       flexFloat `json:"SharesFloat"`
	} `json:"SharesStats"`
}

type eodShares struct {
	Date          string    `json:"date"`
	DateFormatted string    `json:"dateFormatted"`
	Shares        flexFloat `json:"shares"`
}

// ---------------------------------------------------------------------------
// Endpoints
// ---------------------------------------------------------------------------

// BulkPrices returns the extended end-of-day rows of exchange on date for
// symbols, keyed by normalized symbol. An empty symbols list requests the
// whole exchange.
func (c *EODClient) BulkPrices(ctx context.Context, exchange domain.Exchange, date time.Time, symbols []string) (map[string]domain.PriceRow, error) {
	q := url.Values{}
	q.Set("fmt", "json")
	q.Set("filter", "extended")
	q.Set("date", date.Format("2006-01-02"))
	if len(symbols) > 0 {
		q.Set("symbols", joinEODSymbols(symbols, ""))
	}

	body, err := c.get(ctx, "/eod-bulk-last-day/"+strings.ToUpper(string(exchange)), q)
	if err != nil {
		return nil, err
	}

	var raw []eodPrice
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: eod-bulk-last-day: %v", gather.ErrMalformed, err)
	}

	out := make(map[string]domain.PriceRow, len(raw))
	for _, p := range raw {
		d, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			d = date
		}
		sym := domain.NormalizeSymbol(p.Code)
		out[sym] = domain.PriceRow{
			Symbol:        sym,
			Exchange:      p.Exchange,
			Date:          d,
			Open:          float64(p.Open),
			High:          float64(p.High),
			Low:           float64(p.Low),
			Close:         float64(p.Close),
			AdjustedClose: float64(p.AdjustedClose),
			Volume:        int64(p.Volume),
			PrevClose:     float64(p.PrevClose),
			Change:        float64(p.Change),
			ChangePct:     float64(p.ChangePct),
			Name:          p.Name,
			Type:          p.Type,
		}
	}
	return out, nil
}

// BulkFundamentals returns the fundamentals of symbols listed on exchange,
// keyed by normalized symbol.
func (c *EODClient) BulkFundamentals(ctx context.Context, exchange domain.Exchange, symbols []string) (map[string]domain.Fundamental, error) {
	q := url.Values{}
	q.Set("fmt", "json")
	q.Set("symbols", joinEODSymbols(symbols, ".US"))

	body, err := c.get(ctx, "/bulk-fundamentals/"+strings.ToUpper(string(exchange)), q)
	if err != nil {
		return nil, err
	}

	// The endpoint answers with an object keyed by row index, or with an
	// array for some exchanges.
	var entries []eodFundamentals
	if err := json.Unmarshal(body, &entries); err != nil {
		var keyed map[string]eodFundamentals
		if err := json.Unmarshal(body, &keyed); err != nil {
			return nil, fmt.Errorf("%w: bulk-fundamentals: %v", gather.ErrMalformed, err)
		}
		for _, e := range keyed {
			entries = append(entries, e)
		}
	}

	out := make(map[string]domain.Fundamental, len(entries))
	for _, e := range entries {
		if e.General.Code == "" {
			continue
		}
		sym := domain.NormalizeSymbol(e.General.Code)
		out[sym] = domain.Fundamental{
			Symbol:               sym,
			Name:                 e.General.Name,
			Exchange:             e.General.Exchange,
			Sector:               e.General.Sector,
			Industry:             e.General.Industry,
			MarketCapitalization: float64(e.Highlights.MarketCapitalization),
			SharesOutstanding:    float64(e.SharesStats.SharesOutstanding),
			SharesFloat:          float64(e.SharesStats.SharesFloat),
			PERatio:              float64(e.Highlights.PERatio),
			EarningsShare:        float64(e.Highlights.EarningsShare),
			DividendYield:        float64(e.Highlights.DividendYield),
		}
	}
	return out, nil
}

// QuarterlyShares returns the quarterly outstanding-share series of a US
// symbol sorted by date. A 404 or one of the upstream's empty bodies yields
// gather.ErrNoData.
func (c *EODClient) QuarterlyShares(ctx context.Context, symbol string) (domain.ShareSeries, error) {
	q := url.Values{}
	q.Set("filter", "outstandingShares::quarterly")

	body, err := c.get(ctx, "/fundamentals/"+url.PathEscape(eodSymbol(symbol))+".US", q)
	if err != nil {
		var se *gather.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", symbol, gather.ErrNoData)
		}
		return nil, err
	}
	if isNoDataBody(body) {
		return nil, fmt.Errorf("%s: %w", symbol, gather.ErrNoData)
	}

	var entries []eodShares
	if err := json.Unmarshal(body, &entries); err != nil {
		var keyed map[string]eodShares
		if err := json.Unmarshal(body, &keyed); err != nil {
			return nil, fmt.Errorf("%w: outstanding shares for %s: %v", gather.ErrMalformed, symbol, err)
		}
		for _, e := range keyed {
			entries = append(entries, e)
		}
	}

	series := make(domain.ShareSeries, 0, len(entries))
	for _, e := range entries {
		d, ok := parseShareDate(e)
		if !ok {
			c.log.Warn("skipping share record with bad date", "symbol", symbol, "date", e.Date)
			continue
		}
		series = append(series, domain.ShareRecord{AsOf: d, Shares: float64(e.Shares)})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].AsOf.Before(series[j].AsOf) })
	return series, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (c *EODClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	query.Set("api_token", c.apiToken)
	return httpGet(ctx, c.httpClient, c.baseURL+path+"?"+query.Encode())
}

// httpGet performs one GET and maps non-2xx responses to *gather.StatusError.
func httpGet(ctx context.Context, hc *http.Client, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &gather.StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}

var noDataBodies = map[string]bool{
	"":       true,
	"{}":     true,
	"[]":     true,
	"NA":     true,
	`"NA"`:   true,
	"null":   true,
	`"null"`: true,
}

func isNoDataBody(body []byte) bool {
	return noDataBodies[string(bytes.TrimSpace(body))]
}

func parseShareDate(e eodShares) (time.Time, bool) {
	for _, s := range []string{e.DateFormatted, e.Date} {
		if t, err := time.Parse("2006-01-02", s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// eodSymbol converts a normalized symbol to the upstream form, which uses a
// dash for share classes (BRK.B -> BRK-B).
func eodSymbol(symbol string) string {
	return strings.ReplaceAll(domain.NormalizeSymbol(symbol), ".", "-")
}

func joinEODSymbols(symbols []string, suffix string) string {
	parts := make([]string, len(symbols))
	for i, s := range symbols {
		parts[i] = eodSymbol(s) + suffix
	}
	return strings.Join(parts, ",")
}
