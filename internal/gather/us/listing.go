package us

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stockuniverse/internal/domain"
	"stockuniverse/internal/gather"
)

// Symbol directory files published by Nasdaq Trader.
const (
	ListingNasdaq = "nasdaqlisted"
	ListingOther  = "otherlisted"
)

// Listings is every listing file the pipeline consumes.
var Listings = []string{ListingNasdaq, ListingOther}

// ExchangeForListing maps a listing file name to the exchange its artifacts
// are written under.
func ExchangeForListing(listing string) (domain.Exchange, error) {
	switch listing {
	case ListingNasdaq:
		return domain.ExchangeNasdaq, nil
	case ListingOther:
		return domain.ExchangeNYSE, nil
	default:
		return "", fmt.Errorf("%w: unknown listing %q", gather.ErrInvalidInput, listing)
	}
}

// ParseListing reads a pipe-delimited symbol directory file and returns the
// tradable symbols in file order, normalized and de-duplicated. Test issues
// and ETFs are dropped; for the otherlisted file only NYSE rows are kept. The
// trailing "File Creation Time" row is ignored.
func ParseListing(r io.Reader, listing string) ([]string, error) {
	if _, err := ExchangeForListing(listing); err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	cr.Comma = '|'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading %s header: %w", listing, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}

	symbolCol := "Symbol"
	if listing == ListingOther {
		symbolCol = "ACT Symbol"
	}
	required := []string{symbolCol, "Test Issue", "ETF"}
	if listing == ListingOther {
		required = append(required, "Exchange")
	}
	for _, name := range required {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("%w: %s has no %q column", gather.ErrMalformed, listing, name)
		}
	}

	field := func(rec []string, name string) string {
		i := col[name]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var (
		symbols []string
		seen    = make(map[string]struct{})
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", listing, err)
		}

		raw := field(rec, symbolCol)
		if raw == "" || strings.HasPrefix(raw, "File Creation Time") {
			continue
		}
		if field(rec, "Test Issue") != "N" || field(rec, "ETF") != "N" {
			continue
		}
		if listing == ListingOther && field(rec, "Exchange") != "N" {
			continue
		}

		sym := domain.NormalizeSymbol(raw)
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}
	return symbols, nil
}

// ListingClient downloads symbol directory files.
type ListingClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewListingClient creates a ListingClient for baseURL.
func NewListingClient(baseURL string, timeout time.Duration) *ListingClient {
	return &ListingClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Download fetches <baseURL>/<listing>.txt.
func (c *ListingClient) Download(ctx context.Context, listing string) ([]byte, error) {
	if _, err := ExchangeForListing(listing); err != nil {
		return nil, err
	}
	return httpGet(ctx, c.httpClient, c.baseURL+"/"+listing+".txt")
}
