package us

import (
	"context"
	"fmt"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"stockuniverse/internal/domain"
)

// snapshotAPI is the part of *marketdata.Client used by QuoteClient.
type snapshotAPI interface {
	GetSnapshots(symbols []string, req marketdata.GetSnapshotRequest) (map[string]*marketdata.Snapshot, error)
}

// QuoteClient fetches batch quote snapshots from the Alpaca market-data API.
type QuoteClient struct {
	client snapshotAPI
	feed   string
}

// NewQuoteClient creates a QuoteClient with the given Alpaca credentials.
// An empty dataURL uses the SDK default.
func NewQuoteClient(apiKey, apiSecret, dataURL, feed string) *QuoteClient {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &QuoteClient{client: marketdata.NewClient(opts), feed: feed}
}

// Snapshots returns one quote per symbol of batch in a single API call.
// Symbols unknown to the feed are absent from the result.
func (q *QuoteClient) Snapshots(ctx context.Context, batch domain.Batch) (map[string]domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snaps, err := q.client.GetSnapshots(batch, marketdata.GetSnapshotRequest{
		Feed: marketdata.Feed(q.feed),
	})
	if err != nil {
		return nil, fmt.Errorf("GetSnapshots: %w", err)
	}

	out := make(map[string]domain.Quote, len(snaps))
	for symbol, s := range snaps {
		if s == nil {
			continue
		}
		sym := strings.ToUpper(symbol)
		quote := domain.Quote{Symbol: sym}
		if t := s.LatestTrade; t != nil {
			quote.Timestamp = t.Timestamp
			quote.Last = t.Price
		}
		if lq := s.LatestQuote; lq != nil {
			quote.Bid = lq.BidPrice
			quote.Ask = lq.AskPrice
			quote.BidSize = int64(lq.BidSize)
			quote.AskSize = int64(lq.AskSize)
			if quote.Timestamp.IsZero() {
				quote.Timestamp = lq.Timestamp
			}
		}
		if b := s.DailyBar; b != nil {
			quote.Open = b.Open
			quote.High = b.High
			quote.Low = b.Low
			quote.Close = b.Close
			quote.Volume = int64(b.Volume)
		}
		if b := s.PrevDailyBar; b != nil {
			quote.PrevClose = b.Close
		}
		out[sym] = quote
	}
	return out, nil
}
