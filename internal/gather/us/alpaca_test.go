package us

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"stockuniverse/internal/domain"
)

type fakeSnapshots struct {
	gotSymbols []string
	gotFeed    marketdata.Feed
	snaps      map[string]*marketdata.Snapshot
	err        error
}

func (f *fakeSnapshots) GetSnapshots(symbols []string, req marketdata.GetSnapshotRequest) (map[string]*marketdata.Snapshot, error) {
	f.gotSymbols = symbols
	f.gotFeed = req.Feed
	return f.snaps, f.err
}

func TestQuoteClientSnapshots(t *testing.T) {
	ts := time.Date(2024, 6, 14, 19, 59, 0, 0, time.UTC)
	fake := &fakeSnapshots{snaps: map[string]*marketdata.Snapshot{
		"AAPL": {
			LatestTrade:  &marketdata.Trade{Timestamp: ts, Price: 212.49},
			LatestQuote:  &marketdata.Quote{BidPrice: 212.45, AskPrice: 212.50, BidSize: 3, AskSize: 4},
			DailyBar:     &marketdata.Bar{Open: 213.85, High: 215.17, Low: 211.30, Close: 212.49, Volume: 70122748},
			PrevDailyBar: &marketdata.Bar{Close: 214.24},
		},
		"msft": {
			LatestQuote: &marketdata.Quote{Timestamp: ts, BidPrice: 442.5, AskPrice: 442.6},
		},
		"GONE": nil,
	}}
	q := &QuoteClient{client: fake, feed: "iex"}

	got, err := q.Snapshots(context.Background(), domain.Batch{"AAPL", "MSFT", "GONE"})
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(fake.gotSymbols) != 3 || fake.gotFeed != "iex" {
		t.Errorf("request = %v feed %q, want 3 symbols on iex", fake.gotSymbols, fake.gotFeed)
	}
	if len(got) != 2 {
		t.Fatalf("got %d quotes, want 2: %v", len(got), got)
	}

	aapl := got["AAPL"]
	if aapl.Last != 212.49 || aapl.Bid != 212.45 || aapl.AskSize != 4 {
		t.Errorf("AAPL trade/quote fields = %+v", aapl)
	}
	if aapl.Volume != 70122748 || aapl.PrevClose != 214.24 || !aapl.Timestamp.Equal(ts) {
		t.Errorf("AAPL bar fields = %+v", aapl)
	}

	msft, ok := got["MSFT"]
	if !ok {
		t.Fatal("lower-case symbol was not normalized")
	}
	if !msft.Timestamp.Equal(ts) {
		t.Errorf("MSFT timestamp = %v, want quote timestamp %v", msft.Timestamp, ts)
	}
}

func TestQuoteClientSnapshotsError(t *testing.T) {
	fake := &fakeSnapshots{err: errors.New("boom")}
	q := &QuoteClient{client: fake}
	if _, err := q.Snapshots(context.Background(), domain.Batch{"AAPL"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestQuoteClientSnapshotsCancelled(t *testing.T) {
	fake := &fakeSnapshots{}
	q := &QuoteClient{client: fake}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Snapshots(ctx, domain.Batch{"AAPL"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if fake.gotSymbols != nil {
		t.Error("cancelled call reached the API")
	}
}
