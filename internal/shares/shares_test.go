package shares

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stockuniverse/internal/domain"
	"stockuniverse/internal/gather"
	"stockuniverse/internal/util"
)

var quietLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// memKV is an in-memory store.KV that counts writes.
type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
	puts int
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.puts++
	return nil
}

// fakeSource returns a fixed answer per call and counts calls.
type fakeSource struct {
	calls  atomic.Int64
	delay  time.Duration
	series domain.ShareSeries
	errs   []error // returned in order, then series
}

func (f *fakeSource) QuarterlyShares(ctx context.Context, _ string) (domain.ShareSeries, error) {
	n := int(f.calls.Add(1))
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if n <= len(f.errs) {
		return nil, f.errs[n-1]
	}
	return f.series, nil
}

func newTestCache(t *testing.T, kv *memKV, src Source) *Cache {
	t.Helper()
	f, err := gather.NewFetcher(4, nil, nil, quietLog)
	if err != nil {
		t.Fatal(err)
	}
	policy := util.FixedPolicy(2, time.Millisecond, gather.IsTransient)
	return NewCache(kv, src, f, policy, nil, quietLog)
}

var twoQuarters = domain.ShareSeries{
	{AsOf: day("2021-04-01"), Shares: 110},
	{AsOf: day("2021-01-01"), Shares: 100},
}

func TestCacheKey(t *testing.T) {
	if got, want := CacheKey("brk-b"), "fundamentals/outstanding-shares/BRK.B.json"; got != want {
		t.Errorf("CacheKey = %q, want %q", got, want)
	}
}

func TestCacheResolveFetchesOnce(t *testing.T) {
	kv := newMemKV()
	src := &fakeSource{series: twoQuarters}
	c := newTestCache(t, kv, src)
	ctx := context.Background()

	first, err := c.Resolve(ctx, "AAPL")
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	second, err := c.Resolve(ctx, "aapl")
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}

	if n := src.calls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("series lengths = %d, %d; want 2, 2", len(first), len(second))
	}
	// Persisted sorted by date.
	if !second[0].AsOf.Equal(day("2021-01-01")) || second[1].Shares != 110 {
		t.Errorf("cached series = %+v, want sorted by date", second)
	}
}

func TestCachePersistsEmptyOnNoData(t *testing.T) {
	kv := newMemKV()
	src := &fakeSource{errs: []error{gather.ErrNoData}}
	c := newTestCache(t, kv, src)
	ctx := context.Background()

	series, err := c.Resolve(ctx, "DELISTED")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(series) != 0 {
		t.Errorf("series = %v, want empty", series)
	}
	if got := string(kv.data[CacheKey("DELISTED")]); got != "[]" {
		t.Errorf("persisted %q, want []", got)
	}

	// The empty entry is a hit: no second upstream call.
	if _, err := c.Resolve(ctx, "DELISTED"); err != nil {
		t.Fatal(err)
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

func TestCacheDoesNotPersistFailure(t *testing.T) {
	kv := newMemKV()
	src := &fakeSource{errs: []error{
		&gather.StatusError{StatusCode: http.StatusServiceUnavailable},
		&gather.StatusError{StatusCode: http.StatusServiceUnavailable},
	}}
	c := newTestCache(t, kv, src)

	_, err := c.Resolve(context.Background(), "MSFT")
	var fe *gather.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Resolve error = %v, want *FetchError", err)
	}
	if fe.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", fe.Attempts)
	}
	if kv.puts != 0 {
		t.Errorf("cache writes = %d, want 0", kv.puts)
	}

	// A later resolution retries upstream and now succeeds.
	src.series = twoQuarters
	if _, err := c.Resolve(context.Background(), "MSFT"); err != nil {
		t.Fatalf("retry Resolve: %v", err)
	}
	if kv.puts != 1 {
		t.Errorf("cache writes = %d, want 1", kv.puts)
	}
}

func TestCacheBadRequestNotRetried(t *testing.T) {
	kv := newMemKV()
	src := &fakeSource{errs: []error{&gather.StatusError{StatusCode: http.StatusBadRequest}}}
	c := newTestCache(t, kv, src)

	if _, err := c.Resolve(context.Background(), "BAD"); err == nil {
		t.Fatal("Resolve should fail on 400")
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

func TestMemoCoalescesConcurrentCallers(t *testing.T) {
	kv := newMemKV()
	src := &fakeSource{series: twoQuarters, delay: 20 * time.Millisecond}
	m := NewMemo(newTestCache(t, kv, src))

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			series, err := m.Resolve(context.Background(), "AAPL")
			if err == nil && len(series) != 2 {
				err = errors.New("wrong series length")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
	if kv.puts != 1 {
		t.Errorf("cache writes = %d, want 1", kv.puts)
	}
}

func TestMemoKeepsFailureForRun(t *testing.T) {
	kv := newMemKV()
	src := &fakeSource{errs: []error{&gather.StatusError{StatusCode: http.StatusForbidden}}, series: twoQuarters}
	m := NewMemo(newTestCache(t, kv, src))

	for i := 0; i < 3; i++ {
		if _, err := m.Resolve(context.Background(), "TSLA"); err == nil {
			t.Fatalf("call %d: expected memoized failure", i)
		}
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestResolveAsOf(t *testing.T) {
	records := domain.ShareSeries{
		{AsOf: day("2021-01-01"), Shares: 100},
		{AsOf: day("2021-04-01"), Shares: 110},
	}

	tests := []struct {
		name   string
		series domain.ShareSeries
		day    string
		want   float64
		ok     bool
	}{
		{"between records", records, "2021-02-15", 100, true},
		{"before all records falls back to earliest", records, "2020-12-01", 100, true},
		{"on record date", records, "2021-04-01", 110, true},
		{"after all records", records, "2022-01-03", 110, true},
		{"unsorted input", domain.ShareSeries{records[1], records[0]}, "2021-02-15", 100, true},
		{"empty", domain.ShareSeries{}, "2021-02-15", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveAsOf(tt.series, day(tt.day))
			if got != tt.want || ok != tt.ok {
				t.Errorf("ResolveAsOf = %v, %v; want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestMarketCap(t *testing.T) {
	row := domain.PriceRow{Symbol: "AAA", Date: day("2021-02-15"), AdjustedClose: 12.5}

	got := MarketCap(row, twoQuarters)
	if !got.MarketCap.Valid || got.MarketCap.Decimal.String() != "1250" {
		t.Errorf("MarketCap = %v, want 1250", got.MarketCap)
	}
	if !got.SharesOutstanding.Valid || got.SharesOutstanding.Decimal.String() != "100" {
		t.Errorf("SharesOutstanding = %v, want 100", got.SharesOutstanding)
	}

	none := MarketCap(row, nil)
	if none.MarketCap.Valid || none.SharesOutstanding.Valid {
		t.Errorf("unavailable shares produced %v / %v, want null", none.SharesOutstanding, none.MarketCap)
	}
}

func TestJoinerMarketCaps(t *testing.T) {
	kv := newMemKV()
	src := &fakeSource{series: twoQuarters}
	j := NewJoiner(NewMemo(newTestCache(t, kv, src)), 8, quietLog)

	rows := make([]domain.PriceRow, 0, 30)
	for i := 0; i < 30; i++ {
		rows = append(rows, domain.PriceRow{Symbol: "AAA", Date: day("2021-05-03"), AdjustedClose: float64(i)})
	}

	out, err := j.MarketCaps(context.Background(), rows)
	if err != nil {
		t.Fatalf("MarketCaps: %v", err)
	}
	if len(out) != 30 {
		t.Fatalf("got %d rows, want 30", len(out))
	}
	if src.calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", src.calls.Load())
	}
	if out[3].MarketCap.Decimal.String() != "330" {
		t.Errorf("row 3 market cap = %v, want 330", out[3].MarketCap)
	}
}

// failResolver fails for one symbol.
type failResolver struct{ bad string }

func (f failResolver) Resolve(_ context.Context, symbol string) (domain.ShareSeries, error) {
	if symbol == f.bad {
		return nil, &gather.FetchError{Op: "shares", Attempts: 2, Err: errors.New("boom")}
	}
	return twoQuarters, nil
}

func TestJoinerFailsWholeTable(t *testing.T) {
	j := NewJoiner(failResolver{bad: "BAD"}, 4, quietLog)
	rows := []domain.PriceRow{{Symbol: "AAA"}, {Symbol: "BAD"}, {Symbol: "CCC"}}

	out, err := j.MarketCaps(context.Background(), rows)
	if out != nil {
		t.Errorf("got %d rows, want nil on failure", len(out))
	}
	var fe *gather.FetchError
	if !errors.As(err, &fe) {
		t.Errorf("error = %v, want *FetchError", err)
	}
}
