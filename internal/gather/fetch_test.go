package gather

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"stockuniverse/internal/domain"
	"stockuniverse/internal/metrics"
	"stockuniverse/internal/util"
)

var quietLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestFetcher(t *testing.T, maxConcurrency int, rec *metrics.Recorder) *Fetcher {
	t.Helper()
	f, err := NewFetcher(maxConcurrency, nil, rec, quietLog)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	return f
}

// get issues one GET and maps non-2xx responses to *StatusError, the way the
// upstream clients do.
func get(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return nil
}

func echoBatch(_ context.Context, batch domain.Batch) (map[string]int, error) {
	out := make(map[string]int, len(batch))
	for i, s := range batch {
		out[s] = i
	}
	return out, nil
}

func TestNewFetcherInvalid(t *testing.T) {
	if _, err := NewFetcher(0, nil, nil, nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("NewFetcher(0) error = %v, want ErrInvalidInput", err)
	}
}

func TestFetchAllRespectsCeiling(t *testing.T) {
	f := newTestFetcher(t, 5, nil)
	batches, err := Chunk(makeSymbols(200), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 20 {
		t.Fatalf("got %d batches, want 20", len(batches))
	}

	var inflight, peak atomic.Int64
	fn := func(ctx context.Context, batch domain.Batch) (map[string]int, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inflight.Add(-1)
		return echoBatch(ctx, batch)
	}

	got, err := FetchAll(context.Background(), f, "test", testPolicy(1), batches, fn)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if p := peak.Load(); p > 5 {
		t.Errorf("peak in-flight = %d, want <= 5", p)
	}
	if len(got) != 200 {
		t.Errorf("merged %d symbols, want 200", len(got))
	}
}

func TestFetchAllFailsWholeRun(t *testing.T) {
	f := newTestFetcher(t, 5, nil)
	batches, err := Chunk(makeSymbols(200), 10)
	if err != nil {
		t.Fatal(err)
	}
	bad := batches[7][0]

	var calls atomic.Int64
	fn := func(ctx context.Context, batch domain.Batch) (map[string]int, error) {
		calls.Add(1)
		if batch[0] == bad {
			return nil, &StatusError{StatusCode: http.StatusBadRequest}
		}
		return echoBatch(ctx, batch)
	}

	got, err := FetchAll(context.Background(), f, "test", testPolicy(3), batches, fn)
	if got != nil {
		t.Errorf("FetchAll returned %d partial results, want nil", len(got))
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("FetchAll error = %v, want *FetchError", err)
	}
	if fe.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 for a 400", fe.Attempts)
	}
	if c := calls.Load(); c > 20 {
		t.Errorf("batch function called %d times, want <= 20", c)
	}
}

func TestFetchRetriesServiceUnavailable(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rec := metrics.New()
	f := newTestFetcher(t, 2, rec)

	var retries []int
	policy := testPolicy(3)
	policy.OnRetry = func(attempt int, _ time.Duration, _ error) {
		retries = append(retries, attempt)
	}

	err := f.Do(context.Background(), "quotes", policy, func(ctx context.Context) error {
		return get(ctx, srv.URL)
	})

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Do error = %v, want *FetchError", err)
	}
	if fe.Attempts != 3 || hits.Load() != 3 {
		t.Errorf("attempts = %d, server hits = %d, want 3 and 3", fe.Attempts, hits.Load())
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("cause = %v, want 503 StatusError", err)
	}
	if len(retries) != 2 {
		t.Errorf("OnRetry called %d times, want 2", len(retries))
	}
	if got := testutil.ToFloat64(rec.FetchAttempts.WithLabelValues("quotes")); got != 3 {
		t.Errorf("attempts metric = %v, want 3", got)
	}
	if got := testutil.ToFloat64(rec.FetchFailures.WithLabelValues("quotes")); got != 1 {
		t.Errorf("failures metric = %v, want 1", got)
	}
}

func TestFetchDoesNotRetryBadRequest(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad symbol list", http.StatusBadRequest)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 2, nil)
	err := f.Do(context.Background(), "quotes", testPolicy(5), func(ctx context.Context) error {
		return get(ctx, srv.URL)
	})

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Do error = %v, want *FetchError", err)
	}
	if fe.Attempts != 1 || hits.Load() != 1 {
		t.Errorf("attempts = %d, server hits = %d, want 1 and 1", fe.Attempts, hits.Load())
	}
}

func TestFetchAbsorbsTransientFailure(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 1, nil)
	err := f.Do(context.Background(), "prices", testPolicy(5), func(ctx context.Context) error {
		return get(ctx, srv.URL)
	})
	if err != nil {
		t.Fatalf("Do returned %v, want transient errors absorbed", err)
	}
	if hits.Load() != 3 {
		t.Errorf("server hits = %d, want 3", hits.Load())
	}
}

func TestFetchContextCancelledBeforeAdmission(t *testing.T) {
	f := newTestFetcher(t, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := f.Do(ctx, "prices", testPolicy(1), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("fn ran after cancellation")
	}
}

func TestAggregate(t *testing.T) {
	got := Aggregate([]map[string]string{
		{"AAPL": "a", "MSFT": "m"},
		{},
		{"IBM": "i"},
	})
	want := map[string]string{"AAPL": "a", "MSFT": "m", "IBM": "i"}
	if len(got) != len(want) {
		t.Fatalf("Aggregate = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Aggregate[%s] = %q, want %q", k, got[k], v)
		}
	}
}

// testPolicy retries transient errors with a millisecond wait.
func testPolicy(attempts int) util.RetryPolicy {
	return util.FixedPolicy(attempts, time.Millisecond, IsTransient)
}
