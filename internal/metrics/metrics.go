// Package metrics holds the per-run Prometheus collectors of the pipeline.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "stock_universe"

// Recorder owns a private registry so that every run pushes only its own
// series.
type Recorder struct {
	registry *prometheus.Registry

	FetchAttempts *prometheus.CounterVec
	FetchFailures *prometheus.CounterVec
	FetchInflight prometheus.Gauge
	CacheLookups  *prometheus.CounterVec
	RowsWritten   *prometheus.CounterVec
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Upstream requests sent, retries included.",
		}, []string{"op"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Fetches that ended in a terminal failure.",
		}, []string{"op"}),
		FetchInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetch_inflight",
			Help:      "Requests currently holding a concurrency slot.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Outstanding-shares cache lookups by result.",
		}, []string{"result"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows written to daily artifacts.",
		}, []string{"dataset"}),
	}

	r.registry.MustRegister(
		r.FetchAttempts,
		r.FetchFailures,
		r.FetchInflight,
		r.CacheLookups,
		r.RowsWritten,
	)
	return r
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Attempt counts one request sent for op.
func (r *Recorder) Attempt(op string) {
	if r == nil {
		return
	}
	r.FetchAttempts.WithLabelValues(op).Inc()
}

// Failure counts one terminal failure for op.
func (r *Recorder) Failure(op string) {
	if r == nil {
		return
	}
	r.FetchFailures.WithLabelValues(op).Inc()
}

// Acquire and Release track concurrency slot usage.
func (r *Recorder) Acquire() {
	if r == nil {
		return
	}
	r.FetchInflight.Inc()
}

func (r *Recorder) Release() {
	if r == nil {
		return
	}
	r.FetchInflight.Dec()
}

// CacheHit and CacheMiss count share cache lookups.
func (r *Recorder) CacheHit() {
	if r == nil {
		return
	}
	r.CacheLookups.WithLabelValues("hit").Inc()
}

func (r *Recorder) CacheMiss() {
	if r == nil {
		return
	}
	r.CacheLookups.WithLabelValues("miss").Inc()
}

// Rows adds n written rows for dataset.
func (r *Recorder) Rows(dataset string, n int) {
	if r == nil {
		return
	}
	r.RowsWritten.WithLabelValues(dataset).Add(float64(n))
}

// Push sends the registry to a Prometheus pushgateway under job, grouped by
// run id. An empty url is a no-op.
func (r *Recorder) Push(ctx context.Context, url, job, runID string) error {
	if r == nil || url == "" {
		return nil
	}
	err := push.New(url, job).
		Gatherer(r.registry).
		Grouping("run", runID).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}
