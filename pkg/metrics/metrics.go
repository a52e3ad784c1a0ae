// Package metrics provides Prometheus-based observability for tap-adp
// extraction runs: records emitted, pages fetched, HTTP retries, token
// refreshes, and per-stream failures.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsEmitted tracks the total number of records emitted to the output
	// sink. Labels: stream, status (emitted/dropped/invalid)
	RecordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_adp_records_emitted_total",
			Help: "Total number of records emitted per stream",
		},
		[]string{"stream", "status"},
	)

	// PagesFetched tracks pages retrieved from the upstream API per stream
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_adp_pages_fetched_total",
			Help: "Total number of API pages fetched per stream",
		},
		[]string{"stream"},
	)

	// HTTPRetries tracks retried requests by reason (rate_limit, server_error,
	// connection)
	HTTPRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_adp_http_retries_total",
			Help: "Total number of retried HTTP requests",
		},
		[]string{"reason"},
	)

	// TokenRefreshes tracks OAuth token acquisitions, including the initial one
	TokenRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tap_adp_token_refreshes_total",
			Help: "Total number of OAuth token acquisitions",
		},
	)

	// StreamFailures tracks streams that ended in error, by error type
	StreamFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tap_adp_stream_failures_total",
			Help: "Total number of per-stream failures",
		},
		[]string{"stream", "error_type"},
	)

	// Checkpoints tracks state messages flushed to the output
	Checkpoints = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tap_adp_checkpoints_total",
			Help: "Total number of state checkpoints emitted",
		},
	)

	// SyncDuration tracks wall-clock duration per stream sync
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tap_adp_stream_sync_duration_seconds",
			Help:    "Per-stream sync duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		},
		[]string{"stream"},
	)
)

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveStream stops the timer and records the duration for a stream sync
func (t *Timer) ObserveStream(stream string) time.Duration {
	d := time.Since(t.start)
	SyncDuration.WithLabelValues(stream).Observe(d.Seconds())
	return d
}
