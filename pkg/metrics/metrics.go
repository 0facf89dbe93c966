// Package metrics provides observability for the OpsMind connector
// framework using Prometheus metrics.
//
// The package exposes pre-registered collectors for the indicators the
// framework cares about: records fetched per connector, fetch cycle
// latency, buffer occupancy, connector state, degraded sub-fetches and
// query activity.
//
// Basic usage:
//
//	metrics.RecordsFetched.WithLabelValues("jira-prod", "issue").Add(12)
//
//	timer := metrics.NewTimer()
//	runCycle()
//	metrics.FetchCycleLatency.WithLabelValues("jira-prod").Observe(timer.Stop().Seconds())
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsFetched counts records delivered by connectors after filtering.
	// Labels: connector (instance name), type (record type).
	RecordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsmind_records_fetched_total",
			Help: "Total number of records delivered by connectors",
		},
		[]string{"connector", "type"},
	)

	// FetchCycleLatency tracks the duration of complete fetch cycles.
	FetchCycleLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsmind_fetch_cycle_duration_seconds",
			Help:    "Duration of connector fetch cycles",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"connector"},
	)

	// FetchErrors counts failed fetch cycles per connector.
	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsmind_fetch_errors_total",
			Help: "Total number of failed fetch cycles",
		},
		[]string{"connector"},
	)

	// PartialFetchFailures counts sub-fetches that degraded to an empty
	// result within an otherwise successful cycle. A steadily increasing
	// value indicates silent data gaps.
	PartialFetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsmind_partial_fetch_failures_total",
			Help: "Sub-fetches that returned no data due to an upstream error",
		},
		[]string{"connector", "operation"},
	)

	// BufferDepth tracks the occupancy of the bounded record buffers.
	// Labels: buffer (records|context).
	BufferDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "opsmind_buffer_depth",
			Help: "Current number of items held in a bounded buffer",
		},
		[]string{"buffer"},
	)

	// ConnectorUp reports 1 while a connector is in the running state.
	ConnectorUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "opsmind_connector_up",
			Help: "Whether the connector polling loop is running",
		},
		[]string{"connector"},
	)

	// QueriesTotal counts context queries served by the data manager.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsmind_queries_total",
			Help: "Total number of context queries served",
		},
		[]string{"status"},
	)

	// QueryLatency tracks context query latency.
	QueryLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "opsmind_query_duration_seconds",
			Help:    "Latency of context queries",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. The timer can be
// stopped multiple times, each returning the total elapsed time.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
