// Package metrics provides Prometheus metrics for table file production and
// access.
//
// # Basic Usage
//
//	// Count rows appended by the synchronous path
//	metrics.RowsWritten.WithLabelValues(metrics.PhaseSync).Add(float64(n))
//
//	// Time an operation
//	timer := metrics.NewTimer("get_range")
//	rows, err := reader.ReadRange(start, count)
//	timer.ObserveDuration()
//
// # Metric Types
//
// Counter: Monotonically increasing values (e.g., rows written, handoffs)
// Gauge: Values that can go up or down (e.g., in-flight background writers)
// Histogram: Distribution of values (e.g., operation latency)
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Phase labels for RowsWritten.
const (
	PhaseSync       = "sync"
	PhaseBackground = "background"
)

// Op labels for RowsRead.
const (
	OpRange = "range"
	OpCells = "cells"
	OpScan  = "scan"
)

var (
	// RowsWritten counts rows appended to table files.
	// Labels: phase (sync/background)
	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipactable_rows_written_total",
			Help: "Total number of rows appended to table files",
		},
		[]string{"phase"},
	)

	// RowsRead counts rows decoded from table files.
	// Labels: op (range/cells/scan)
	RowsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipactable_rows_read_total",
			Help: "Total number of rows decoded from table files",
		},
		[]string{"op"},
	)

	// Handoffs counts transfers of write ownership to a background worker.
	Handoffs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ipactable_handoffs_total",
			Help: "Total number of writer handoffs to background workers",
		},
	)

	// WorkerResults counts background worker outcomes by final status.
	WorkerResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipactable_worker_results_total",
			Help: "Background continuation outcomes by final table status",
		},
		[]string{"status"},
	)

	// DecodeErrors counts malformed rows that were skipped.
	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ipactable_decode_errors_total",
			Help: "Total number of malformed rows skipped while reading",
		},
	)

	// EncodeErrors counts rows rejected by the codec while writing.
	EncodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ipactable_encode_errors_total",
			Help: "Total number of rows rejected while writing",
		},
	)

	// InflightWriters tracks background workers currently appending.
	InflightWriters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ipactable_inflight_writers",
			Help: "Number of background workers currently appending rows",
		},
	)

	// OperationDuration tracks the latency of service operations in seconds.
	// Labels: op
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ipactable_operation_duration_seconds",
			Help:    "Latency of table service operations",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 9),
		},
		[]string{"op"},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name is used as the op label when the duration is observed.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop returns the elapsed duration since creation.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in OperationDuration and returns it.
func (t *Timer) ObserveDuration() time.Duration {
	d := t.Stop()
	OperationDuration.WithLabelValues(t.name).Observe(d.Seconds())
	return d
}

// Handler returns the HTTP handler serving the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
