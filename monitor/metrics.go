package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the change monitor.
type Metrics struct {
	Registry      *prometheus.Registry
	TicksTotal    prometheus.Counter
	ChecksTotal   *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	ChangesTotal  prometheus.Counter
	ErrorsTotal   *prometheus.CounterVec
	TrackedItems  prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	ticks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_ticks_total",
			Help: "Total monitoring passes started.",
		},
	)
	checks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_checks_total",
			Help: "Item checks by outcome.",
		},
		[]string{"outcome"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricewatch_fetch_duration_seconds",
			Help:    "HTTP latency of item page fetches.",
			Buckets: prometheus.DefBuckets,
		},
	)
	changes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricewatch_changes_total",
			Help: "Total text changes detected.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricewatch_fetch_errors_total",
			Help: "Skipped fetches by error type.",
		},
		[]string{"error_type"},
	)
	tracked := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricewatch_tracked_items",
			Help: "Items checked by the most recent pass.",
		},
	)

	registry.MustRegister(ticks, checks, fetchDuration, changes, errorsTotal, tracked)

	return &Metrics{
		Registry:      registry,
		TicksTotal:    ticks,
		ChecksTotal:   checks,
		FetchDuration: fetchDuration,
		ChangesTotal:  changes,
		ErrorsTotal:   errorsTotal,
		TrackedItems:  tracked,
	}
}

// IncTick counts a monitoring pass.
func (m *Metrics) IncTick() {
	if m == nil {
		return
	}
	m.TicksTotal.Inc()
}

// IncCheck counts an item check outcome.
func (m *Metrics) IncCheck(outcome string) {
	if m == nil {
		return
	}
	m.ChecksTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records a fetch duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// IncChanges counts a detected change.
func (m *Metrics) IncChanges() {
	if m == nil {
		return
	}
	m.ChangesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// SetTracked records how many items a pass covered.
func (m *Metrics) SetTracked(n int) {
	if m == nil {
		return
	}
	m.TrackedItems.Set(float64(n))
}
