// Package observability holds the Prometheus metrics for the service.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters and histograms for ingestion
// and querying.
type Metrics struct {
	RecordsIngested *prometheus.CounterVec // labels: source={ground,satellite}
	RecordsRejected *prometheus.CounterVec // labels: source, reason

	QueriesTotal  *prometheus.CounterVec // labels: outcome={ok,degraded,error}
	QueryDuration prometheus.Histogram
	CacheLookups  *prometheus.CounterVec // labels: result={hit,miss}
	AlertsEmitted *prometheus.CounterVec // labels: reason={observed,forecasted}
}

func newMetrics() *Metrics {
	return &Metrics{
		RecordsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airfuse",
			Name:      "records_ingested_total",
			Help:      "Raw records accepted by the normalizer, by source.",
		}, []string{"source"}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airfuse",
			Name:      "records_rejected_total",
			Help:      "Raw records rejected by the normalizer, by source and reason.",
		}, []string{"source", "reason"}),
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airfuse",
			Name:      "queries_total",
			Help:      "Facade queries by outcome.",
		}, []string{"outcome"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "airfuse",
			Name:      "query_duration_seconds",
			Help:      "Duration of a complete facade query.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airfuse",
			Name:      "cache_lookups_total",
			Help:      "Per-pollutant result cache lookups by result.",
		}, []string{"result"}),
		AlertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airfuse",
			Name:      "alerts_emitted_total",
			Help:      "Alert events emitted, by reason.",
		}, []string{"reason"}),
	}
}

// NewMetrics creates and registers all metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RecordsIngested,
		m.RecordsRejected,
		m.QueriesTotal,
		m.QueryDuration,
		m.CacheLookups,
		m.AlertsEmitted,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so
// parallel tests do not trip "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
