// Package observability provides Prometheus metrics for the history loader
// and the pipeline engine.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// History loader metrics
	HistoryCacheHits     prometheus.Counter
	HistoryCacheMisses   prometheus.Counter
	HistoryRebuilds      *prometheus.CounterVec
	HistoryCachedBlocks  prometheus.Gauge
	AdjustmentsScheduled *prometheus.CounterVec

	// Pipeline metrics
	PipelineRunsTotal *prometheus.CounterVec
	PipelineDuration  prometheus.Histogram
	TermsComputed     *prometheus.CounterVec
	RowsLoaded        *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered with reg. A nil reg uses
// the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "factorlab"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// History loader metrics
		HistoryCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "cache_hits_total",
			Help:      "Total number of history requests served from a cached block",
		}),
		HistoryCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "cache_misses_total",
			Help:      "Total number of history requests with no cached block",
		}),
		HistoryRebuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "block_rebuilds_total",
			Help:      "Total number of blocks fetched, by reason",
		}, []string{"reason"}),
		HistoryCachedBlocks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "cached_blocks",
			Help:      "Current number of cached blocks",
		}),
		AdjustmentsScheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "adjustments",
			Name:      "scheduled_total",
			Help:      "Total number of multiply adjustments scheduled, by consumer",
		}, []string{"consumer"}),

		// Pipeline metrics
		PipelineRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by status",
		}, []string{"status"}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Pipeline execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		TermsComputed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "terms_computed_total",
			Help:      "Total number of terms computed by kind",
		}, []string{"kind"}),
		RowsLoaded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "rows_loaded_total",
			Help:      "Total number of session rows loaded per dataset",
		}, []string{"dataset"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint of the default
// registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPipelineRun records a pipeline run.
func (m *Metrics) RecordPipelineRun(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.PipelineRunsTotal.WithLabelValues(status).Inc()
	m.PipelineDuration.Observe(durationSeconds)
}

// RecordTerm counts one computed term of kind.
func (m *Metrics) RecordTerm(kind string) {
	if m == nil {
		return
	}
	m.TermsComputed.WithLabelValues(kind).Inc()
}

// RecordLoad counts rows loaded for dataset.
func (m *Metrics) RecordLoad(dataset string, rows int) {
	if m == nil {
		return
	}
	m.RowsLoaded.WithLabelValues(dataset).Add(float64(rows))
}

// RecordAdjustments counts n adjustments scheduled by consumer.
func (m *Metrics) RecordAdjustments(consumer string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.AdjustmentsScheduled.WithLabelValues(consumer).Add(float64(n))
}

// RecordHistoryHit counts a cache hit.
func (m *Metrics) RecordHistoryHit() {
	if m == nil {
		return
	}
	m.HistoryCacheHits.Inc()
}

// RecordHistoryRebuild counts a block fetch. Reason "miss" also counts a
// cache miss.
func (m *Metrics) RecordHistoryRebuild(reason string, cached int) {
	if m == nil {
		return
	}
	if reason == "miss" {
		m.HistoryCacheMisses.Inc()
	}
	m.HistoryRebuilds.WithLabelValues(reason).Inc()
	m.HistoryCachedBlocks.Set(float64(cached))
}
