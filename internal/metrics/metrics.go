// Package metrics collects in-process counters, gauges, and histograms
// for store operations, cache behavior, and consolidation runs. There is
// no HTTP exporter here; `health`/`stats` read these values directly.
package metrics

import (
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/gauge/histogram the service records. It
// owns a private registry rather than using the global default one, so a
// process can open more than one store without double-registration
// panics (notably in tests).
type Metrics struct {
	registry *prometheus.Registry

	storeTotal      *prometheus.CounterVec
	retrieveLatency prometheus.Histogram
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	lockContention  prometheus.Counter
	phaseDuration   *prometheus.HistogramVec
	phaseFailures   *prometheus.CounterVec
	liveMemories    prometheus.Gauge
	walCheckpoints  prometheus.Counter
}

// New builds a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		storeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Count of store-engine operations by name and outcome",
		}, []string{"operation", "outcome"}),
		retrieveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "memoryd",
			Subsystem: "store",
			Name:      "retrieve_latency_seconds",
			Help:      "Latency of retrieve operations",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "embedding",
			Name:      "cache_hits_total",
			Help:      "Embedding adapter cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "embedding",
			Name:      "cache_misses_total",
			Help:      "Embedding adapter cache misses",
		}),
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "coordinator",
			Name:      "lock_contention_total",
			Help:      "Writes that hit SQLITE_BUSY/LOCKED and had to retry",
		}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "memoryd",
			Subsystem: "consolidate",
			Name:      "phase_duration_seconds",
			Help:      "Duration of each consolidation phase",
			Buckets:   []float64{0.1, 1, 5, 30, 60, 300, 600},
		}, []string{"phase"}),
		phaseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "consolidate",
			Name:      "phase_failures_total",
			Help:      "Consolidation phase failures",
		}, []string{"phase"}),
		liveMemories: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "memoryd",
			Subsystem: "store",
			Name:      "live_memories",
			Help:      "Current count of non-archived memories",
		}),
		walCheckpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "store",
			Name:      "wal_checkpoints_total",
			Help:      "WAL checkpoints performed during optimize",
		}),
	}

	reg.MustRegister(
		m.storeTotal, m.retrieveLatency, m.cacheHits, m.cacheMisses,
		m.lockContention, m.phaseDuration, m.phaseFailures,
		m.liveMemories, m.walCheckpoints,
	)
	return m
}

// Registry exposes the underlying prometheus registry for gatherers that
// want to read raw metric families, outside any HTTP exporter.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordOperation counts a facade-level operation by outcome ("ok",
// "duplicate", "not_found", "error").
func (m *Metrics) RecordOperation(operation, outcome string) {
	m.storeTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveRetrieveLatency records how long a retrieve call took.
func (m *Metrics) ObserveRetrieveLatency(d time.Duration) {
	m.retrieveLatency.Observe(d.Seconds())
}

// RecordCacheHit implements embedding.MetricsSink.
func (m *Metrics) RecordCacheHit() { m.cacheHits.Inc() }

// RecordCacheMiss implements embedding.MetricsSink.
func (m *Metrics) RecordCacheMiss() { m.cacheMisses.Inc() }

// CacheHitRate returns the observed hit ratio in [0,1], or 0 if nothing
// has been recorded yet.
func (m *Metrics) CacheHitRate() float64 {
	hits := counterValue(m.cacheHits)
	misses := counterValue(m.cacheMisses)
	total := hits + misses
	if total == 0 {
		return 0
	}
	return hits / total
}

// RecordLockContention counts a write that had to retry past the first
// SQLITE_BUSY/LOCKED response.
func (m *Metrics) RecordLockContention() { m.lockContention.Inc() }

// ObservePhaseDuration records how long a consolidation phase took.
func (m *Metrics) ObservePhaseDuration(phase string, d time.Duration) {
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordPhaseFailure counts a failed consolidation phase.
func (m *Metrics) RecordPhaseFailure(phase string) {
	m.phaseFailures.WithLabelValues(phase).Inc()
}

// SetLiveMemories updates the live-memory gauge, typically from health/stats.
func (m *Metrics) SetLiveMemories(n int) {
	m.liveMemories.Set(float64(n))
}

// RecordWALCheckpoint counts a checkpoint performed during optimize.
func (m *Metrics) RecordWALCheckpoint() { m.walCheckpoints.Inc() }

func counterValue(c prometheus.Counter) float64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}
