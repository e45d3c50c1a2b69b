package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the convergence engine. A nil
// *Metrics is valid and records nothing, as is one built from a disabled
// configuration.
type Metrics struct {
	config MetricsConfig

	// Apply loop metrics
	batchesExecuted *prometheus.CounterVec
	batchDuration   *prometheus.HistogramVec
	taskOutcomes    *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	snapshotVersion prometheus.Gauge

	// Commit metrics
	applierFailures prometheus.Counter
	persistFailures prometheus.Counter

	// Synchronizer metrics
	pendingEffects    prometheus.Gauge
	effectResolutions *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		batchesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_executed_total",
				Help:      "Total number of task batches executed",
			},
			[]string{"kind", "status"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Duration of batch execution and commit in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		taskOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_outcomes_total",
				Help:      "Total number of task outcomes by kind and status",
			},
			[]string{"kind", "status"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Number of tasks currently queued",
			},
		),
		snapshotVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "snapshot_version",
				Help:      "Version of the latest committed snapshot",
			},
		),
		applierFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "applier_failures_total",
				Help:      "Total number of external applier failures after commit",
			},
		),
		persistFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_failures_total",
				Help:      "Total number of durability hook failures",
			},
		),
		pendingEffects: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_effects",
				Help:      "Number of deferred secondary effects awaiting readiness",
			},
		),
		effectResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "effect_resolutions_total",
				Help:      "Total number of secondary effect resolution attempts",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.batchesExecuted,
		m.batchDuration,
		m.taskOutcomes,
		m.queueDepth,
		m.snapshotVersion,
		m.applierFailures,
		m.persistFailures,
		m.pendingEffects,
		m.effectResolutions,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.config.Enabled
}

// RecordBatch records one executed batch.
func (m *Metrics) RecordBatch(kind, status string, size int, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.batchesExecuted.WithLabelValues(kind, status).Inc()
	m.batchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordTaskOutcome records the outcome of a single task.
func (m *Metrics) RecordTaskOutcome(kind string, success bool) {
	if !m.enabled() {
		return
	}
	status := "failure"
	if success {
		status = "success"
	}
	m.taskOutcomes.WithLabelValues(kind, status).Inc()
}

// SetQueueDepth sets the current queue depth.
func (m *Metrics) SetQueueDepth(depth int) {
	if !m.enabled() {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// SetSnapshotVersion sets the latest committed snapshot version.
func (m *Metrics) SetSnapshotVersion(version int64) {
	if !m.enabled() {
		return
	}
	m.snapshotVersion.Set(float64(version))
}

// RecordApplierFailure records an external applier failure after commit.
func (m *Metrics) RecordApplierFailure() {
	if !m.enabled() {
		return
	}
	m.applierFailures.Inc()
}

// RecordPersistFailure records a durability hook failure.
func (m *Metrics) RecordPersistFailure() {
	if !m.enabled() {
		return
	}
	m.persistFailures.Inc()
}

// SetPendingEffects sets the number of deferred effects awaiting readiness.
func (m *Metrics) SetPendingEffects(count int) {
	if !m.enabled() {
		return
	}
	m.pendingEffects.Set(float64(count))
}

// RecordEffectResolution records one resolution attempt by status
// (applied, failed, skipped).
func (m *Metrics) RecordEffectResolution(status string) {
	if !m.enabled() {
		return
	}
	m.effectResolutions.WithLabelValues(status).Inc()
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
// It returns immediately; the server runs until the process exits.
func (m *Metrics) StartMetricsServer() error {
	if !m.enabled() {
		return nil
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	go func() {
		// Errors here are fatal only for the metrics endpoint, never for
		// the engine.
		_ = http.ListenAndServe(m.config.ListenAddress, mux)
	}()
	return nil
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
