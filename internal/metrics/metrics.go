// Package metrics exposes cleanup counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"histclean/internal/domain"
)

var _ domain.MetricsRecorder = (*PrometheusMetrics)(nil)

type PrometheusMetrics struct {
	snapshotsScanned *prometheus.CounterVec
	duplicatesFound  *prometheus.CounterVec
	snapshotsDeleted *prometheus.CounterVec
	batchesTotal     *prometheus.CounterVec
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	lastRun          prometheus.Gauge
}

func InitPrometheusMetrics(namespace string, reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &PrometheusMetrics{
		snapshotsScanned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_snapshots_scanned_total",
				Help:      "History snapshots considered for cleanup",
			},
			[]string{"model"},
		),
		duplicatesFound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_duplicates_found_total",
				Help:      "Redundant history snapshots found",
			},
			[]string{"model"},
		),
		snapshotsDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_snapshots_deleted_total",
				Help:      "History snapshots deleted",
			},
			[]string{"model"},
		),
		batchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_delete_batches_total",
				Help:      "Deletion batches committed",
			},
			[]string{"model"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_runs_total",
				Help:      "Cleanup runs by outcome",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cleanup_run_duration_seconds",
				Help:      "Duration of cleanup runs",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 10800},
			},
			[]string{"status"},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cleanup_last_run_timestamp_seconds",
				Help:      "Unix time the last cleanup run finished",
			},
		),
	}

	reg.MustRegister(
		m.snapshotsScanned,
		m.duplicatesFound,
		m.snapshotsDeleted,
		m.batchesTotal,
		m.runsTotal,
		m.runDuration,
		m.lastRun,
	)

	return m
}

func (m *PrometheusMetrics) ObserveModel(r domain.ModelReport) {
	m.snapshotsScanned.WithLabelValues(r.Model).Add(float64(r.Found))
	m.duplicatesFound.WithLabelValues(r.Model).Add(float64(r.Duplicates))
	m.snapshotsDeleted.WithLabelValues(r.Model).Add(float64(r.Deleted))
}

func (m *PrometheusMetrics) ObserveBatch(model string, _ int64) {
	m.batchesTotal.WithLabelValues(model).Inc()
}

func (m *PrometheusMetrics) ObserveRun(status domain.RunStatus, d time.Duration) {
	m.runsTotal.WithLabelValues(string(status)).Inc()
	m.runDuration.WithLabelValues(string(status)).Observe(d.Seconds())
	m.lastRun.SetToCurrentTime()
}
