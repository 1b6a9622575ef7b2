// Package metrics exposes Prometheus instrumentation of the sync engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "datasync"

// Metrics groups the collectors updated by the sync engine.
type Metrics struct {
	RowsCreated  *prometheus.CounterVec
	RowsUpdated  *prometheus.CounterVec
	RowsDeleted  *prometheus.CounterVec
	SyncErrors   *prometheus.CounterVec
	SyncDuration *prometheus.HistogramVec
	RunningSyncs prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RowsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_created_total",
			Help:      "Rows created by data syncs.",
		}, []string{"type"}),
		RowsUpdated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_updated_total",
			Help:      "Rows updated by data syncs.",
		}, []string{"type"}),
		RowsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_deleted_total",
			Help:      "Rows deleted by data syncs.",
		}, []string{"type"}),
		SyncErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_errors_total",
			Help:      "Syncs that recorded a source error in last_error.",
		}, []string{"type"}),
		SyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of data syncs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type", "outcome"}),
		RunningSyncs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_syncs",
			Help:      "Syncs currently executing.",
		}),
	}

	reg.MustRegister(
		m.RowsCreated,
		m.RowsUpdated,
		m.RowsDeleted,
		m.SyncErrors,
		m.SyncDuration,
		m.RunningSyncs,
	)
	return m
}

// Outcomes of a sync.
const (
	OutcomeSuccess = "success"
	OutcomeSyncErr = "sync_error"
	OutcomeFailure = "failure"
)

// ObserveSync records one finished sync.
func (m *Metrics) ObserveSync(dsType, outcome string, started time.Time, created, updated, deleted int) {
	if m == nil {
		return
	}
	m.SyncDuration.WithLabelValues(dsType, outcome).Observe(time.Since(started).Seconds())
	switch outcome {
	case OutcomeSuccess:
		m.RowsCreated.WithLabelValues(dsType).Add(float64(created))
		m.RowsUpdated.WithLabelValues(dsType).Add(float64(updated))
		m.RowsDeleted.WithLabelValues(dsType).Add(float64(deleted))
	case OutcomeSyncErr:
		m.SyncErrors.WithLabelValues(dsType).Inc()
	}
}
