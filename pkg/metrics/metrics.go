// Package metrics exposes the Prometheus instruments of the inventory service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest outcomes.
const (
	OutcomeAppended    = "appended"
	OutcomeDuplicate   = "duplicate"
	OutcomeQuarantined = "quarantined"
)

// Metrics holds every instrument. A nil *Metrics is valid and records nothing.
type Metrics struct {
	movements       *prometheus.CounterVec
	quarantined     *prometheus.CounterVec
	anomalies       *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	sweepDuration   *prometheus.HistogramVec
	sweepUnitErrors *prometheus.CounterVec
	sweepSkipped    prometheus.Counter
}

// New registers the instruments on registerer, or on the default registerer when nil.
func New(registerer prometheus.Registerer, serviceName, environment string) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := prometheus.Labels{"service": serviceName, "env": environment}

	m := &Metrics{
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "barledger_movements_ingested_total",
			Help:        "Raw events processed by movement kind and outcome.",
			ConstLabels: constLabels,
		}, []string{"kind", "outcome"}),
		quarantined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "barledger_events_quarantined_total",
			Help:        "Raw events rejected by the normalizer by source and reason.",
			ConstLabels: constLabels,
		}, []string{"source", "reason"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "barledger_anomalies_opened_total",
			Help:        "Anomaly records opened by type and severity.",
			ConstLabels: constLabels,
		}, []string{"type", "severity"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "barledger_reconciliations_total",
			Help:        "Reconciliation results by status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "barledger_sweep_duration_seconds",
			Help:        "Analysis sweep latency by pass.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			ConstLabels: constLabels,
		}, []string{"pass"}),
		sweepUnitErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "barledger_sweep_unit_errors_total",
			Help:        "Per-item or per-device failures isolated during a sweep.",
			ConstLabels: constLabels,
		}, []string{"pass"}),
		sweepSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "barledger_sweep_skipped_total",
			Help:        "Scheduled sweeps skipped because another replica held the lock.",
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.movements,
		m.quarantined,
		m.anomalies,
		m.reconciliations,
		m.sweepDuration,
		m.sweepUnitErrors,
		m.sweepSkipped,
	)
	return m
}

// Handler serves the gathered metrics in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) IncMovement(kind, outcome string) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) IncQuarantined(source, reason string) {
	if m == nil {
		return
	}
	m.quarantined.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) IncAnomaly(anomalyType, severity string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(anomalyType, severity).Inc()
}

func (m *Metrics) IncReconciliation(status string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSweep(pass string, started time.Time) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(pass).Observe(time.Since(started).Seconds())
}

func (m *Metrics) AddSweepUnitErrors(pass string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.sweepUnitErrors.WithLabelValues(pass).Add(float64(n))
}

func (m *Metrics) IncSweepSkipped() {
	if m == nil {
		return
	}
	m.sweepSkipped.Inc()
}
