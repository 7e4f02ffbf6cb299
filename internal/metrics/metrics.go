// Package metrics holds the Prometheus instrumentation for sync runs,
// KPI evaluations, and bulk imports: promauto-registered Vecs plus one
// Record*/Update* method per concern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the control plane exports.
type Metrics struct {
	SyncRunsTotal    *prometheus.CounterVec
	SyncRunDuration  *prometheus.HistogramVec
	SyncRetries      *prometheus.CounterVec
	CircuitState     *prometheus.GaugeVec

	KPIEvaluations    *prometheus.CounterVec
	KPIAlertsRaised   *prometheus.CounterVec
	KPIThresholdsHit  *prometheus.GaugeVec

	ImportRowsTotal    *prometheus.CounterVec
	ImportDuration     *prometheus.HistogramVec
	ImportActiveGauge  *prometheus.GaugeVec

	WSConnections *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		SyncRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "controlplane_sync_runs_total",
				Help: "Total number of partner sync runs by integration and outcome",
			},
			[]string{"integration", "outcome"}, // outcome: success, failure
		),
		SyncRunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "controlplane_sync_run_duration_seconds",
				Help:    "Duration of a partner sync run",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"integration"},
		),
		SyncRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "controlplane_sync_retries_total",
				Help: "Total retry attempts made against partner integrations",
			},
			[]string{"integration"},
		),
		CircuitState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "controlplane_circuit_state",
				Help: "Circuit breaker state per integration (0=closed, 1=half_open, 2=open)",
			},
			[]string{"integration"},
		),
		KPIEvaluations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "controlplane_kpi_evaluations_total",
				Help: "Total KPI threshold evaluation sweeps run",
			},
			[]string{"outcome"},
		),
		KPIAlertsRaised: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "controlplane_kpi_alerts_raised_total",
				Help: "Total KPI alerts raised by threshold name",
			},
			[]string{"kpi_name", "severity"},
		),
		KPIThresholdsHit: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "controlplane_kpi_thresholds_breached",
				Help: "Thresholds currently in breach as of the last sweep",
			},
			[]string{"kpi_name"},
		),
		ImportRowsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "controlplane_import_rows_total",
				Help: "Total import rows processed by kind and outcome",
			},
			[]string{"kind", "outcome"}, // outcome: success, skipped, duplicate, error
		),
		ImportDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "controlplane_import_duration_seconds",
				Help:    "Duration of a full import run",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),
		ImportActiveGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "controlplane_import_active",
				Help: "Number of import runs currently in progress by kind",
			},
			[]string{"kind"},
		),
		WSConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "controlplane_ws_connections",
				Help: "Current number of open WebSocket connections by role",
			},
			[]string{"role"},
		),
	}
}

// RecordSyncRun records the outcome and duration of one partner sync run.
func (m *Metrics) RecordSyncRun(integration string, success bool, seconds float64) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.SyncRunsTotal.WithLabelValues(integration, outcome).Inc()
	m.SyncRunDuration.WithLabelValues(integration).Observe(seconds)
}

// RecordRetry records one retry attempt against a partner integration.
func (m *Metrics) RecordRetry(integration string) {
	m.SyncRetries.WithLabelValues(integration).Inc()
}

// SetCircuitState records the circuit breaker's current state (0/1/2).
func (m *Metrics) SetCircuitState(integration string, state int) {
	m.CircuitState.WithLabelValues(integration).Set(float64(state))
}

// RecordKPIEvaluation records one threshold-sweep outcome.
func (m *Metrics) RecordKPIEvaluation(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.KPIEvaluations.WithLabelValues(outcome).Inc()
}

// RecordAlertRaised records a new KPI alert.
func (m *Metrics) RecordAlertRaised(kpiName, severity string) {
	m.KPIAlertsRaised.WithLabelValues(kpiName, severity).Inc()
}

// SetThresholdBreach records whether a given KPI is currently in breach.
func (m *Metrics) SetThresholdBreach(kpiName string, breached bool) {
	v := 0.0
	if breached {
		v = 1.0
	}
	m.KPIThresholdsHit.WithLabelValues(kpiName).Set(v)
}

// RecordImportRow tallies one processed import row.
func (m *Metrics) RecordImportRow(kind, outcome string) {
	m.ImportRowsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordImportRun records the duration of a completed import.
func (m *Metrics) RecordImportRun(kind string, seconds float64) {
	m.ImportDuration.WithLabelValues(kind).Observe(seconds)
}

// SetImportActive tracks how many imports of a kind are in flight.
func (m *Metrics) SetImportActive(kind string, delta int) {
	m.ImportActiveGauge.WithLabelValues(kind).Add(float64(delta))
}

// SetWSConnections records the current WebSocket connection count per role.
func (m *Metrics) SetWSConnections(role string, n int) {
	m.WSConnections.WithLabelValues(role).Set(float64(n))
}
