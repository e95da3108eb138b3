// Package metrics exposes Prometheus instrumentation for acquisition runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/etrends/internal/model"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	RowsUpserted  *prometheus.CounterVec
	VendorsAdded  prometheus.Counter
	ScheduleSkips *prometheus.CounterVec
	DataAge       *prometheus.GaugeVec
	Alerts        *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "etrends_acquisition_runs_total",
			Help: "Acquisition runs by source kind, trigger and result",
		}, []string{"kind", "trigger", "result"}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etrends_acquisition_run_duration_seconds",
			Help:    "Wall time of acquisition runs",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		RowsUpserted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "etrends_rows_upserted_total",
			Help: "Price rows written by reconciliation, by kind and operation",
		}, []string{"kind", "op"}),
		VendorsAdded: f.NewCounter(prometheus.CounterOpts{
			Name: "etrends_vendors_created_total",
			Help: "Vendors created on first sighting",
		}),
		ScheduleSkips: f.NewCounterVec(prometheus.CounterOpts{
			Name: "etrends_schedule_skips_total",
			Help: "Scheduled fires skipped because the job was disabled",
		}, []string{"job"}),
		DataAge: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "etrends_last_success_age_seconds",
			Help: "Seconds since the last successful acquisition, by kind",
		}, []string{"kind"}),
		Alerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "etrends_monitoring_alerts_total",
			Help: "Health alerts raised, by type and kind",
		}, []string{"type", "kind"}),
	}
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(kind model.SourceKind, scheduled, success bool, d time.Duration, res model.ReconciliationResult) {
	if m == nil {
		return
	}
	trigger := "manual"
	if scheduled {
		trigger = "scheduled"
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.RunsTotal.WithLabelValues(string(kind), trigger, result).Inc()
	m.RunDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
	m.RowsUpserted.WithLabelValues(string(kind), "insert").Add(float64(res.NewPrices))
	m.RowsUpserted.WithLabelValues(string(kind), "update").Add(float64(res.UpdatedPrices))
	m.VendorsAdded.Add(float64(res.CreatedVendors))
}

// IncScheduleSkip records a disabled-job fire.
func (m *Metrics) IncScheduleSkip(job string) {
	if m == nil {
		return
	}
	m.ScheduleSkips.WithLabelValues(job).Inc()
}

// SetDataAge records how old the newest successful run of kind is.
func (m *Metrics) SetDataAge(kind model.SourceKind, age time.Duration) {
	if m == nil {
		return
	}
	m.DataAge.WithLabelValues(string(kind)).Set(age.Seconds())
}

// IncAlert records one raised health alert.
func (m *Metrics) IncAlert(alertType string, kind model.SourceKind) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(alertType, string(kind)).Inc()
}
