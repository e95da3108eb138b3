package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/etrends/internal/model"
)

func TestObserveRun(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRun(model.SourceLocal, true, true, 2*time.Second, model.ReconciliationResult{CreatedVendors: 1, NewPrices: 3, UpdatedPrices: 2})
	m.ObserveRun(model.SourceLocal, false, false, time.Second, model.ReconciliationResult{})

	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues("local", "scheduled", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues("local", "manual", "failure")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.RowsUpserted.WithLabelValues("local", "insert")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.RowsUpserted.WithLabelValues("local", "update")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.VendorsAdded), 0)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun(model.SourceFederal, false, true, time.Second, model.ReconciliationResult{})
		m.IncScheduleSkip("local-scrape")
		m.SetDataAge(model.SourceLocal, time.Hour)
		m.IncAlert("stale_data", model.SourceLocal)
	})
}

func TestIncScheduleSkip(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.IncScheduleSkip("federal-fetch")
	m.IncScheduleSkip("federal-fetch")
	assert.InDelta(t, 2, testutil.ToFloat64(m.ScheduleSkips.WithLabelValues("federal-fetch")), 0)
}

func TestHealthMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetDataAge(model.SourceFederal, 90*time.Minute)
	m.IncAlert("stale_data", model.SourceFederal)

	assert.InDelta(t, 5400, testutil.ToFloat64(m.DataAge.WithLabelValues("federal")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Alerts.WithLabelValues("stale_data", "federal")), 0)
}
