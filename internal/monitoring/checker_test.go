package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/etrends/internal/metrics"
	"github.com/sells-group/etrends/internal/model"
)

func TestChecker_Check(t *testing.T) {
	log := &mockLog{entries: []model.AcquisitionLogEntry{
		entry(model.SourceLocal, time.Hour, true),
	}}
	cfg := testMonitoringConfig()
	checker := NewChecker(newTestCollector(log), NewAlerter(cfg), nil, cfg)

	report, err := checker.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Snapshot.Kinds, 2)
	require.Len(t, report.Alerts, 1, "federal has never succeeded")
	assert.Equal(t, model.SourceFederal, report.Alerts[0].Kind)
}

func TestChecker_CheckRecordsAndSends(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
	}))
	defer srv.Close()

	log := &mockLog{entries: []model.AcquisitionLogEntry{
		entry(model.SourceLocal, 2*time.Hour, true),
	}}
	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	m := metrics.New(prometheus.NewRegistry())
	checker := NewChecker(newTestCollector(log), NewAlerter(cfg), m, cfg)

	checker.check(context.Background(), zap.NewNop())

	assert.InDelta(t, 7200, testutil.ToFloat64(m.DataAge.WithLabelValues("local")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Alerts.WithLabelValues(string(AlertStaleData), "federal")), 0)
	assert.Equal(t, int32(1), received.Load())
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := testMonitoringConfig()
	cfg.CheckIntervalSecs = 1
	checker := NewChecker(newTestCollector(&mockLog{}), NewAlerter(cfg), nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	cfg := testMonitoringConfig()
	checker := NewChecker(newTestCollector(&mockLog{}), NewAlerter(cfg), nil, cfg)
	assert.NotNil(t, checker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}
