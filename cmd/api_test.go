//go:build !integration

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/etrends/internal/metrics"
	"github.com/sells-group/etrends/internal/model"
	"github.com/sells-group/etrends/internal/monitoring"
	"github.com/sells-group/etrends/internal/schedule"
	"github.com/sells-group/etrends/internal/trend"
)

type fakeRuns struct {
	out       *model.Outcome
	err       error
	entries   []model.AcquisitionLogEntry
	gotKind   model.SourceKind
	gotFilter model.LogFilter
}

func (f *fakeRuns) Run(_ context.Context, kind model.SourceKind, _ bool) (*model.Outcome, error) {
	f.gotKind = kind
	return f.out, f.err
}

func (f *fakeRuns) Log(_ context.Context, filter model.LogFilter) ([]model.AcquisitionLogEntry, error) {
	f.gotFilter = filter
	return f.entries, f.err
}

type fakeJobs struct {
	jobs    []model.ScheduledJob
	fireOut *model.Outcome
	fireErr error
	fired   []string
}

func (f *fakeJobs) Jobs() []model.ScheduledJob { return f.jobs }

func (f *fakeJobs) Enable(name string) error { return f.set(name, true) }

func (f *fakeJobs) Disable(name string) error { return f.set(name, false) }

func (f *fakeJobs) set(name string, enabled bool) error {
	for i := range f.jobs {
		if f.jobs[i].Name == name {
			f.jobs[i].Enabled = enabled
			return nil
		}
	}
	return eris.Wrapf(schedule.ErrJobNotFound, "schedule: %q", name)
}

func (f *fakeJobs) RunNow(_ context.Context, name string) (*model.Outcome, error) {
	f.fired = append(f.fired, name)
	return f.fireOut, f.fireErr
}

type fakeTrends struct {
	latest    []trend.VendorPrice
	series    *trend.Series
	summary   *trend.Summary
	err       error
	gotWindow int
}

func (f *fakeTrends) LatestPrices(_ context.Context, window int) ([]trend.VendorPrice, error) {
	f.gotWindow = window
	if window <= 0 {
		return nil, eris.Wrapf(trend.ErrInvalidWindow, "trend: got %d", window)
	}
	return f.latest, f.err
}

func (f *fakeTrends) Series(_ context.Context, window int) (*trend.Series, error) {
	f.gotWindow = window
	return f.series, f.err
}

func (f *fakeTrends) Summary(context.Context) (*trend.Summary, error) {
	return f.summary, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeMonitor struct {
	report *monitoring.Report
	err    error
}

func (f *fakeMonitor) Check(context.Context) (*monitoring.Report, error) { return f.report, f.err }

type apiFixture struct {
	runs    *fakeRuns
	jobs    *fakeJobs
	trends  *fakeTrends
	ping    *fakePinger
	monitor *fakeMonitor
	router  http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		runs: &fakeRuns{},
		jobs: &fakeJobs{jobs: []model.ScheduledJob{
			{Name: schedule.JobLocalScrape, Kind: model.SourceLocal, Spec: "0 0 * * *", Enabled: true},
			{Name: schedule.JobFederalFetch, Kind: model.SourceFederal, Spec: "0 6 * * 1", Enabled: false},
		}},
		trends:  &fakeTrends{},
		ping:    &fakePinger{},
		monitor: &fakeMonitor{},
	}
	h := NewHandler(Services{Runs: f.runs, Jobs: f.jobs, Trends: f.trends, Store: f.ping, Monitor: f.monitor}, 90, 365)
	f.router = newRouter(h, []string{"*"}, prometheus.NewRegistry())
	return f
}

func (f *apiFixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rec)["status"])

	f.ping.err = errors.New("db down")
	rec = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRun_Success(t *testing.T) {
	f := newAPIFixture(t)
	f.runs.out = &model.Outcome{
		RunID:   "r1",
		Kind:    model.SourceLocal,
		Success: true,
		Message: "Local acquisition completed: 2 new, 0 updated, 1 new vendors",
		Result:  model.ReconciliationResult{CreatedVendors: 1, NewPrices: 2},
		State:   model.RunSucceeded,
	}

	rec := f.do(t, http.MethodPost, "/api/runs/local", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.SourceLocal, f.runs.gotKind)

	out := decodeBody[model.Outcome](t, rec)
	assert.True(t, out.Success)
	assert.Equal(t, 2, out.Result.NewPrices)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestRun_FailedRunIsBadGateway(t *testing.T) {
	f := newAPIFixture(t)
	f.runs.out = &model.Outcome{RunID: "r2", Kind: model.SourceFederal, Message: "fetch error: timeout", State: model.RunFailed}

	rec := f.do(t, http.MethodPost, "/api/runs/federal", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "fetch error: timeout", decodeBody[model.Outcome](t, rec).Message)
}

func TestRun_NotRecorded(t *testing.T) {
	f := newAPIFixture(t)
	f.runs.out = &model.Outcome{RunID: "r3", Kind: model.SourceLocal, Success: true, State: model.RunFailed}
	f.runs.err = model.PersistenceError(errors.New("disk full"))

	rec := f.do(t, http.MethodPost, "/api/runs/local", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "r3", decodeBody[model.Outcome](t, rec).RunID)
}

func TestRun_UnknownKind(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/runs/regional", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[map[string]string](t, rec)["error"], "unknown source kind")
}

func TestListRuns(t *testing.T) {
	f := newAPIFixture(t)
	f.runs.entries = []model.AcquisitionLogEntry{
		{ID: 2, RunID: "r2", Kind: model.SourceFederal, Success: true},
	}

	rec := f.do(t, http.MethodGet, "/api/runs?kind=federal&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.LogFilter{Kind: model.SourceFederal, Limit: 5}, f.runs.gotFilter)
	entries := decodeBody[[]model.AcquisitionLogEntry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "r2", entries[0].RunID)
}

func TestListRuns_EmptyIsArray(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestListRuns_BadParams(t *testing.T) {
	f := newAPIFixture(t)

	for _, target := range []string{"/api/runs?kind=state", "/api/runs?limit=0", "/api/runs?limit=x"} {
		rec := f.do(t, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestSchedules_ListAndToggle(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/schedules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]model.ScheduledJob](t, rec), 2)

	rec = f.do(t, http.MethodPut, "/api/schedules/federal-fetch", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	job := decodeBody[model.ScheduledJob](t, rec)
	assert.Equal(t, "federal-fetch", job.Name)
	assert.True(t, job.Enabled)

	rec = f.do(t, http.MethodPut, "/api/schedules/local-scrape", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[model.ScheduledJob](t, rec).Enabled)
}

func TestSchedules_ToggleErrors(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPut, "/api/schedules/nightly", `{"enabled":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/schedules/local-scrape", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/schedules/local-scrape", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFire(t *testing.T) {
	tests := []struct {
		name   string
		out    *model.Outcome
		err    error
		status int
	}{
		{"success", &model.Outcome{RunID: "r1", Success: true}, nil, http.StatusOK},
		{"failed run", &model.Outcome{RunID: "r1", Message: "extraction error"}, nil, http.StatusBadGateway},
		{"disabled", nil, schedule.ErrJobDisabled, http.StatusConflict},
		{"unknown", nil, eris.Wrapf(schedule.ErrJobNotFound, "schedule: %q", "x"), http.StatusNotFound},
		{"runner error", nil, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.jobs.fireOut, f.jobs.fireErr = tt.out, tt.err

			rec := f.do(t, http.MethodPost, "/api/schedules/local-scrape/fire", "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, []string{"local-scrape"}, f.jobs.fired)
		})
	}
}

func TestTrendsLatest(t *testing.T) {
	f := newAPIFixture(t)
	f.trends.latest = []trend.VendorPrice{
		{VendorID: 2, VendorName: "B", Town: "Warwick", Price: decimal.RequireFromString("2.5"), Date: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)},
	}

	rec := f.do(t, http.MethodGet, "/api/trends/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 90, f.trends.gotWindow, "default comparison window")
	prices := decodeBody[[]trend.VendorPrice](t, rec)
	require.Len(t, prices, 1)
	assert.True(t, prices[0].Price.Equal(decimal.RequireFromString("2.5")))

	rec = f.do(t, http.MethodGet, "/api/trends/latest?window=30", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30, f.trends.gotWindow)
}

func TestTrendsLatest_InvalidWindow(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/trends/latest?window=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/trends/latest?window=week", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrendsSeriesAndStats(t *testing.T) {
	f := newAPIFixture(t)
	f.trends.series = &trend.Series{Vendors: map[string]*trend.Points{}}
	f.trends.summary = &trend.Summary{VendorCount: 3, PriceCount: 12}

	rec := f.do(t, http.MethodGet, "/api/trends/series", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 365, f.trends.gotWindow, "default chart window")

	rec = f.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	s := decodeBody[trend.Summary](t, rec)
	assert.Equal(t, 3, s.VendorCount)
	assert.Equal(t, 12, s.PriceCount)

	f.trends.err = errors.New("db down")
	rec = f.do(t, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.IncScheduleSkip(schedule.JobLocalScrape)

	h := NewHandler(Services{Runs: &fakeRuns{}, Jobs: &fakeJobs{}, Trends: &fakeTrends{}, Store: fakePinger{}}, 90, 365)
	router := newRouter(h, []string{"*"}, reg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "local-scrape")
}

func TestCORS(t *testing.T) {
	h := NewHandler(Services{Runs: &fakeRuns{}, Jobs: &fakeJobs{}, Trends: &fakeTrends{}, Store: fakePinger{}}, 90, 365)
	router := newRouter(h, []string{"https://ops.example.com"}, prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodOptions, "/api/runs/local", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMonitoring(t *testing.T) {
	f := newAPIFixture(t)
	f.monitor.report = &monitoring.Report{
		Snapshot: &monitoring.Snapshot{LookbackHours: 168, Kinds: []monitoring.KindHealth{{Kind: model.SourceLocal, Total: 2}}},
		Alerts:   []monitoring.Alert{{Type: monitoring.AlertStaleData, Kind: model.SourceFederal}},
	}

	rec := f.do(t, http.MethodGet, "/api/monitoring", "")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[monitoring.Report](t, rec)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, monitoring.AlertStaleData, report.Alerts[0].Type)
	assert.Equal(t, 168, report.Snapshot.LookbackHours)

	f.monitor.err = errors.New("db down")
	rec = f.do(t, http.MethodGet, "/api/monitoring", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMonitoring_NotMountedWithoutChecker(t *testing.T) {
	h := NewHandler(Services{Runs: &fakeRuns{}, Jobs: &fakeJobs{}, Trends: &fakeTrends{}, Store: fakePinger{}}, 90, 365)
	router := newRouter(h, []string{"*"}, prometheus.NewRegistry())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/monitoring", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
