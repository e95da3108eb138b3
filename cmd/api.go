package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/etrends/internal/model"
	"github.com/sells-group/etrends/internal/monitoring"
	"github.com/sells-group/etrends/internal/schedule"
	"github.com/sells-group/etrends/internal/trend"
)

// RunService triggers and lists acquisition runs.
type RunService interface {
	Run(ctx context.Context, kind model.SourceKind, scheduled bool) (*model.Outcome, error)
	Log(ctx context.Context, filter model.LogFilter) ([]model.AcquisitionLogEntry, error)
}

// ScheduleService manages recurring jobs.
type ScheduleService interface {
	Jobs() []model.ScheduledJob
	Enable(name string) error
	Disable(name string) error
	RunNow(ctx context.Context, name string) (*model.Outcome, error)
}

// TrendService computes read-side views.
type TrendService interface {
	LatestPrices(ctx context.Context, windowDays int) ([]trend.VendorPrice, error)
	Series(ctx context.Context, windowDays int) (*trend.Series, error)
	Summary(ctx context.Context) (*trend.Summary, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports acquisition health.
type HealthChecker interface {
	Check(ctx context.Context) (*monitoring.Report, error)
}

// Services are the dependencies of Handler. Monitor may be nil.
type Services struct {
	Runs    RunService
	Jobs    ScheduleService
	Trends  TrendService
	Store   Pinger
	Monitor HealthChecker
}

// Handler serves the operator JSON API.
type Handler struct {
	runs    RunService
	jobs    ScheduleService
	trends  TrendService
	health  Pinger
	monitor HealthChecker
	windows windowDefaults
	logger  *zap.Logger
}

type windowDefaults struct {
	comparison int
	chart      int
}

// NewHandler builds the API handler.
func NewHandler(svc Services, comparisonDays, chartDays int) *Handler {
	return &Handler{
		runs:    svc.Runs,
		jobs:    svc.Jobs,
		trends:  svc.Trends,
		health:  svc.Store,
		monitor: svc.Monitor,
		windows: windowDefaults{comparison: comparisonDays, chart: chartDays},
		logger:  zap.L().With(zap.String("component", "api")),
	}
}

// Register mounts the API endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/runs/{kind}", h.HandleRun)
		r.Get("/runs", h.HandleListRuns)
		r.Get("/schedules", h.HandleListSchedules)
		r.Put("/schedules/{job}", h.HandleSetSchedule)
		r.Post("/schedules/{job}/fire", h.HandleFire)
		r.Get("/trends/latest", h.HandleLatest)
		r.Get("/trends/series", h.HandleSeries)
		r.Get("/stats", h.HandleStats)
		if h.monitor != nil {
			r.Get("/monitoring", h.HandleMonitoring)
		}
	})
}

// newRouter builds the full HTTP router: middleware, metrics and API.
func newRouter(h *Handler, allowedOrigins []string, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	h.Register(r)
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.health.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleRun handles POST /api/runs/{kind}.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseSourceKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.runs.Run(r.Context(), kind, false)
	h.writeOutcome(w, out, err)
}

// HandleListRuns handles GET /api/runs?kind=&limit=.
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	var filter model.LogFilter
	q := r.URL.Query()
	if s := q.Get("kind"); s != "" {
		kind, err := model.ParseSourceKind(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Kind = kind
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	entries, err := h.runs.Log(r.Context(), filter)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if entries == nil {
		entries = []model.AcquisitionLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleListSchedules handles GET /api/schedules.
func (h *Handler) HandleListSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.jobs.Jobs())
}

type setScheduleRequest struct {
	Enabled *bool `json:"enabled"`
}

// HandleSetSchedule handles PUT /api/schedules/{job}.
func (h *Handler) HandleSetSchedule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "job")

	var req setScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}

	toggle := h.jobs.Disable
	if *req.Enabled {
		toggle = h.jobs.Enable
	}
	if err := toggle(name); err != nil {
		h.writeScheduleError(w, name, err)
		return
	}

	for _, j := range h.jobs.Jobs() {
		if j.Name == name {
			writeJSON(w, http.StatusOK, j)
			return
		}
	}
	writeError(w, http.StatusNotFound, "job not found")
}

// HandleFire handles POST /api/schedules/{job}/fire. The run is recorded as
// manual.
func (h *Handler) HandleFire(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "job")

	out, err := h.jobs.RunNow(r.Context(), name)
	if errors.Is(err, schedule.ErrJobNotFound) || errors.Is(err, schedule.ErrJobDisabled) {
		h.writeScheduleError(w, name, err)
		return
	}
	h.writeOutcome(w, out, err)
}

// HandleLatest handles GET /api/trends/latest?window=.
func (h *Handler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	window, ok := windowParam(w, r, h.windows.comparison)
	if !ok {
		return
	}
	prices, err := h.trends.LatestPrices(r.Context(), window)
	if err != nil {
		h.writeTrendError(w, err)
		return
	}
	if prices == nil {
		prices = []trend.VendorPrice{}
	}
	writeJSON(w, http.StatusOK, prices)
}

// HandleSeries handles GET /api/trends/series?window=.
func (h *Handler) HandleSeries(w http.ResponseWriter, r *http.Request) {
	window, ok := windowParam(w, r, h.windows.chart)
	if !ok {
		return
	}
	series, err := h.trends.Series(r.Context(), window)
	if err != nil {
		h.writeTrendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	summary, err := h.trends.Summary(r.Context())
	if err != nil {
		h.writeTrendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleMonitoring handles GET /api/monitoring.
func (h *Handler) HandleMonitoring(w http.ResponseWriter, r *http.Request) {
	report, err := h.monitor.Check(r.Context())
	if err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "health check failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// writeOutcome maps a run result to a response: 200 on success, 502 when
// the run failed upstream and 500 when the run could not be recorded.
func (h *Handler) writeOutcome(w http.ResponseWriter, out *model.Outcome, err error) {
	switch {
	case err != nil && out == nil:
		h.logger.Error("run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	case err != nil:
		h.logger.Error("run not recorded", zap.String("run_id", out.RunID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, out)
	case !out.Success:
		writeJSON(w, http.StatusBadGateway, out)
	default:
		writeJSON(w, http.StatusOK, out)
	}
}

func (h *Handler) writeScheduleError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, schedule.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found: "+name)
	case errors.Is(err, schedule.ErrJobDisabled):
		writeError(w, http.StatusConflict, "job is disabled: "+name)
	default:
		h.logger.Error("schedule operation failed", zap.String("job", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) writeTrendError(w http.ResponseWriter, err error) {
	if errors.Is(err, trend.ErrInvalidWindow) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error("trend query failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "trend query failed")
}

func windowParam(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	s := r.URL.Query().Get("window")
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "window must be an integer number of days")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
