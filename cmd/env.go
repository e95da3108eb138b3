package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/etrends/internal/acquire"
	"github.com/sells-group/etrends/internal/config"
	"github.com/sells-group/etrends/internal/extract"
	"github.com/sells-group/etrends/internal/federal"
	"github.com/sells-group/etrends/internal/fetcher"
	"github.com/sells-group/etrends/internal/metrics"
	"github.com/sells-group/etrends/internal/model"
	"github.com/sells-group/etrends/internal/reconcile"
	"github.com/sells-group/etrends/internal/schedule"
	"github.com/sells-group/etrends/internal/store"
	"github.com/sells-group/etrends/internal/trend"
)

// appEnv bundles the components a command needs. Orchestrator is nil for
// read-only commands.
type appEnv struct {
	Store        store.Store
	Orchestrator *acquire.Orchestrator
	Scheduler    *schedule.Controller
	Trends       *trend.Aggregator
}

func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store and ensures the schema exists.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	zap.L().Debug("store ready", zap.String("driver", cfg.Store.Driver))
	return st, nil
}

// initEnv validates config for mode and builds the component graph.
// mode is one of "read", "acquire" or "serve".
func initEnv(ctx context.Context, mode string, m *metrics.Metrics) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, Trends: trend.New(st)}
	if mode == "read" {
		return env, nil
	}

	orch, err := newOrchestrator(cfg, st, m)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Orchestrator = orch

	sched, err := newScheduler(cfg.Schedule, orch, m)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Scheduler = sched
	return env, nil
}

func newOrchestrator(c *config.Config, st store.Store, m *metrics.Metrics) (*acquire.Orchestrator, error) {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  c.Fetch.UserAgent,
		Timeout:    time.Duration(c.Fetch.TimeoutSecs) * time.Second,
		MaxRetries: c.Fetch.MaxRetries,
	})

	policy, err := extract.ParseDatePolicy(c.Scrape.DatePolicy)
	if err != nil {
		return nil, err
	}
	ex, err := extract.New(extract.Options{
		DateColumn: c.Scrape.DateColumn,
		MinCells:   c.Scrape.MinCells,
		DatePolicy: policy,
	})
	if err != nil {
		return nil, eris.Wrap(err, "build extractor")
	}

	return acquire.NewOrchestrator(st, reconcile.New(st),
		acquire.Options{
			FetchTimeout: time.Duration(c.Fetch.RunTimeoutSecs) * time.Second,
			Metrics:      m,
		},
		acquire.NewLocalSource(f, ex, c.Scrape.URL),
		acquire.NewFederalSource(federal.NewClient(f, c.Federal), c.Federal.LookbackDays),
	), nil
}

// newScheduler registers the configured jobs. Jobs configured as disabled
// are registered and then disabled so they can be toggled at runtime.
func newScheduler(sc config.ScheduleConfig, r schedule.Runner, m *metrics.Metrics) (*schedule.Controller, error) {
	c := schedule.New(r, m)
	jobs := []struct {
		name string
		kind model.SourceKind
		job  config.JobConfig
	}{
		{schedule.JobLocalScrape, model.SourceLocal, sc.Local},
		{schedule.JobFederalFetch, model.SourceFederal, sc.Federal},
	}
	for _, j := range jobs {
		if err := c.Register(j.name, j.kind, j.job.Cron); err != nil {
			return nil, err
		}
		if !j.job.Enabled {
			if err := c.Disable(j.name); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}
