// Package schedule fires acquisition runs on cron schedules.
package schedule

import (
	"context"
	"errors"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/etrends/internal/metrics"
	"github.com/sells-group/etrends/internal/model"
)

// Job names registered by the service.
const (
	JobLocalScrape  = "local-scrape"
	JobFederalFetch = "federal-fetch"
)

// Runner performs one acquisition run.
type Runner interface {
	Run(ctx context.Context, kind model.SourceKind, scheduled bool) (*model.Outcome, error)
}

type job struct {
	name    string
	kind    model.SourceKind
	spec    string
	enabled bool
	entryID cron.EntryID
}

// Controller owns a cron clock and a set of named jobs. Enable and Disable
// take effect on the next fire.
type Controller struct {
	runner  Runner
	metrics *metrics.Metrics
	logger  *zap.Logger
	cron    *cron.Cron

	mu        sync.RWMutex
	jobs      map[string]*job
	order     []string
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
}

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a stopped Controller.
func New(runner Runner, m *metrics.Metrics) *Controller {
	logger := zap.L().With(zap.String("component", "schedule"))
	cl := cronLogger{l: logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		runner:  runner,
		metrics: m,
		logger:  logger,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds an enabled job firing kind on spec (5-field cron or a
// descriptor such as @daily).
func (c *Controller) Register(name string, kind model.SourceKind, spec string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.jobs[name]; ok {
		return eris.Wrapf(ErrDuplicateJob, "schedule: register %q", name)
	}
	id, err := c.cron.AddFunc(spec, func() { c.fireScheduled(name) })
	if err != nil {
		return eris.Wrapf(err, "schedule: register %q: invalid spec %q", name, spec)
	}
	c.jobs[name] = &job{name: name, kind: kind, spec: spec, enabled: true, entryID: id}
	c.order = append(c.order, name)

	c.logger.Info("registered job", zap.String("job", name), zap.String("kind", string(kind)), zap.String("spec", spec))
	return nil
}

// Enable turns a job on. Idempotent.
func (c *Controller) Enable(name string) error {
	return c.setEnabled(name, true)
}

// Disable turns a job off. Idempotent. An in-flight run is not interrupted.
func (c *Controller) Disable(name string) error {
	return c.setEnabled(name, false)
}

func (c *Controller) setEnabled(name string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	j, ok := c.jobs[name]
	if !ok {
		return eris.Wrapf(ErrJobNotFound, "schedule: %q", name)
	}
	if j.enabled != enabled {
		j.enabled = enabled
		c.logger.Info("job toggled", zap.String("job", name), zap.Bool("enabled", enabled))
	}
	return nil
}

// IsEnabled reports whether the job is enabled.
func (c *Controller) IsEnabled(name string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	j, ok := c.jobs[name]
	if !ok {
		return false, eris.Wrapf(ErrJobNotFound, "schedule: %q", name)
	}
	return j.enabled, nil
}

// Fire runs the job now as a scheduled run. A disabled job is skipped with
// ErrJobDisabled.
func (c *Controller) Fire(ctx context.Context, name string) (*model.Outcome, error) {
	return c.fire(ctx, name, true)
}

// RunNow runs the job on operator request. It is recorded as a manual run;
// a disabled job is still skipped with ErrJobDisabled.
func (c *Controller) RunNow(ctx context.Context, name string) (*model.Outcome, error) {
	return c.fire(ctx, name, false)
}

func (c *Controller) fire(ctx context.Context, name string, scheduled bool) (*model.Outcome, error) {
	c.mu.RLock()
	j, ok := c.jobs[name]
	var (
		kind    model.SourceKind
		enabled bool
	)
	if ok {
		kind, enabled = j.kind, j.enabled
	}
	c.mu.RUnlock()

	if !ok {
		return nil, eris.Wrapf(ErrJobNotFound, "schedule: %q", name)
	}
	if !enabled {
		c.logger.Info("skipped: disabled", zap.String("job", name), zap.Bool("scheduled", scheduled))
		c.metrics.IncScheduleSkip(name)
		return nil, ErrJobDisabled
	}
	return c.runner.Run(ctx, kind, scheduled)
}

// fireScheduled is the cron entry point. Failures are logged and never stop
// the clock.
func (c *Controller) fireScheduled(name string) {
	c.mu.RLock()
	ctx := c.ctx
	c.mu.RUnlock()

	out, err := c.Fire(ctx, name)
	switch {
	case errors.Is(err, ErrJobDisabled):
	case err != nil:
		c.logger.Error("scheduled run error", zap.String("job", name), zap.Error(err))
	case !out.Success:
		c.logger.Warn("scheduled run failed", zap.String("job", name), zap.String("run_id", out.RunID), zap.String("message", out.Message))
	default:
		c.logger.Info("scheduled run complete", zap.String("job", name), zap.String("run_id", out.RunID), zap.String("message", out.Message))
	}
}

// Jobs returns the registered jobs in registration order. NextRun is set
// only while the clock is running.
func (c *Controller) Jobs() []model.ScheduledJob {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.ScheduledJob, 0, len(c.order))
	for _, name := range c.order {
		j := c.jobs[name]
		sj := model.ScheduledJob{Name: j.name, Kind: j.kind, Spec: j.spec, Enabled: j.enabled}
		if c.isRunning && j.enabled {
			if next := c.cron.Entry(j.entryID).Next; !next.IsZero() {
				sj.NextRun = &next
			}
		}
		out = append(out, sj)
	}
	return out
}

// Start starts the cron clock. Calling Start on a running controller is a
// no-op. A controller may be restarted after Stop.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isRunning {
		return
	}
	if c.ctx.Err() != nil {
		c.ctx, c.cancel = context.WithCancel(context.Background())
	}
	c.isRunning = true
	c.cron.Start()
	c.logger.Info("scheduler started", zap.Int("jobs", len(c.jobs)))
}

// Stop halts the clock and waits for in-flight scheduled runs until ctx is
// done, then cancels them.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	cancel := c.cancel
	c.mu.Unlock()

	done := c.cron.Stop()
	select {
	case <-done.Done():
		c.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		cancel()
		return eris.Wrap(ctx.Err(), "schedule: stop")
	}
}

// cronLogger adapts zap to cron.Logger. Routine cron chatter goes to debug.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
