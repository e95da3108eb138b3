package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/etrends/internal/config"
	"github.com/sells-group/etrends/internal/metrics"
)

const defaultCheckInterval = 15 * time.Minute

// Report is the result of one health check.
type Report struct {
	Snapshot *Snapshot `json:"snapshot"`
	Alerts   []Alert   `json:"alerts"`
}

// Checker runs periodic health checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	metrics   *metrics.Metrics
	cfg       config.MonitoringConfig
}

// NewChecker creates a background health checker. m may be nil.
func NewChecker(collector *Collector, alerter *Alerter, m *metrics.Metrics, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		metrics:   m,
		cfg:       cfg,
	}
}

// Check collects a snapshot and evaluates it without sending anything.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		return nil, err
	}
	alerts := c.alerter.Evaluate(snap)
	if alerts == nil {
		alerts = []Alert{}
	}
	return &Report{Snapshot: snap, Alerts: alerts}, nil
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting health checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	report, err := c.Check(ctx)
	if err != nil {
		log.Error("monitoring: failed to collect health", zap.Error(err))
		return
	}

	for _, h := range report.Snapshot.Kinds {
		if h.LastSuccess != nil {
			c.metrics.SetDataAge(h.Kind, report.Snapshot.CollectedAt.Sub(*h.LastSuccess))
		}
	}

	if len(report.Alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return
	}
	for _, a := range report.Alerts {
		c.metrics.IncAlert(string(a.Type), a.Kind)
		log.Warn("monitoring: "+a.Message, zap.String("type", string(a.Type)), zap.String("kind", string(a.Kind)))
	}

	sent := c.alerter.SendAlerts(ctx, report.Alerts)
	log.Info("monitoring: health check complete",
		zap.Int("alerts_triggered", len(report.Alerts)),
		zap.Int("alerts_sent", sent),
	)
}
