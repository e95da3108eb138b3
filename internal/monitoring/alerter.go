package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/etrends/internal/config"
	"github.com/sells-group/etrends/internal/model"
)

// minFinished is the run count below which failure rate is not judged.
const minFinished = 3

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate AlertType = "acquisition_failure_rate"
	AlertStaleData   AlertType = "stale_data"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType        `json:"type"`
	Kind      model.SourceKind `json:"kind"`
	Severity  string           `json:"severity"`
	Message   string           `json:"message"`
	Details   map[string]any   `json:"details,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *Alerter) staleAfter(kind model.SourceKind) time.Duration {
	hours := a.cfg.LocalStaleHours
	if kind == model.SourceFederal {
		hours = a.cfg.FederalStaleHours
	}
	return time.Duration(hours) * time.Hour
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert

	for _, h := range snap.Kinds {
		if h.Total >= minFinished && h.FailRate > a.cfg.FailureRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertFailureRate,
				Kind:     h.Kind,
				Severity: "high",
				Message: fmt.Sprintf(
					"%s acquisition failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d runs in last %dh)",
					h.Kind.Title(), h.FailRate*100, a.cfg.FailureRateThreshold*100,
					h.Failed, h.Total, snap.LookbackHours,
				),
				Details: map[string]any{
					"failure_rate": h.FailRate,
					"threshold":    a.cfg.FailureRateThreshold,
					"failed":       h.Failed,
					"total":        h.Total,
				},
				Timestamp: snap.CollectedAt,
			})
		}

		limit := a.staleAfter(h.Kind)
		if limit <= 0 {
			continue
		}
		switch {
		case h.LastSuccess == nil:
			alerts = append(alerts, Alert{
				Type:      AlertStaleData,
				Kind:      h.Kind,
				Severity:  "medium",
				Message:   fmt.Sprintf("%s acquisition has never succeeded", h.Kind.Title()),
				Timestamp: snap.CollectedAt,
			})
		case snap.CollectedAt.Sub(*h.LastSuccess) > limit:
			age := snap.CollectedAt.Sub(*h.LastSuccess).Round(time.Minute)
			alerts = append(alerts, Alert{
				Type:     AlertStaleData,
				Kind:     h.Kind,
				Severity: "medium",
				Message: fmt.Sprintf("%s data is stale: last success %s ago (limit %s)",
					h.Kind.Title(), age, limit),
				Details: map[string]any{
					"last_success": h.LastSuccess,
					"age_hours":    age.Hours(),
				},
				Timestamp: snap.CollectedAt,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.String("kind", string(alert.Kind)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("kind", string(alert.Kind)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
