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

	"github.com/sells-group/taxbill-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertItemFailureRate AlertType = "item_failure_rate"
	AlertRunAborted      AlertType = "run_aborted"
	AlertDLQDepth        AlertType = "dlq_depth"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
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

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Item failure rate. A handful of items is too noisy to alert on.
	if snap.ItemsTotal >= 20 && snap.ItemFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertItemFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Item failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d items in last %dh)",
				snap.ItemFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.ItemsFailed, snap.ItemsTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.ItemFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.ItemsFailed,
				"items":        snap.ItemsTotal,
			},
			Timestamp: now,
		})
	}

	// Aborted runs.
	if snap.RunsAborted > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertRunAborted,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d run(s) aborted in last %dh",
				snap.RunsAborted, snap.LookbackHours,
			),
			Details: map[string]any{
				"aborted": snap.RunsAborted,
				"total":   snap.RunsTotal,
			},
			Timestamp: now,
		})
	}

	// Dead letter backlog.
	if a.cfg.DLQDepthThreshold > 0 && snap.DLQDepth > a.cfg.DLQDepthThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDLQDepth,
			Severity: "high",
			Message: fmt.Sprintf(
				"Dead letter queue depth %d exceeds threshold %d",
				snap.DLQDepth, a.cfg.DLQDepthThreshold,
			),
			Details: map[string]any{
				"depth":     snap.DLQDepth,
				"threshold": a.cfg.DLQDepthThreshold,
			},
			Timestamp: now,
		})
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
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
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
