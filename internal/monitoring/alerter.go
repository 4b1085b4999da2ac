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

	"github.com/sells-group/lead-ingest/internal/config"
	"github.com/sells-group/lead-ingest/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertNotificationFailureRate AlertType = "notification_failure_rate"
	AlertRowSkipRate             AlertType = "row_skip_rate"
	AlertDeadLetterBacklog       AlertType = "dead_letter_backlog"
)

// minHandled is the number of handled notifications needed before a failure
// rate is meaningful.
const minHandled = 5

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
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.NewRetryConfig(3, 500*time.Millisecond, 5*time.Second)
	retry.OnRetry = resilience.LogRetry("webhook", "send_alert")
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// A zero skip-rate or dead-letter threshold disables that check.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	handled := snap.NotifyProcessed + snap.NotifyFailed
	if handled >= minHandled && snap.NotifyFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertNotificationFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Notification failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d handled)",
				snap.NotifyFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.NotifyFailed, handled,
			),
			Details: map[string]any{
				"failure_rate": snap.NotifyFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.NotifyFailed,
				"handled":      handled,
			},
			Timestamp: now,
		})
	}

	if a.cfg.SkipRateThreshold > 0 && snap.SkipRate > a.cfg.SkipRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRowSkipRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Row skip rate %.1f%% exceeds threshold %.1f%% (%d skipped / %d parsed across %d loads in last %dh)",
				snap.SkipRate*100, a.cfg.SkipRateThreshold*100,
				snap.RowsSkipped, snap.RowsParsed, snap.Loads, snap.LookbackHours,
			),
			Details: map[string]any{
				"skip_rate":     snap.SkipRate,
				"threshold":     a.cfg.SkipRateThreshold,
				"rows_skipped":  snap.RowsSkipped,
				"partial_loads": snap.PartialLoads,
			},
			Timestamp: now,
		})
	}

	if a.cfg.DeadLetterThreshold > 0 && snap.DeadLetters >= a.cfg.DeadLetterThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDeadLetterBacklog,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d notification(s) parked in dead letters (threshold %d)",
				snap.DeadLetters, a.cfg.DeadLetterThreshold,
			),
			Details: map[string]any{
				"dead_letters": snap.DeadLetters,
				"threshold":    a.cfg.DeadLetterThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts posts each alert to the webhook, retrying 408/429/5xx
// responses, and returns how many were accepted. Delivery failures are logged.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	return len(a.deliver(ctx, alerts))
}

// deliver returns the alerts the webhook accepted.
func (a *Alerter) deliver(ctx context.Context, alerts []Alert) []Alert {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return nil
	}

	var sent []Alert
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.post(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: alert not delivered",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent = append(sent, alert)
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
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
	_ = resp.Body.Close()

	if resp.StatusCode < 300 {
		return nil
	}
	statusErr := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.NewTransientError(statusErr, resp.StatusCode)
	}
	return statusErr
}
