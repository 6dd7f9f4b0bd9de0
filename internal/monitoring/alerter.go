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

	"github.com/open-justice/intervention-graph/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSessionFailureRate AlertType = "session_failure_rate"
	AlertReviewQueueBacklog AlertType = "review_queue_backlog"
)

// Alert is a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds and
// sends alerts via webhook when they are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter with the given monitoring config.
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

	// Fail rate is noise below a handful of finished sessions.
	finished := snap.SessionsCompleted + snap.SessionsFailed
	if finished >= 5 && snap.SessionFailRate > a.cfg.SessionFailRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSessionFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Research session failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.SessionFailRate*100, a.cfg.SessionFailRateThreshold*100,
				snap.SessionsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"fail_rate": snap.SessionFailRate,
				"threshold": a.cfg.SessionFailRateThreshold,
				"failed":    snap.SessionsFailed,
				"finished":  finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.QueueDepthThreshold > 0 && snap.QueuePending > a.cfg.QueueDepthThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertReviewQueueBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d items pending review exceeds threshold %d",
				snap.QueuePending, a.cfg.QueueDepthThreshold,
			),
			Details: map[string]any{
				"pending":   snap.QueuePending,
				"threshold": a.cfg.QueueDepthThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL and returns the
// number successfully sent.
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
