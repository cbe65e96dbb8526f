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

	"github.com/sells-group/sales-agent/internal/config"
	"github.com/sells-group/sales-agent/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertDisqualifyRate    AlertType = "disqualify_rate"
	AlertStaleDeferred     AlertType = "stale_deferred"
	AlertLowWinRate        AlertType = "low_win_rate"
	AlertSuggestionBacklog AlertType = "suggestion_backlog"
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

	// Check the disqualification rate. A very high rate usually means the
	// active ICP profile no longer matches the lists being imported.
	decided := snap.TotalLeads - snap.PhaseCounts[model.PhaseDiscovered] - snap.PhaseCounts[model.PhasePreQualifying]
	if decided >= 10 && snap.DisqualifyRate > a.cfg.DisqualifyRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDisqualifyRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Disqualification rate %.1f%% exceeds threshold %.1f%% (%d leads decided)",
				snap.DisqualifyRate*100, a.cfg.DisqualifyRateThreshold*100, decided,
			),
			Details: map[string]any{
				"disqualify_rate": snap.DisqualifyRate,
				"threshold":       a.cfg.DisqualifyRateThreshold,
				"decided":         decided,
			},
			Timestamp: now,
		})
	}

	// Check stale deferred leads awaiting manual review.
	if snap.StaleDeferred >= a.cfg.StaleDeferredAlertMin && a.cfg.StaleDeferredAlertMin > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStaleDeferred,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d deferred lead(s) past the stale window need manual review",
				snap.StaleDeferred,
			),
			Details: map[string]any{
				"stale_deferred": snap.StaleDeferred,
				"deferred_total": snap.DeferredLeads,
			},
			Timestamp: now,
		})
	}

	// Check win rate over the lookback window.
	if closed := snap.OutcomesWon + snap.OutcomesLost; closed >= 5 && snap.WinRate < a.cfg.MinWinRate {
		alerts = append(alerts, Alert{
			Type:     AlertLowWinRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Win rate %.1f%% below threshold %.1f%% (%d won / %d closed in last %dh)",
				snap.WinRate*100, a.cfg.MinWinRate*100,
				snap.OutcomesWon, closed, snap.LookbackHours,
			),
			Details: map[string]any{
				"win_rate":  snap.WinRate,
				"threshold": a.cfg.MinWinRate,
				"won":       snap.OutcomesWon,
				"closed":    closed,
			},
			Timestamp: now,
		})
	}

	// Check learning suggestion backlog.
	if a.cfg.MaxPendingSuggestions > 0 && snap.PendingSuggestions > a.cfg.MaxPendingSuggestions {
		alerts = append(alerts, Alert{
			Type:     AlertSuggestionBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d learning suggestion(s) pending review exceeds limit %d",
				snap.PendingSuggestions, a.cfg.MaxPendingSuggestions,
			),
			Details: map[string]any{
				"pending": snap.PendingSuggestions,
				"limit":   a.cfg.MaxPendingSuggestions,
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
