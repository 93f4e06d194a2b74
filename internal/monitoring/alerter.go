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

	"github.com/sells-group/pumpcast/internal/config"
	"github.com/sells-group/pumpcast/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate   AlertType = "run_failure_rate"
	AlertLastRunFailed AlertType = "last_run_failed"
	AlertStaleData     AlertType = "stale_data"
)

// minFinishedRuns guards the failure rate against tiny samples.
const minFinishedRuns = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Subject   string         `json:"subject,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates run snapshots and health reports against configured
// thresholds and sends alerts via webhook.
type Alerter struct {
	cfg    config.HealthConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given health config.
func NewAlerter(cfg config.HealthConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Evaluate returns the alerts raised by snap and health. Either may be nil.
func (a *Alerter) Evaluate(snap *RunSnapshot, health *HealthReport) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	if snap != nil {
		finished := snap.Done + snap.Failed
		if finished >= minFinishedRuns && snap.FailRate > a.cfg.FailureRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertFailureRate,
				Severity: "high",
				Message: fmt.Sprintf(
					"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
					snap.FailRate*100, a.cfg.FailureRateThreshold*100,
					snap.Failed, finished, snap.LookbackHours,
				),
				Details: map[string]any{
					"failure_rate": snap.FailRate,
					"threshold":    a.cfg.FailureRateThreshold,
					"failed":       snap.Failed,
					"finished":     finished,
				},
				Timestamp: now,
			})
		}
		if snap.LastStatus == model.RunStatusFailed {
			alerts = append(alerts, Alert{
				Type:      AlertLastRunFailed,
				Severity:  "high",
				Message:   fmt.Sprintf("Last pipeline run failed with exit code %d: %s", snap.LastExitCode, snap.LastError),
				Details:   map[string]any{"exit_code": snap.LastExitCode},
				Timestamp: now,
			})
		}
	}

	if health != nil {
		for _, t := range health.Tables {
			if t.Level != LevelStale && t.Level != LevelMissing {
				continue
			}
			alerts = append(alerts, Alert{
				Type:     AlertStaleData,
				Severity: "medium",
				Subject:  "silver/" + t.Name,
				Message:  fmt.Sprintf("Silver table %s is %s (last date %s, max age %dd)", t.Name, t.Level, day(t.LastDate), t.MaxAgeDays),
				Details: map[string]any{
					"age_days":     t.AgeDays,
					"max_age_days": t.MaxAgeDays,
				},
				Timestamp: now,
			})
		}
		for _, ah := range []ArtifactHealth{health.Gold, health.Forecast} {
			if ah.Level != LevelStale && !(ah.Name == "gold" && ah.Level == LevelMissing) {
				continue
			}
			alerts = append(alerts, Alert{
				Type:     AlertStaleData,
				Severity: "high",
				Subject:  ah.Name,
				Message:  fmt.Sprintf("%s artifact is %s (%.1fh old, max %dh)", ah.Name, ah.Level, ah.AgeHours, ah.MaxAgeHours),
				Details: map[string]any{
					"age_hours":     ah.AgeHours,
					"max_age_hours": ah.MaxAgeHours,
				},
				Timestamp: now,
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
