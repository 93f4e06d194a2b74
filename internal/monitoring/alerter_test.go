package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pumpcast/internal/config"
	"github.com/sells-group/pumpcast/internal/model"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.HealthConfig{FailureRateThreshold: 0.5})

	snap := &RunSnapshot{
		Total:         10,
		Done:          9,
		Failed:        1,
		FailRate:      0.1,
		LastStatus:    model.RunStatusDone,
		LookbackHours: 168,
	}
	health := &HealthReport{
		Tables:   []TableHealth{{Name: "rbob_daily", Level: LevelWarn}, {Name: "temperature_daily", Level: LevelDisabled}},
		Gold:     ArtifactHealth{Name: "gold", Level: LevelOK},
		Forecast: ArtifactHealth{Name: "forecast", Level: LevelMissing},
	}

	assert.Empty(t, a.Evaluate(snap, health))
	assert.Empty(t, a.Evaluate(nil, nil))
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(config.HealthConfig{FailureRateThreshold: 0.5})

	snap := &RunSnapshot{
		Total:         5,
		Done:          2,
		Failed:        3,
		FailRate:      0.6,
		LastStatus:    model.RunStatusDone,
		LookbackHours: 168,
	}

	alerts := a.Evaluate(snap, nil)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "60.0%")
}

func TestAlerter_Evaluate_FailureRateNeedsSample(t *testing.T) {
	a := NewAlerter(config.HealthConfig{FailureRateThreshold: 0.5})
	snap := &RunSnapshot{Done: 1, Failed: 1, FailRate: 0.5, LastStatus: model.RunStatusDone}
	assert.Empty(t, a.Evaluate(snap, nil))

	snap = &RunSnapshot{Failed: 1, FailRate: 1}
	assert.Empty(t, a.Evaluate(snap, nil))
}

func TestAlerter_Evaluate_LastRunFailed(t *testing.T) {
	a := NewAlerter(config.HealthConfig{FailureRateThreshold: 0.9})

	snap := &RunSnapshot{
		Done:         4,
		Failed:       1,
		FailRate:     0.2,
		LastStatus:   model.RunStatusFailed,
		LastExitCode: 30,
		LastError:    "gold: empty_input",
	}

	alerts := a.Evaluate(snap, nil)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLastRunFailed, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "exit code 30")
	assert.Equal(t, 30, alerts[0].Details["exit_code"])
}

func TestAlerter_Evaluate_StaleData(t *testing.T) {
	a := NewAlerter(config.HealthConfig{FailureRateThreshold: 0.5})

	health := &HealthReport{
		Tables: []TableHealth{
			{Name: "rbob_daily", Level: LevelOK},
			{Name: "inventory_weekly", Level: LevelStale, AgeDays: 19, MaxAgeDays: 15, LastDate: model.Date(2024, 2, 16)},
			{Name: "hurricane_daily", Level: LevelMissing, MaxAgeDays: 550},
		},
		Gold:     ArtifactHealth{Name: "gold", Level: LevelMissing},
		Forecast: ArtifactHealth{Name: "forecast", Level: LevelStale, AgeHours: 200, MaxAgeHours: 192},
	}

	alerts := a.Evaluate(nil, health)
	require.Len(t, alerts, 4)
	for _, al := range alerts {
		assert.Equal(t, AlertStaleData, al.Type)
	}
	assert.Equal(t, "silver/inventory_weekly", alerts[0].Subject)
	assert.Contains(t, alerts[0].Message, "2024-02-16")
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Equal(t, "silver/hurricane_daily", alerts[1].Subject)
	assert.Contains(t, alerts[1].Message, "never")
	assert.Equal(t, "gold", alerts[2].Subject)
	assert.Equal(t, "high", alerts[2].Severity)
	assert.Equal(t, "forecast", alerts[3].Subject)
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.HealthConfig{WebhookURL: ts.URL})

	alerts := []Alert{
		{Type: AlertFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertStaleData, Severity: "medium", Subject: "silver/rbob_daily", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.HealthConfig{})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.HealthConfig{WebhookURL: "http://example.com"})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.HealthConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertLastRunFailed, Message: "test"}})
	assert.Equal(t, 0, sent)
}
