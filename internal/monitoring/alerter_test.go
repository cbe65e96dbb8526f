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

	"github.com/sells-group/sales-agent/internal/config"
	"github.com/sells-group/sales-agent/internal/model"
)

func testAlertCfg() config.MonitoringConfig {
	return config.MonitoringConfig{
		DisqualifyRateThreshold: 0.70,
		MinWinRate:              0.10,
		MaxPendingSuggestions:   20,
		StaleDeferredAlertMin:   1,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testAlertCfg())

	snap := &MetricsSnapshot{
		PhaseCounts: map[model.Phase]int{
			model.PhaseDiscovered:   10,
			model.PhaseEngaging:     8,
			model.PhaseDisqualified: 4,
		},
		TotalLeads:         22,
		DisqualifyRate:     4.0 / 12.0,
		OutcomesWon:        3,
		OutcomesLost:       5,
		WinRate:            3.0 / 8.0,
		PendingSuggestions: 2,
		LookbackHours:      24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_DisqualifyRate(t *testing.T) {
	a := NewAlerter(testAlertCfg())

	snap := &MetricsSnapshot{
		PhaseCounts: map[model.Phase]int{
			model.PhaseDisqualified: 9,
			model.PhaseEngaging:     3,
		},
		TotalLeads:     12,
		DisqualifyRate: 0.75, // 9/12 decided
		LookbackHours:  24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertDisqualifyRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "75.0%")
}

func TestAlerter_Evaluate_StaleDeferred(t *testing.T) {
	a := NewAlerter(testAlertCfg())

	snap := &MetricsSnapshot{
		DeferredLeads: 5,
		StaleDeferred: 3,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleDeferred, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "3 deferred")
}

func TestAlerter_Evaluate_LowWinRate(t *testing.T) {
	a := NewAlerter(testAlertCfg())

	snap := &MetricsSnapshot{
		OutcomesWon:   0,
		OutcomesLost:  8,
		WinRate:       0.0,
		LookbackHours: 168,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLowWinRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "0 won / 8 closed")
}

func TestAlerter_Evaluate_SuggestionBacklog(t *testing.T) {
	a := NewAlerter(testAlertCfg())

	snap := &MetricsSnapshot{
		PendingSuggestions: 25,
		LookbackHours:      24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSuggestionBacklog, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "25 learning suggestion")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(testAlertCfg())

	snap := &MetricsSnapshot{
		PhaseCounts: map[model.Phase]int{
			model.PhaseDisqualified: 10,
			model.PhaseEngaging:     2,
		},
		TotalLeads:         12,
		DisqualifyRate:     10.0 / 12.0,
		StaleDeferred:      2,
		OutcomesWon:        0,
		OutcomesLost:       6,
		WinRate:            0.0,
		PendingSuggestions: 30,
		LookbackHours:      168,
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 4)

	types := make(map[AlertType]bool)
	for _, al := range alerts {
		types[al.Type] = true
	}
	assert.True(t, types[AlertDisqualifyRate])
	assert.True(t, types[AlertStaleDeferred])
	assert.True(t, types[AlertLowWinRate])
	assert.True(t, types[AlertSuggestionBacklog])
}

func TestAlerter_Evaluate_MinimumSampleSizes(t *testing.T) {
	a := NewAlerter(testAlertCfg())

	// 4 decided leads and 3 closed outcomes — both below the minimums.
	snap := &MetricsSnapshot{
		PhaseCounts: map[model.Phase]int{
			model.PhaseDisqualified: 4,
		},
		TotalLeads:     4,
		DisqualifyRate: 1.0,
		OutcomesWon:    0,
		OutcomesLost:   3,
		WinRate:        0.0,
		LookbackHours:  24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_StaleDeferredDisabled(t *testing.T) {
	cfg := testAlertCfg()
	cfg.StaleDeferredAlertMin = 0 // disabled
	a := NewAlerter(cfg)

	snap := &MetricsSnapshot{
		StaleDeferred: 10,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertDisqualifyRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertStaleDeferred, Severity: "medium", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertDisqualifyRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertLowWinRate, Message: "test"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 0, sent)
}
