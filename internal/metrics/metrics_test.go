package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue finds a counter or gauge sample by name and label values.
func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}

		for _, metric := range mf.GetMetric() {
			if matchLabels(metric, labels) {
				if c := metric.GetCounter(); c != nil {
					return c.GetValue()
				}

				return metric.GetGauge().GetValue()
			}
		}
	}

	require.FailNow(t, "metric not found", name)

	return 0
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) != len(labels) {
		return false
	}

	for _, lp := range metric.GetLabel() {
		if labels[lp.GetName()] != lp.GetValue() {
			return false
		}
	}

	return true
}

func TestObservePoll(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObservePoll(nil, 2, time.Second)
	m.ObservePoll(errors.New("boom"), 0, 3*time.Second)
	m.ObservePoll(nil, 0, -1)

	assert.InDelta(t, 2.0, counterValue(t, m, "playtrack_poll_cycles_total", map[string]string{"outcome": "ok"}), 0)
	assert.InDelta(t, 1.0, counterValue(t, m, "playtrack_poll_cycles_total", map[string]string{"outcome": "error"}), 0)
	assert.InDelta(t, 3.0, counterValue(t, m, "playtrack_poll_delay_seconds", nil), 0, "stopped loop keeps last delay")
	assert.InDelta(t, 0.0, counterValue(t, m, "playtrack_active_games", nil), 0)
}

func TestObserveOutcomes(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveCommand("pause", nil)
	m.ObserveCommand("end", errors.New("no session"))
	m.ObserveDrift("drift")
	m.ObserveUpload(nil)
	m.ObserveImport(errors.New("quota"))
	m.ObserveNotification("error")

	assert.InDelta(t, 1.0, counterValue(t, m, "playtrack_session_commands_total",
		map[string]string{"command": "end", "result": "error"}), 0)
	assert.InDelta(t, 1.0, counterValue(t, m, "playtrack_drift_checks_total", map[string]string{"outcome": "drift"}), 0)
	assert.InDelta(t, 1.0, counterValue(t, m, "playtrack_save_uploads_total", map[string]string{"result": "ok"}), 0)
	assert.InDelta(t, 1.0, counterValue(t, m, "playtrack_catalog_imports_total", map[string]string{"result": "error"}), 0)
	assert.InDelta(t, 1.0, counterValue(t, m, "playtrack_notifications_total", map[string]string{"level": "error"}), 0)
}

func TestHandler_ServesPrivateRegistry(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveDrift("in_sync")

	// A second instance must not panic on duplicate registration.
	_ = New()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `playtrack_drift_checks_total{outcome="in_sync"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
