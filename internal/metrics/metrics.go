// Package metrics exposes the engine's Prometheus metrics on a private
// registry, so several engines (tests) never collide on global state.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "playtrack"

// Metrics is the collection of engine metrics.
type Metrics struct {
	registry *prometheus.Registry

	PollCycles    *prometheus.CounterVec
	PollDelay     prometheus.Gauge
	ActiveGames   prometheus.Gauge
	Commands      *prometheus.CounterVec
	DriftChecks   *prometheus.CounterVec
	Uploads       *prometheus.CounterVec
	Imports       *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	BridgeClients prometheus.Gauge
}

// New creates and registers every metric plus the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.PollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Completed status poll cycles by outcome.",
		},
		[]string{"outcome"},
	)

	m.PollDelay = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_delay_seconds",
			Help:      "Delay before the next scheduled status poll.",
		},
	)

	m.ActiveGames = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_games",
			Help:      "Games running, paused or awaiting end confirmation.",
		},
	)

	m.Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_commands_total",
			Help:      "Session commands forwarded to the process monitor.",
		},
		[]string{"command", "result"},
	)

	m.DriftChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drift_checks_total",
			Help:      "Save drift checks by outcome.",
		},
		[]string{"outcome"},
	)

	m.Uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_uploads_total",
			Help:      "Save folder uploads by result.",
		},
		[]string{"result"},
	)

	m.Imports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_imports_total",
			Help:      "Catalog entry imports by result.",
		},
		[]string{"result"},
	)

	m.Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "User notifications by level.",
		},
		[]string{"level"},
	)

	m.BridgeClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_clients",
			Help:      "Connected UI bridge clients.",
		},
	)

	m.registry.MustRegister(
		m.PollCycles,
		m.PollDelay,
		m.ActiveGames,
		m.Commands,
		m.DriftChecks,
		m.Uploads,
		m.Imports,
		m.Notifications,
		m.BridgeClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObservePoll records one poll cycle. A negative delay means the loop stopped.
func (m *Metrics) ObservePoll(err error, active int, delay time.Duration) {
	m.PollCycles.WithLabelValues(outcome(err)).Inc()
	m.ActiveGames.Set(float64(active))

	if delay >= 0 {
		m.PollDelay.Set(delay.Seconds())
	}
}

// ObserveCommand records a forwarded session command.
func (m *Metrics) ObserveCommand(command string, err error) {
	m.Commands.WithLabelValues(command, outcome(err)).Inc()
}

// ObserveDrift records a drift check outcome.
func (m *Metrics) ObserveDrift(result string) {
	m.DriftChecks.WithLabelValues(result).Inc()
}

// ObserveUpload records a finished upload.
func (m *Metrics) ObserveUpload(err error) {
	m.Uploads.WithLabelValues(outcome(err)).Inc()
}

// ObserveImport records one catalog import attempt.
func (m *Metrics) ObserveImport(err error) {
	m.Imports.WithLabelValues(outcome(err)).Inc()
}

// ObserveNotification counts a notification.
func (m *Metrics) ObserveNotification(level string) {
	m.Notifications.WithLabelValues(level).Inc()
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}

	return "ok"
}
