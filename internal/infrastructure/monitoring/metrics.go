package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. It satisfies the recorder
// interfaces of the terminal and install packages.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// PTY session metrics
	SessionsActive *prometheus.GaugeVec
	SessionsTotal  *prometheus.CounterVec
	SessionOutput  *prometheus.CounterVec

	// Install workflow metrics
	InstallSteps *prometheus.HistogramVec

	// Status bridge metrics
	Transitions *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a metrics collector on its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry:  registry,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launcher_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "launcher_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		SessionsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "launcher_sessions_active",
				Help: "Number of live PTY sessions",
			},
			[]string{"role"},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launcher_sessions_total",
				Help: "Total number of PTY sessions created",
			},
			[]string{"role"},
		),
		SessionOutput: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launcher_session_output_bytes_total",
				Help: "Bytes of PTY output delivered per role",
			},
			[]string{"role"},
		),

		InstallSteps: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "launcher_install_step_duration_seconds",
				Help:    "Install workflow step duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"step"},
		),

		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launcher_status_transitions_total",
				Help: "Accepted status transitions per role and state",
			},
			[]string{"role", "state"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "launcher_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launcher_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "launcher_uptime_seconds",
				Help: "Daemon uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// Handler serves this collector's registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SessionOpened records a new PTY session.
func (m *Metrics) SessionOpened(role string) {
	m.SessionsActive.WithLabelValues(role).Inc()
	m.SessionsTotal.WithLabelValues(role).Inc()
}

// SessionClosed records a PTY session exit.
func (m *Metrics) SessionClosed(role string) {
	m.SessionsActive.WithLabelValues(role).Dec()
}

// SessionBytes records delivered PTY output.
func (m *Metrics) SessionBytes(role string, n int) {
	m.SessionOutput.WithLabelValues(role).Add(float64(n))
}

// InstallStepDuration records the wall time of one install step.
func (m *Metrics) InstallStepDuration(step string, seconds float64) {
	m.InstallSteps.WithLabelValues(step).Observe(seconds)
}

// StatusTransition records an accepted state machine transition.
func (m *Metrics) StatusTransition(role, state string) {
	m.Transitions.WithLabelValues(role, state).Inc()
}

// RecordWSMessage records a WebSocket message.
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections.
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections.
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}
