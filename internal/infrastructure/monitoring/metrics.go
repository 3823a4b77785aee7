package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the launcher. Each instance owns
// its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Startup metrics
	StartupDuration prometheus.Histogram
	StepDuration    *prometheus.HistogramVec
	StepFailures    *prometheus.CounterVec
	Ready           prometheus.Gauge

	// Update metrics
	UpdateChecks *prometheus.CounterVec

	// Error capture metrics
	ErrorsCaptured *prometheus.CounterVec
	ReporterEvents *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launcher_http_requests_total",
				Help: "Total number of shell API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "launcher_http_request_duration_seconds",
				Help:    "Shell API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		StartupDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "launcher_startup_duration_seconds",
				Help:    "Wall-clock time from launch until ready",
				Buckets: []float64{.5, 1, 2, 3, 5, 8, 13, 21},
			},
		),
		StepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "launcher_startup_step_duration_seconds",
				Help:    "Duration of each startup step",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"step"},
		),
		StepFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launcher_startup_step_failures_total",
				Help: "Startup steps that failed and were skipped",
			},
			[]string{"step"},
		),
		Ready: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "launcher_ready",
				Help: "1 once the UI shell may render",
			},
		),

		UpdateChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launcher_update_checks_total",
				Help: "OTA update checks by result",
			},
			[]string{"result"},
		),

		ErrorsCaptured: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launcher_errors_captured_total",
				Help: "Errors captured by the global handler",
			},
			[]string{"context", "fatal"},
		),
		ReporterEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launcher_reporter_events_total",
				Help: "Error reporter events by outcome",
			},
			[]string{"outcome"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "launcher_ws_connections",
				Help: "Number of connected UI shells",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launcher_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}
}

// Handler exposes the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Uptime reports how long the metrics collector has existed.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// RecordHTTPRequest records a shell API request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordStep records one startup step
func (m *Metrics) RecordStep(step string, duration time.Duration, failed bool) {
	m.StepDuration.WithLabelValues(step).Observe(duration.Seconds())
	if failed {
		m.StepFailures.WithLabelValues(step).Inc()
	}
}

// RecordStartup records total time to ready
func (m *Metrics) RecordStartup(duration time.Duration) {
	m.StartupDuration.Observe(duration.Seconds())
	m.Ready.Set(1)
}

// RecordUpdateCheck records an update check result ("available", "none", "error", "skipped")
func (m *Metrics) RecordUpdateCheck(result string) {
	m.UpdateChecks.WithLabelValues(result).Inc()
}

// RecordCapturedError records an error seen by the global handler
func (m *Metrics) RecordCapturedError(context string, fatal bool) {
	f := "false"
	if fatal {
		f = "true"
	}
	m.ErrorsCaptured.WithLabelValues(context, f).Inc()
}

// RecordReporterEvent records an error reporter outcome ("sent", "failed", "dropped")
func (m *Metrics) RecordReporterEvent(outcome string) {
	m.ReporterEvents.WithLabelValues(outcome).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}
