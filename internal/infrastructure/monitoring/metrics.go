package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Module loader metrics
	Requires      *prometheus.CounterVec
	ModulesCached prometheus.Gauge

	// Package manager metrics
	Installs        *prometheus.CounterVec
	InstallDuration prometheus.Histogram
	PackagesWritten prometheus.Counter

	// Sandbox metrics
	SandboxCalls    *prometheus.CounterVec
	SandboxDuration *prometheus.HistogramVec
	FramesDropped   *prometheus.CounterVec

	// Filesystem sync metrics
	SyncFrames *prometheus.CounterVec

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a metrics collector on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates a metrics collector on reg. Tests pass their
// own registry so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webnode_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webnode_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webnode_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		Requires: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webnode_requires_total",
				Help: "Total number of require calls by outcome",
			},
			[]string{"outcome"},
		),
		ModulesCached: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webnode_modules_cached",
				Help: "Number of modules in the loader cache",
			},
		),
		Installs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webnode_installs_total",
				Help: "Total number of package installs by outcome",
			},
			[]string{"outcome"},
		),
		InstallDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webnode_install_duration_seconds",
				Help:    "Install duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		PackagesWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webnode_packages_written_total",
				Help: "Total number of packages written to the filesystem",
			},
		),

		SandboxCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webnode_sandbox_calls_total",
				Help: "Total number of sandbox calls",
			},
			[]string{"type", "status"},
		),
		SandboxDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webnode_sandbox_call_duration_seconds",
				Help:    "Sandbox call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"type"},
		),
		FramesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webnode_sandbox_frames_dropped_total",
				Help: "Frames dropped at the boundary by reason",
			},
			[]string{"reason"},
		),

		SyncFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webnode_fs_sync_frames_total",
				Help: "Filesystem sync frames sent to the sandbox",
			},
			[]string{"kind"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webnode_sessions_active",
				Help: "Number of active REPL sessions",
			},
		),
		SessionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webnode_sessions_total",
				Help: "Total number of REPL sessions created",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webnode_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webnode_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
	}
	return m
}

// TickUptime refreshes the uptime gauge. Callers own the schedule.
func (m *Metrics) TickUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

// RecordRequire records one require call. Outcome is cache_hit,
// loaded, or failed.
func (m *Metrics) RecordRequire(outcome string) {
	m.Requires.WithLabelValues(outcome).Inc()
}

// RecordInstall records one install call.
func (m *Metrics) RecordInstall(outcome string, packages int, duration time.Duration) {
	m.Installs.WithLabelValues(outcome).Inc()
	m.InstallDuration.Observe(duration.Seconds())
	if packages > 0 {
		m.PackagesWritten.Add(float64(packages))
	}
}

// RecordSandboxCall records one boundary round trip.
func (m *Metrics) RecordSandboxCall(callType, status string, duration time.Duration) {
	m.SandboxCalls.WithLabelValues(callType, status).Inc()
	m.SandboxDuration.WithLabelValues(callType).Observe(duration.Seconds())
}

// RecordDroppedFrame records a frame rejected at the boundary.
func (m *Metrics) RecordDroppedFrame(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordSyncFrame records one filesystem sync frame.
func (m *Metrics) RecordSyncFrame(kind string) {
	m.SyncFrames.WithLabelValues(kind).Inc()
}
