// Package metrics exposes Prometheus instrumentation for callbridge
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for callbridge
type Metrics struct {
	registry *prometheus.Registry

	// Bridge metrics
	ActiveBridges   prometheus.Gauge
	BridgesStarted  prometheus.Counter
	BridgesFinished prometheus.Counter
	BridgeDuration  prometheus.Histogram
	SetupFailures   *prometheus.CounterVec
	FramesRelayed   *prometheus.CounterVec
	ParseErrors     *prometheus.CounterVec

	// Dashboard metrics
	BroadcastFailures prometheus.Counter

	// Call record metrics
	WebhooksReceived *prometheus.CounterVec
	CallsInitiated   *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics on a fresh registry that also carries the
// Go runtime and process collectors
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Bridge metrics
		ActiveBridges: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callbridge_active_bridges",
			Help: "Current number of relayed calls",
		}),
		BridgesStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_bridges_started_total",
			Help: "Total number of calls whose agent leg connected",
		}),
		BridgesFinished: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_bridges_finished_total",
			Help: "Total number of relayed calls torn down",
		}),
		BridgeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callbridge_bridge_duration_seconds",
			Help:    "Duration of relayed calls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		SetupFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_setup_failures_total",
			Help: "Total number of calls whose agent leg never connected",
		}, []string{"reason"}),
		FramesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_frames_relayed_total",
			Help: "Total number of frames written to either leg",
		}, []string{"direction"}),
		ParseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_parse_errors_total",
			Help: "Total number of malformed inbound frames",
		}, []string{"leg"}),

		// Dashboard metrics
		BroadcastFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "callbridge_dashboard_broadcast_failures_total",
			Help: "Total number of dashboard observers dropped after a failed send",
		}),

		// Call record metrics
		WebhooksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_webhooks_received_total",
			Help: "Total number of post-call webhooks by outcome",
		}, []string{"outcome"}),
		CallsInitiated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_calls_initiated_total",
			Help: "Total number of outbound call attempts by result",
		}, []string{"result"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callbridge_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callbridge_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// BridgeStarted records a call whose both legs are up
func (m *Metrics) BridgeStarted() {
	m.BridgesStarted.Inc()
	m.ActiveBridges.Inc()
}

// BridgeEnded records a torn-down call and its duration
func (m *Metrics) BridgeEnded(d time.Duration) {
	m.BridgesFinished.Inc()
	m.ActiveBridges.Dec()
	m.BridgeDuration.Observe(d.Seconds())
}

// SetupFailed records a call whose agent leg never connected
func (m *Metrics) SetupFailed(reason string) {
	m.SetupFailures.WithLabelValues(reason).Inc()
}

// FrameRelayed increments the frame counter for a direction
func (m *Metrics) FrameRelayed(direction string) {
	m.FramesRelayed.WithLabelValues(direction).Inc()
}

// ParseFailed increments the parse error counter for a leg
func (m *Metrics) ParseFailed(leg string) {
	m.ParseErrors.WithLabelValues(leg).Inc()
}

// BroadcastFailed increments the dropped observer counter
func (m *Metrics) BroadcastFailed() {
	m.BroadcastFailures.Inc()
}

// RecordWebhook records a processed post-call webhook
func (m *Metrics) RecordWebhook(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.WebhooksReceived.WithLabelValues(outcome).Inc()
}

// RecordCallInitiated records an outbound call attempt
func (m *Metrics) RecordCallInitiated(ok bool) {
	result := "success"
	if !ok {
		result = "error"
	}
	m.CallsInitiated.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// GinMiddleware records every request under its route pattern
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}
