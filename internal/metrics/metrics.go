// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the gateway.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	EventSubscribers prometheus.Gauge
	ServedBytes      prometheus.Counter

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	InterceptDecisions   *prometheus.CounterVec
	ClientRebuilds       *prometheus.CounterVec
	MediaDetections      prometheus.Counter
	NotificationsDropped *prometheus.CounterVec
	DoHQueries           *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webgate_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webgate_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webgate_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		EventSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webgate_event_subscribers",
			Help: "Open event stream connections.",
		}),

		ServedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webgate_served_bytes_total",
			Help: "Body bytes relayed for served intercepts.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webgate_upstream_request_duration_seconds",
			Help:    "Refetch latency up to response headers, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webgate_upstream_responses_total",
			Help: "Total refetch responses by method and status code.",
		}, []string{"method", "status_code"}),

		InterceptDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webgate_intercept_decisions_total",
			Help: "Intercept outcomes by decision.",
		}, []string{"decision"}),

		ClientRebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webgate_client_rebuilds_total",
			Help: "HTTP client rebuilds by mode (direct, proxy, failed).",
		}, []string{"mode"}),

		MediaDetections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webgate_media_detections_total",
			Help: "Requests matching the streaming-media heuristic.",
		}),

		NotificationsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webgate_notifications_dropped_total",
			Help: "Notification events dropped because the queue was full.",
		}, []string{"kind"}),

		DoHQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webgate_doh_queries_total",
			Help: "DNS-over-HTTPS lookups by result (hit, ok, error).",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.EventSubscribers,
		m.ServedBytes,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.InterceptDecisions,
		m.ClientRebuilds,
		m.MediaDetections,
		m.NotificationsDropped,
		m.DoHQueries,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/intercept", "/navigation", "/settings", "/events", "/healthz", "/gateway/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
