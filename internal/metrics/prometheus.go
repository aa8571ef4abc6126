// Package metrics provides Prometheus instrumentation for the notes gateway.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "m4a_notes"

// maxLabelLen is the maximum length for a metric label value.
const maxLabelLen = 64

// PrometheusMetrics holds the gateway's collectors. A nil *PrometheusMetrics is
// valid and records nothing, so components can be built without instrumentation.
type PrometheusMetrics struct {
	registry prometheus.Gatherer

	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
	EntitlementFetches *prometheus.CounterVec
	PurchaseVerdicts   *prometheus.CounterVec
	WebhookEvents      *prometheus.CounterVec
	UploadURLs         *prometheus.CounterVec
	ProxyErrors        *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
// Registering twice on the same registry fails.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled by route, method and status code.",
		}, []string{"route", "method", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		EntitlementFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entitlement",
			Name:      "fetch_total",
			Help:      "Entitlement lookups by outcome (ok, missing, fallback).",
		}, []string{"outcome"}),
		PurchaseVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "purchase",
			Name:      "validations_total",
			Help:      "Purchase validations by reason.",
		}, []string{"reason"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Billing webhook events by type and result.",
		}, []string{"event_type", "result"}),
		UploadURLs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "upload_urls_total",
			Help:      "Pre-authorized upload URLs issued by result.",
		}, []string{"result"}),
		ProxyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "errors_total",
			Help:      "Worker proxy failures by route.",
		}, []string{"route"}),
	}

	for _, c := range []prometheus.Collector{
		m.HTTPRequests, m.HTTPDuration, m.EntitlementFetches,
		m.PurchaseVerdicts, m.WebhookEvents, m.UploadURLs, m.ProxyErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.registry = g
	}
	return m, nil
}

// NewRegistry returns a registry preloaded with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// RecordEntitlementFetch counts an entitlement lookup outcome.
func (m *PrometheusMetrics) RecordEntitlementFetch(outcome string) {
	if m == nil {
		return
	}
	m.EntitlementFetches.WithLabelValues(sanitizeLabel(outcome)).Inc()
}

// RecordPurchaseVerdict counts a purchase validation by reason.
func (m *PrometheusMetrics) RecordPurchaseVerdict(reason string) {
	if m == nil {
		return
	}
	m.PurchaseVerdicts.WithLabelValues(sanitizeLabel(reason)).Inc()
}

// RecordWebhookEvent counts a billing event by type and result.
func (m *PrometheusMetrics) RecordWebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(sanitizeLabel(eventType), sanitizeLabel(result)).Inc()
}

// RecordUploadURL counts an upload URL issuance.
func (m *PrometheusMetrics) RecordUploadURL(result string) {
	if m == nil {
		return
	}
	m.UploadURLs.WithLabelValues(sanitizeLabel(result)).Inc()
}

// RecordProxyError counts a failed proxied request.
func (m *PrometheusMetrics) RecordProxyError(route string) {
	if m == nil {
		return
	}
	m.ProxyErrors.WithLabelValues(sanitizeLabel(route)).Inc()
}

// Middleware records request counts and latency keyed by the matched route
// template, so path parameters do not explode label cardinality.
func (m *PrometheusMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *PrometheusMetrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}
