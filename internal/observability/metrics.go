package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	certificatesGeneratedTotal prometheus.Counter
	certificatesFailedTotal    prometheus.Counter
	emailsSentTotal            prometheus.Counter
	emailsFailedTotal          *prometheus.CounterVec
	emailsSuppressedTotal      prometheus.Counter
	emailSendDuration          prometheus.Histogram
	chunkDuration              prometheus.Histogram
	rateLimitDeniedTotal       *prometheus.CounterVec
	workerInflight             *prometheus.GaugeVec
	retryScheduledTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDuration        *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		certificatesGeneratedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "certpipe",
			Name:      "certificates_generated_total",
			Help:      "Total number of certificate images rendered and uploaded.",
		}),
		certificatesFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "certpipe",
			Name:      "certificates_failed_total",
			Help:      "Total number of records whose certificate generation failed.",
		}),
		emailsSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "certpipe",
			Name:      "emails_sent_total",
			Help:      "Total number of emails dispatched to the provider.",
		}),
		emailsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "certpipe",
				Name:      "emails_failed_total",
				Help:      "Total number of emails that ended in failed state, by failure category.",
			},
			[]string{"category"},
		),
		emailsSuppressedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "certpipe",
			Name:      "emails_suppressed_total",
			Help:      "Total number of sends skipped because the address is suppressed.",
		}),
		emailSendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "certpipe",
			Name:      "email_send_duration_seconds",
			Help:      "Transport dispatch duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		chunkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "certpipe",
			Name:      "chunk_duration_seconds",
			Help:      "Chunk processing duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		rateLimitDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "certpipe",
				Name:      "rate_limit_denied_total",
				Help:      "Total number of rate limit denials by scope and unit.",
			},
			[]string{"scope", "unit"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "certpipe",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight worker jobs grouped by queue.",
			},
			[]string{"queue"},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "certpipe",
				Name:      "retry_scheduled_total",
				Help:      "Total number of jobs re-enqueued with backoff, by queue.",
			},
			[]string{"queue"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "certpipe",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by method, route and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "certpipe",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and route.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.certificatesGeneratedTotal,
		m.certificatesFailedTotal,
		m.emailsSentTotal,
		m.emailsFailedTotal,
		m.emailsSuppressedTotal,
		m.emailSendDuration,
		m.chunkDuration,
		m.rateLimitDeniedTotal,
		m.workerInflight,
		m.retryScheduledTotal,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// Handler exposes the registry for a /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request counts and latencies per matched route.
func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func (m *Metrics) IncCertificateGenerated() {
	if m == nil {
		return
	}
	m.certificatesGeneratedTotal.Inc()
}

func (m *Metrics) IncCertificateFailed() {
	if m == nil {
		return
	}
	m.certificatesFailedTotal.Inc()
}

func (m *Metrics) IncEmailSent() {
	if m == nil {
		return
	}
	m.emailsSentTotal.Inc()
}

func (m *Metrics) IncEmailFailed(category string) {
	if m == nil {
		return
	}
	m.emailsFailedTotal.WithLabelValues(category).Inc()
}

func (m *Metrics) IncEmailSuppressed() {
	if m == nil {
		return
	}
	m.emailsSuppressedTotal.Inc()
}

func (m *Metrics) ObserveEmailSendDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.emailSendDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveChunkDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.chunkDuration.Observe(d.Seconds())
}

func (m *Metrics) IncRateLimitDenied(scope, unit string) {
	if m == nil {
		return
	}
	m.rateLimitDeniedTotal.WithLabelValues(scope, unit).Inc()
}

func (m *Metrics) IncWorkerInFlight(queue string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(queue).Inc()
}

func (m *Metrics) DecWorkerInFlight(queue string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(queue).Dec()
}

func (m *Metrics) IncRetryScheduled(queue string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(queue).Inc()
}
