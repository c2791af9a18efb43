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

const namespace = "sequence_engine"

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	dispatchOutcomesTotal  *prometheus.CounterVec
	sendDuration           *prometheus.HistogramVec
	dispatchInflight       *prometheus.GaugeVec
	dueContacts            *prometheus.GaugeVec
	quotaReservationsTotal *prometheus.CounterVec
	quotaResetsTotal       prometheus.Counter
	dataIntegrityErrors    *prometheus.CounterVec
	senderHealthScore      *prometheus.GaugeVec
	trackingEventsTotal    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		dispatchOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_outcomes_total",
				Help:      "Total number of dispatch attempts grouped by outcome.",
			},
			[]string{"outcome"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "send_duration_seconds",
				Help:      "Mail provider send duration in seconds grouped by provider.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"provider"},
		),
		dispatchInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dispatch_inflight",
				Help:      "Current number of in-flight dispatches grouped by source.",
			},
			[]string{"source"},
		),
		dueContacts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "due_contacts",
				Help:      "Number of contacts found due in the last scheduling pass of a campaign.",
			},
			[]string{"campaign"},
		),
		quotaReservationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_reservations_total",
				Help:      "Total number of warm-up quota reservations grouped by result.",
			},
			[]string{"result"},
		),
		quotaResetsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_resets_total",
				Help:      "Total number of warm-up counter resets.",
			},
		),
		dataIntegrityErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "data_integrity_errors_total",
				Help:      "Total number of contacts skipped because of campaign misconfiguration.",
			},
			[]string{"campaign"},
		),
		senderHealthScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sender_health_score",
				Help:      "Last computed health score of a sender identity.",
			},
			[]string{"campaign", "sender"},
		),
		trackingEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracking_events_total",
				Help:      "Total number of ingested tracking events grouped by type and result.",
			},
			[]string{"type", "result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.dispatchOutcomesTotal,
		m.sendDuration,
		m.dispatchInflight,
		m.dueContacts,
		m.quotaReservationsTotal,
		m.quotaResetsTotal,
		m.dataIntegrityErrors,
		m.senderHealthScore,
		m.trackingEventsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

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

func (m *Metrics) IncDispatchOutcome(outcome string) {
	if m == nil {
		return
	}
	m.dispatchOutcomesTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveSendDuration(provider string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.sendDuration.WithLabelValues(normalizeLabel(provider)).Observe(seconds)
}

func (m *Metrics) IncDispatchInFlight(source string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *Metrics) DecDispatchInFlight(source string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeLabel(source)).Dec()
}

func (m *Metrics) SetDueContacts(campaignID string, count int) {
	if m == nil {
		return
	}
	m.dueContacts.WithLabelValues(campaignID).Set(float64(count))
}

func (m *Metrics) IncQuotaReservation(granted bool) {
	if m == nil {
		return
	}
	result := "granted"
	if !granted {
		result = "exhausted"
	}
	m.quotaReservationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncQuotaReset() {
	if m == nil {
		return
	}
	m.quotaResetsTotal.Inc()
}

func (m *Metrics) IncDataIntegrityError(campaignID string) {
	if m == nil {
		return
	}
	m.dataIntegrityErrors.WithLabelValues(campaignID).Inc()
}

func (m *Metrics) SetSenderHealthScore(campaignID string, sender string, score float64) {
	if m == nil {
		return
	}
	m.senderHealthScore.WithLabelValues(campaignID, strings.ToLower(strings.TrimSpace(sender))).Set(score)
}

func (m *Metrics) IncTrackingEvent(eventType string, result string) {
	if m == nil {
		return
	}
	m.trackingEventsTotal.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
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

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
