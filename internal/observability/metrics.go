package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "helpdesk"

// Metrics owns the prometheus collectors for the process. Every method is
// safe to call on a nil receiver so tests can skip metrics entirely.
type Metrics struct {
	registry *prometheus.Registry

	requestCount   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	errorCount     *prometheus.CounterVec
	ticketEvents   *prometheus.CounterVec
	titleDuration  prometheus.Histogram
	staleClosed    prometheus.Counter
	threadCleanup  *prometheus.CounterVec
	slackEvents    *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"path", "method", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "HTTP requests that ended in an error response",
		}, []string{"path", "method", "code"}),
		ticketEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticket_events_total",
			Help:      "Ticket lifecycle transitions",
		}, []string{"event"}),
		titleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ticket_title_generation_duration_seconds",
			Help:      "How long it takes to generate a ticket title using AI",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16},
		}),
		staleClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_tickets_closed_total",
			Help:      "Tickets closed by the stale sweep",
		}),
		threadCleanup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thread_cleanup_total",
			Help:      "Deferred backend thread deletions by result",
		}, []string{"result"}),
		slackEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slack_events_total",
			Help:      "Inbound Slack events by type",
		}, []string{"type"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestCount, m.requestLatency, m.errorCount,
		m.ticketEvents, m.titleDuration, m.staleClosed, m.threadCleanup, m.slackEvents,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestLatency.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(path, method, code).Inc()
}

// RecordTicketEvent counts a lifecycle transition such as "created" or "resolved".
func (m *Metrics) RecordTicketEvent(event string) {
	if m == nil {
		return
	}
	m.ticketEvents.WithLabelValues(event).Inc()
}

// ObserveTitleGeneration records the latency of one title generation call.
func (m *Metrics) ObserveTitleGeneration(d time.Duration) {
	if m == nil {
		return
	}
	m.titleDuration.Observe(d.Seconds())
}

// AddStaleClosed counts tickets closed by one stale sweep.
func (m *Metrics) AddStaleClosed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.staleClosed.Add(float64(n))
}

// RecordThreadCleanup counts a deferred thread deletion outcome.
func (m *Metrics) RecordThreadCleanup(result string) {
	if m == nil {
		return
	}
	m.threadCleanup.WithLabelValues(result).Inc()
}

// RecordSlackEvent counts an inbound event by type.
func (m *Metrics) RecordSlackEvent(eventType string) {
	if m == nil {
		return
	}
	m.slackEvents.WithLabelValues(eventType).Inc()
}
