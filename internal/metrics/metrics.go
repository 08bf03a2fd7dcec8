// Package metrics exposes Prometheus instrumentation for the webhook gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "deploygw"
	subsystem = "webhook"

	StatusOK    = "ok"
	StatusError = "error"

	LabelOutcome   = "outcome"
	LabelEventType = "event_type"
	LabelStatus    = "status"
	LabelCode      = "code"
	LabelMethod    = "method"
	LabelRoute     = "route"
)

// Request outcomes recorded by the gateway.
const (
	OutcomeAccepted      = "accepted"
	OutcomeNotConfigured = "not_configured"
	OutcomeMissingHeader = "missing_header"
	OutcomeTooLarge      = "too_large"
	OutcomeReadFailed    = "read_failed"
	OutcomeUnauthorized  = "unauthorized"
	OutcomeMalformedJSON = "malformed_json"
)

var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

var (
	webhookRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "requests_total",
		Namespace: namespace,
		Subsystem: subsystem,
		Help:      "webhook notifications received, partitioned by gateway outcome",
	}, []string{LabelOutcome})

	eventsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "events_dispatched_total",
		Namespace: namespace,
		Subsystem: subsystem,
		Help:      "deploy events dispatched, partitioned by event type",
	}, []string{LabelEventType})

	notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "notifications_total",
		Namespace: namespace,
		Subsystem: subsystem,
		Help:      "downstream notifier invocations, partitioned by status",
	}, []string{LabelStatus})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "http_requests_total",
		Namespace: namespace,
		Help:      "HTTP requests processed, partitioned by status code, method and route",
	}, []string{LabelCode, LabelMethod, LabelRoute})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "http_request_duration_seconds",
		Namespace: namespace,
		Help:      "HTTP request latency, partitioned by status code, method and route",
		Buckets:   defaultBuckets,
	}, []string{LabelCode, LabelMethod, LabelRoute})
)

func init() {
	prometheus.MustRegister(webhookRequests)
	prometheus.MustRegister(eventsDispatched)
	prometheus.MustRegister(notifications)
	prometheus.MustRegister(httpRequests)
	prometheus.MustRegister(httpLatency)
}

func statusLabel(err error) string {
	if err == nil {
		return StatusOK
	}
	return StatusError
}

// WebhookRequest counts a notification by the gateway step it ended at.
func WebhookRequest(outcome string) {
	webhookRequests.With(prometheus.Labels{LabelOutcome: outcome}).Inc()
}

// EventDispatched counts a dispatched event.
func EventDispatched(eventType string) {
	eventsDispatched.With(prometheus.Labels{LabelEventType: eventType}).Inc()
}

// Notification counts a notifier invocation.
func Notification(err error) {
	notifications.With(prometheus.Labels{LabelStatus: statusLabel(err)}).Inc()
}

// Middleware records request counts and latency. The route label uses the
// chi route pattern so unknown paths do not create new series.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		labels := prometheus.Labels{
			LabelCode:   strconv.Itoa(ww.Status()),
			LabelMethod: r.Method,
			LabelRoute:  route,
		}
		httpRequests.With(labels).Inc()
		httpLatency.With(labels).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
