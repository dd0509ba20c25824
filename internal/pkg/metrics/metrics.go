// Package metrics holds the Prometheus collectors for the outreach services.
// Collectors are registered once on the default registry at package init and
// exposed by promhttp at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_http_requests_total",
		Help: "HTTP requests by route pattern and status.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outreach_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_emails_sent_total",
		Help: "Emails accepted by a provider.",
	}, []string{"provider"})

	EmailsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_emails_failed_total",
		Help: "Emails that failed at render or provider send.",
	}, []string{"provider"})

	SendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outreach_provider_send_duration_seconds",
		Help:    "Latency of single provider send calls.",
		Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"provider"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_webhook_events_total",
		Help: "Delivery webhook events by provider, kind and whether a recipient matched.",
	}, []string{"provider", "kind", "matched"})

	TrackingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_tracking_events_total",
		Help: "Open and click hits on the tracking endpoints.",
	}, []string{"type"})

	LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_ledger_entries_total",
		Help: "Credit ledger inserts by kind; duplicates are counted separately.",
	}, []string{"kind", "duplicate"})

	OAuthOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_oauth_outcomes_total",
		Help: "OAuth callback and disconnect outcomes by provider.",
	}, []string{"provider", "operation", "outcome"})

	SocialPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_social_publishes_total",
		Help: "Social posts by provider and outcome.",
	}, []string{"provider", "outcome"})
)

// Middleware records request counts and latency keyed by the chi route
// pattern so path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
