package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests received.",
		},
		[]string{"method", "path", "code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "code"},
	)

	// WebhookEventsTotal counts Stripe events by type and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stripe_webhook_events_total",
			Help: "Stripe webhook events by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	// CommissionTransitionsTotal counts commission status writes.
	CommissionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commission_status_transitions_total",
			Help: "Commission request status transitions.",
		},
		[]string{"from", "to"},
	)
)

// Metrics records count and latency per route template.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		code := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, code).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path, code).Observe(time.Since(start).Seconds())
	}
}
