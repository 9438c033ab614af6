package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptgrid_ratelimit_decisions_total",
			Help: "Rate limit decisions by window and outcome",
		},
		[]string{"window", "outcome"},
	)

	QuotaRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptgrid_quota_rejections_total",
			Help: "Calls rejected by the monthly quota, by kind",
		},
		[]string{"kind"},
	)

	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptgrid_provider_calls_total",
			Help: "Upstream provider calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptgrid_provider_latency_seconds",
			Help:    "Upstream provider call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	UsageWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "promptgrid_usage_write_failures_total",
			Help: "Usage records that could not be persisted",
		},
	)

	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptgrid_webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	AlertsTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptgrid_alerts_triggered_total",
			Help: "Usage alerts triggered by type",
		},
		[]string{"type"},
	)

	JobsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "promptgrid_jobs_dropped_total",
			Help: "Background jobs dropped because the queue was full",
		},
	)
)

func init() {
	prometheus.MustRegister(RateLimitDecisions)
	prometheus.MustRegister(QuotaRejections)
	prometheus.MustRegister(ProviderCalls)
	prometheus.MustRegister(ProviderLatency)
	prometheus.MustRegister(UsageWriteFailures)
	prometheus.MustRegister(WebhookDeliveries)
	prometheus.MustRegister(AlertsTriggered)
	prometheus.MustRegister(JobsDropped)
}

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
