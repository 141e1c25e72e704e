package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labeld_submissions_total",
			Help: "Submission lifecycle counter by stage and method",
		},
		[]string{"stage", "method"}, // pending|sent|failed|denied , email|webform
	)

	LifecycleEmails = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labeld_lifecycle_emails_total",
			Help: "Lifecycle email outcomes by type",
		},
		[]string{"type", "outcome"}, // sent|skipped_<reason>|failed
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labeld_webhook_events_total",
			Help: "Inbound delivery events by record type and outcome",
		},
		[]string{"record_type", "outcome"},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labeld_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"action"},
	)

	ProviderSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labeld_provider_sends_total",
			Help: "Provider send attempts by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	AnalyticsFlushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "labeld_analytics_events_flushed_total",
			Help: "Analytics events written to ClickHouse",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		SubmissionsTotal,
		LifecycleEmails,
		WebhookEvents,
		RateLimited,
		ProviderSends,
		AnalyticsFlushed,
	)
}
