// Package observability wires OpenTelemetry tracing and holds the domain
// Prometheus collectors exported on /metrics next to the HTTP ones.
//
// Label values are fixed sets (submission path, terminal status, reminder
// kind and outcome) so cardinality stays bounded.
package observability

import "github.com/prometheus/client_golang/prometheus"

// Submission paths.
const (
	PathModerated     = "moderated"
	PathAutoPublished = "auto_published"
)

// Reminder outcomes.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

var (
	// PostsSubmitted counts accepted submissions by path.
	PostsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postgate_posts_submitted_total",
			Help: "Accepted submissions by path (moderated or auto_published).",
		},
		[]string{"path"},
	)

	// PostsResolved counts moderator resolutions by terminal status.
	PostsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postgate_posts_resolved_total",
			Help: "Moderator resolutions by terminal status.",
		},
		[]string{"status"},
	)

	// QuotaRejections counts submissions refused by the daily cap.
	QuotaRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "postgate_quota_rejections_total",
			Help: "Submissions refused because the daily limit was reached.",
		},
	)

	// Reminders counts reminder notifications by kind (user|admin) and outcome.
	Reminders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postgate_reminders_total",
			Help: "Reminder notifications by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// SubscriptionsDowngraded counts lazy expiry downgrades.
	SubscriptionsDowngraded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "postgate_subscriptions_downgraded_total",
			Help: "Lapsed subscriptions reset to free on access.",
		},
	)
)

func init() {
	prometheus.MustRegister(PostsSubmitted, PostsResolved, QuotaRejections, Reminders, SubscriptionsDowngraded)
}
