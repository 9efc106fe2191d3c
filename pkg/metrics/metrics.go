// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resolve outcomes and feed results.
const (
	ResolveExisting      = "existing"
	ResolveCreated       = "created"
	ResolveConflictRetry = "conflict_retried"
	ResolveInvalid       = "invalid_participants"
	ResolveFailed        = "failed"

	FeedDelivered = "delivered"
	FeedMalformed = "malformed"
	FeedIgnored   = "ignored"
	FeedForeign   = "foreign_conversation"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// ConversationResolutions tracks resolver outcomes.
	ConversationResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_resolutions_total",
			Help: "Conversation resolve calls by outcome",
		},
		[]string{"outcome"},
	)

	// MessagesSent tracks persisted messages.
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Total messages persisted",
		},
	)

	// MessagesSendFailures tracks failed message inserts.
	MessagesSendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_send_failures_total",
			Help: "Message inserts that failed",
		},
	)

	// MessagesMarkedRead tracks read flag flips.
	MessagesMarkedRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_marked_read_total",
			Help: "Messages flipped to read",
		},
	)

	// FeedEvents tracks realtime events by decode result.
	FeedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_feed_events_total",
			Help: "Realtime feed events by result",
		},
		[]string{"result"},
	)

	// SubscriptionsActive tracks open realtime subscriptions.
	SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_subscriptions_active",
			Help: "Number of open realtime subscriptions",
		},
	)

	// SubscriptionRetries tracks feed re-establishment attempts.
	SubscriptionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_subscription_retries_total",
			Help: "Realtime feed re-establishment attempts",
		},
	)

	// FeedPublishFailures tracks insert events that could not be published.
	FeedPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_feed_publish_failures_total",
			Help: "Insert events that failed to publish",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// ChatSessionsActive tracks websocket chat sessions.
	ChatSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_sessions_active",
			Help: "Number of active websocket chat sessions",
		},
	)

	// ProfileLookups tracks profile enrichment results.
	ProfileLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_lookups_total",
			Help: "Profile lookups by result",
		},
		[]string{"result"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, route, status string, duration float64) {
	RequestDuration.WithLabelValues(method, route, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, route, status).Inc()
}

// RecordResolve records a resolver outcome.
func RecordResolve(outcome string) {
	ConversationResolutions.WithLabelValues(outcome).Inc()
}

// RecordFeedEvent records a realtime event decode result.
func RecordFeedEvent(result string) {
	FeedEvents.WithLabelValues(result).Inc()
}
