// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// MessagesIngested tracks inbound messages accepted per channel.
	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_messages_ingested_total",
			Help: "Inbound messages ingested per channel",
		},
		[]string{"channel"},
	)

	// MessagesDeduplicated tracks inbound redeliveries absorbed by the
	// idempotency key.
	MessagesDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_messages_deduplicated_total",
			Help: "Inbound redeliveries absorbed per channel",
		},
		[]string{"channel"},
	)

	// DeliveryFailures tracks outbound delivery failures per channel.
	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_delivery_failures_total",
			Help: "Outbound delivery failures per channel",
		},
		[]string{"channel"},
	)

	// BotReplies tracks bot replies by resulting step.
	BotReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_replies_total",
			Help: "Bot replies by resulting step",
		},
		[]string{"step"},
	)

	// Escalations tracks escalation requests raised by the bot.
	Escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escalations_total",
			Help: "Escalation requests raised",
		},
	)

	// ClaimConflicts tracks claim attempts that lost the race.
	ClaimConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "claim_conflicts_total",
			Help: "Claim attempts rejected because the conversation was already claimed",
		},
	)

	// SessionsActive tracks connected websocket sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_sessions_active",
			Help: "Number of connected websocket sessions",
		},
	)

	// EventsBroadcast tracks events fanned out by the hub.
	EventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_events_broadcast_total",
			Help: "Events delivered to sessions by event type",
		},
		[]string{"type"},
	)

	// ConversationsExpired tracks conversations ended by the sweep.
	ConversationsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_expired_total",
			Help: "Pending conversations ended by the expiry sweep",
		},
	)
)

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path, status string, durationSec float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(durationSec)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}
