// Package metrics provides Prometheus metrics for the chat client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionState is 1 for the current state label and 0 for the others.
	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_connection_state",
			Help: "Current live connection state",
		},
		[]string{"state"},
	)

	// ReconnectsScheduled counts reconnect attempts scheduled after a close.
	ReconnectsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_reconnects_scheduled_total",
			Help: "Total number of reconnect attempts scheduled",
		},
	)

	// FramesDropped counts inbound frames that could not be decoded.
	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_frames_dropped_total",
			Help: "Total number of malformed inbound frames dropped",
		},
	)

	// EventsDispatched counts events fanned out by the bus, by type.
	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_dispatched_total",
			Help: "Total number of events dispatched to subscribers",
		},
		[]string{"type"},
	)

	// SubscriberFailures counts subscriber panics recovered during dispatch.
	SubscriberFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_subscriber_failures_total",
			Help: "Total number of subscriber callbacks that panicked",
		},
	)

	// Subscribers tracks currently registered bus subscribers.
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_bus_subscribers",
			Help: "Number of registered bus subscribers",
		},
	)

	// RESTRequestDuration tracks REST call latency by operation and outcome.
	RESTRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_rest_request_duration_seconds",
			Help:    "Duration of REST requests to the platform API",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	// ViewRequestDuration tracks local view API latency.
	ViewRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_view_request_duration_seconds",
			Help:    "Duration of view API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	// RelayClients tracks UI sockets attached to the event relay.
	RelayClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_relay_clients",
			Help: "Number of UI sockets attached to the event relay",
		},
	)

	// UnreadMessages mirrors the aggregated unread message count.
	UnreadMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_unread_messages",
			Help: "Aggregated unread message count for the current identity",
		},
	)
)

var connectionStates = []string{"disconnected", "connecting", "connected", "error"}

// RecordConnectionState sets the state gauge so exactly one label reads 1.
func RecordConnectionState(state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		ConnectionState.WithLabelValues(s).Set(v)
	}
}

// RecordEvent increments the dispatch counter for an event type.
func RecordEvent(eventType string) {
	EventsDispatched.WithLabelValues(eventType).Inc()
}

// ObserveREST records one REST call.
func ObserveREST(operation string, seconds float64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	RESTRequestDuration.WithLabelValues(operation, outcome).Observe(seconds)
}

// RecordViewRequest records one view API request.
func RecordViewRequest(method, endpoint, status string, seconds float64) {
	ViewRequestDuration.WithLabelValues(method, endpoint, status).Observe(seconds)
}
