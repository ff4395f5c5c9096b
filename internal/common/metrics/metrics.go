package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_persisted_total",
			Help: "Total number of chat messages written to the store",
		},
	)

	MessageDecryptFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_message_decrypt_failures_total",
			Help: "Messages returned without content because decryption failed",
		},
	)

	HubConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hub_connections_active",
			Help: "Number of live websocket connections per channel kind",
		},
		[]string{"kind"},
	)

	HubBroadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_broadcasts_total",
			Help: "Frames broadcast to groups, by kind and origin",
		},
		[]string{"kind", "origin"},
	)

	HubDroppedConnections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_dropped_connections_total",
			Help: "Connections closed because their send buffer was full",
		},
	)

	HandshakeRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_handshake_rejections_total",
			Help: "Websocket handshakes rejected before upgrade",
		},
		[]string{"reason"},
	)

	DispatchEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_events_total",
			Help: "Domain events processed by the dispatcher",
		},
		[]string{"notification_type", "outcome"},
	)

	DispatchDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_deliveries_total",
			Help: "Channel delivery attempts by result",
		},
		[]string{"channel", "result"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "dispatch_duration_seconds",
			Help: "Duration of processing one domain event",
		},
		[]string{"notification_type"},
	)

	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_queue_depth",
			Help: "Events waiting in the dispatch queue",
		},
	)

	DispatchDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_events_dropped_total",
			Help: "Events dropped because the queue stayed full past the enqueue timeout",
		},
	)
)
