// Package metrics holds the Prometheus collectors for the realtime core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatmesh_sessions_active",
		Help: "Open websocket sessions on this node",
	})

	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatmesh_events_dispatched_total",
		Help: "Events routed to recipients, by kind and path (local, bus, offline)",
	}, []string{"kind", "path"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatmesh_frames_dropped_total",
		Help: "Frames shed by backpressure or rate limiting, by reason",
	}, []string{"reason"})

	DeliveryTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatmesh_delivery_transitions_total",
		Help: "Delivery state advances, by target state",
	}, []string{"state"})

	OfflineQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatmesh_offline_queue_depth",
		Help: "Items drained from offline queues pending acknowledgement",
	})

	OfflineEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatmesh_offline_enqueued_total",
		Help: "Events persisted for offline recipients, by outcome",
	}, []string{"outcome"})

	PushDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatmesh_push_dispatches_total",
		Help: "Push intents handed to the transport, by outcome",
	}, []string{"outcome"})

	SignalsCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatmesh_signals_coalesced_total",
		Help: "Ephemeral signals absorbed by debounce or throttle windows",
	}, []string{"kind"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatmesh_http_request_duration_seconds",
		Help:    "REST request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
