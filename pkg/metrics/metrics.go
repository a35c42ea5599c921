package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters and gauges for the chat pipeline. All register on the default
// registry and are exported via the /metrics endpoint.
var (
	SendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcoord_sends_total",
		Help: "Messages accepted, persisted and broadcast.",
	})

	RejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcoord_rejected_total",
		Help: "Send attempts rejected, by reason.",
	}, []string{"reason"})

	NotificationsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcoord_notifications_suppressed_total",
		Help: "Presence notifications suppressed by the debouncer.",
	})

	NotificationsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcoord_notifications_emitted_total",
		Help: "Presence notifications surfaced to an observer.",
	})

	BusDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcoord_bus_dropped_total",
		Help: "Bus events dropped because a subscriber lagged.",
	})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatcoord_connections_active",
		Help: "Live client connections.",
	})

	AcksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcoord_acks_total",
		Help: "Delivery acknowledgments applied, by kind.",
	}, []string{"kind"})
)
