package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Delivery results recorded by RelayDeliveries.
const (
	ResultDelivered = "delivered"
	ResultSlow      = "slow"
	ResultClosed    = "closed"
)

// RelayConnections tracks currently registered relay connections
var RelayConnections = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "exportexpress_relay_connections",
		Help: "Number of connections currently registered with the relay",
	},
)

// RelayConnectionsTotal counts every accepted relay connection
var RelayConnectionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "exportexpress_relay_connections_total",
		Help: "Total number of connections accepted by the relay",
	},
)

// Event flow metrics
var (
	RelayEventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exportexpress_relay_events_published_total",
			Help: "Total number of events published into the relay by kind",
		},
		[]string{"kind"},
	)

	RelayDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exportexpress_relay_deliveries_total",
			Help: "Per-recipient delivery attempts by kind and result",
		},
		[]string{"kind", "result"},
	)

	RelayMalformedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exportexpress_relay_malformed_events_total",
			Help: "Inbound events dropped because they could not be decoded, by source",
		},
		[]string{"source"},
	)

	RelayBroadcastLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "exportexpress_relay_broadcast_latency_seconds",
			Help:    "Time spent enqueueing one event to every recipient",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(RelayConnections, RelayConnectionsTotal)
	prometheus.MustRegister(RelayEventsPublished, RelayDeliveries, RelayMalformedEvents, RelayBroadcastLatency)
}
