package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "sync_service"
)

// Metrics holds all application metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnectionsTotal  prometheus.Counter
	WSActiveConnections prometheus.Gauge

	// Hub metrics
	SessionsActive         prometheus.Gauge
	RoomsActive            prometheus.Gauge
	CursorBroadcastsTotal  prometheus.Counter
	CursorCoalescedTotal   prometheus.Counter
	DocumentUpdatesTotal   prometheus.Counter
	OperationsRelayedTotal prometheus.Counter
	SessionsEvictedTotal   prometheus.Counter
}

// New creates and registers all metrics with the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates and registers all metrics with a custom registry
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		WSConnectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_connections_total",
				Help:      "Total number of WebSocket connections",
			},
		),
		WSActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_active_connections",
				Help:      "Number of active WebSocket connections",
			},
		),
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of sessions in the presence registry",
			},
		),
		RoomsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rooms_active",
				Help:      "Number of document rooms with at least one member",
			},
		),
		CursorBroadcastsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cursor_broadcasts_total",
				Help:      "Total number of cursor updates fanned out",
			},
		),
		CursorCoalescedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cursor_coalesced_total",
				Help:      "Total number of cursor updates coalesced by the throttle",
			},
		),
		DocumentUpdatesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "document_updates_total",
				Help:      "Total number of accepted document updates",
			},
		),
		OperationsRelayedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_relayed_total",
				Help:      "Total number of incremental operations relayed",
			},
		),
		SessionsEvictedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_evicted_total",
				Help:      "Total number of sessions evicted by the liveness sweeper",
			},
		),
	}
}
