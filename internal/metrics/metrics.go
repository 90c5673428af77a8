package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionState is 1 for the channel's current state and 0 for the others
	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilink_connection_state",
			Help: "Current state of the realtime channel",
		},
		[]string{"state"},
	)

	// ReconnectAttemptsTotal tracks scheduled reconnect attempts
	ReconnectAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resilink_reconnect_attempts_total",
			Help: "Total number of reconnect attempts scheduled",
		},
	)

	// ConnectionsAbandonedTotal tracks how often reconnection gave up
	ConnectionsAbandonedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resilink_connections_abandoned_total",
			Help: "Total number of times the channel stopped reconnecting",
		},
	)

	// HeartbeatTimeoutsTotal tracks connections declared dead by the heartbeat
	HeartbeatTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resilink_heartbeat_timeouts_total",
			Help: "Total number of heartbeat timeouts",
		},
	)

	FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilink_frames_received_total",
			Help: "Total number of inbound channel frames",
		},
		[]string{"type"},
	)

	FramesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilink_frames_sent_total",
			Help: "Total number of outbound channel frames",
		},
		[]string{"type"},
	)

	// QueueDepth tracks requests waiting for replay
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resilink_queue_depth",
			Help: "Number of requests waiting in the replay queue",
		},
	)

	QueueEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resilink_queue_enqueued_total",
			Help: "Total number of requests accepted by the replay queue",
		},
	)

	// QueueReplayedTotal tracks replay outcomes (success, failure)
	QueueReplayedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilink_queue_replayed_total",
			Help: "Total number of replay attempts by result",
		},
		[]string{"result"},
	)

	// QueueDroppedTotal tracks requests removed without success
	QueueDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilink_queue_dropped_total",
			Help: "Total number of requests dropped from the replay queue",
		},
		[]string{"reason"},
	)

	// RetryAttemptsTotal tracks retries per operation
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilink_retry_attempts_total",
			Help: "Total number of retried attempts",
		},
		[]string{"op"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilink_http_requests_total",
			Help: "Total number of HTTP requests to the backend",
		},
		[]string{"method", "status"},
	)

	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resilink_http_latency_seconds",
			Help:    "Backend HTTP latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// BreakerState is 0 closed, 1 open, 2 half-open
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilink_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"breaker"},
	)

	NetworkOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resilink_network_online",
			Help: "1 when the network is reachable",
		},
	)

	NetworkRTT = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resilink_network_rtt_seconds",
			Help: "Estimated round trip time to the backend",
		},
	)

	// QueueDrainsTotal tracks drains by trigger (online, connected, manual)
	QueueDrainsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilink_queue_drains_total",
			Help: "Total number of queue drains",
		},
		[]string{"trigger"},
	)

	// ListenerPanicsTotal tracks event listeners that panicked
	ListenerPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilink_listener_panics_total",
			Help: "Total number of recovered event listener panics",
		},
		[]string{"event"},
	)

	// DBConnectionPoolUsage is open connections as a percentage of the pool limit
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resilink_db_connection_pool_usage_percent",
			Help: "SQL store connection pool usage",
		},
	)
)

// SetConnectionState marks state as the only active connection state.
func SetConnectionState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		ConnectionState.WithLabelValues(s).Set(v)
	}
}

// BoolGauge converts a flag to a gauge value.
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
