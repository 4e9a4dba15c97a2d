// Package metrics declares the Prometheus collectors exposed at /metrics.
//
// Naming convention: namespace_subsystem_name
//   - namespace: matchmaking (application-level grouping)
//   - subsystem: queue, match, session, websocket, tick, circuit_breaker,
//     rate_limit, redis (feature-level grouping)
//   - name: specific metric (depth, duration_seconds, events_total, etc.)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveWebSocketConnections tracks the current number of connected sockets.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "matchmaking",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// WebsocketEvents tracks inbound/outbound frame counts by event type.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "matchmaking",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks per-event dispatch latency.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "matchmaking",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// QueueDepth tracks the current size of each queue partition.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "matchmaking",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current number of waiters in a queue partition",
	}, []string{"partition"})

	// QueueWaitSeconds tracks how long a waiter sat in queue before matching.
	QueueWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "matchmaking",
		Subsystem: "queue",
		Name:      "wait_seconds",
		Help:      "Time a user waited in queue before being matched",
		Buckets:   []float64{1, 5, 10, 15, 20, 30, 45, 60, 120},
	}, []string{"mode"})

	// MatchesTotal tracks matches formed, partitioned by widen stage.
	MatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "matchmaking",
		Subsystem: "match",
		Name:      "formed_total",
		Help:      "Total matches formed by the match engine",
	}, []string{"widen_stage"})

	// TickDuration tracks the wall-clock cost of one matching cycle.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "matchmaking",
		Subsystem: "tick",
		Name:      "duration_seconds",
		Help:      "Duration of one match engine tick",
		Buckets:   prometheus.DefBuckets,
	})

	// TickLeaderHeld reports 1 when this replica holds the tick lease.
	TickLeaderHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "matchmaking",
		Subsystem: "tick",
		Name:      "leader_held",
		Help:      "1 if this replica currently holds the tick lease, else 0",
	})

	// TickLeaseContention counts lease acquisition attempts that lost the race.
	TickLeaseContention = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "matchmaking",
		Subsystem: "tick",
		Name:      "lease_contention_total",
		Help:      "Total tick lease acquisition attempts that lost to another replica",
	})

	// ActiveSessions tracks sessions currently in PendingRoom or ActiveSession state.
	ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "matchmaking",
		Subsystem: "session",
		Name:      "active",
		Help:      "Current number of sessions in each lifecycle state",
	}, []string{"state"})

	// SessionTimeouts counts PendingRoom handshake timeouts.
	SessionTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "matchmaking",
		Subsystem: "session",
		Name:      "handshake_timeouts_total",
		Help:      "Total PendingRooms reaped for handshake timeout",
	})

	// CircuitBreakerState mirrors the gobreaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "matchmaking",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures counts requests rejected by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "matchmaking",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded counts throttled requests.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "matchmaking",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests counts every request checked against a limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "matchmaking",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// RedisOperationsTotal counts Redis calls made through the store layer.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "matchmaking",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks Redis call latency.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "matchmaking",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

// IncConnection records a new WebSocket connection.
func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

// DecConnection records a closed WebSocket connection.
func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
