// Package metrics provides Prometheus instrumentation for CollabHub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collabhub_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "collabhub_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Session metrics.
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collabhub_active_sessions",
		Help: "Number of currently attached agent sessions.",
	})

	RegisteredAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collabhub_registered_agents",
		Help: "Number of identities in the registry.",
	})
)

// Message hub metrics.
var (
	MessagesInTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collabhub_messages_in_total",
		Help: "Total number of inbound messages by type.",
	}, []string{"type"})

	MessagesOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collabhub_messages_out_total",
		Help: "Total number of outbound messages sent.",
	})

	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collabhub_broadcasts_total",
		Help: "Total number of broadcast fan-outs.",
	})
)

// Task lock metrics.
var (
	LockAcquisitionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collabhub_lock_acquisitions_total",
		Help: "Total number of successful task lock acquisitions.",
	})

	LockConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collabhub_lock_conflicts_total",
		Help: "Total number of denied task lock acquisitions.",
	})

	LocksExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collabhub_locks_expired_total",
		Help: "Total number of task locks dropped by the expiry sweeper.",
	})
)

// WebSocket and notifier metrics.
var (
	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collabhub_ws_connections_active",
		Help: "Number of active WebSocket connections.",
	})

	NotifyQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collabhub_notify_queue_depth",
		Help: "Number of file-change notifications waiting in the priority queue.",
	})
)
