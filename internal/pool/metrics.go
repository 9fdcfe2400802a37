package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the connection pool.
var (
	poolConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pool_connections",
			Help: "Current number of pooled connections per account",
		},
		[]string{"account"},
	)

	poolConnectionsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pool_connections_created_total",
			Help: "Total number of connections created per account",
		},
		[]string{"account"},
	)

	poolConnectionsRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pool_connections_removed_total",
			Help: "Total number of connections removed from pools",
		},
		[]string{"account", "reason"},
	)

	poolBusyReuseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pool_busy_reuse_total",
			Help: "Total number of acquisitions served by an in-use connection under saturation",
		},
		[]string{"account"},
	)

	poolReleasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pool_releases_total",
			Help: "Total number of connection releases",
		},
		[]string{"account"},
	)

	poolConnectionResponseTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pool_connection_avg_response_seconds",
			Help:    "Running mean upstream response time observed at release",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"account"},
	)
)

// Connection removal reasons.
const (
	removeReasonUnhealthy = "unhealthy"
	removeReasonIdle      = "idle"
	removeReasonShutdown  = "shutdown"
)
