package ratelimit

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Total number of rate limit admission decisions",
		},
		[]string{"backend", "allowed"},
	)

	fallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_fallback_total",
			Help: "Total number of decisions degraded to the memory backend",
		},
	)

	backendHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratelimit_backend_healthy",
			Help: "Whether the primary rate limit backend is serving decisions",
		},
	)
)

func observeDecision(backend string, allowed bool) {
	decisionsTotal.WithLabelValues(backend, strconv.FormatBool(allowed)).Inc()
}
