package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are the gateway's per-op Prometheus instruments, registered once
// against the default registry and exposed on /metrics alongside /health.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kistrader_gateway_requests_total",
		Help: "Broker Gateway requests by operation and outcome.",
	}, []string{"op", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kistrader_gateway_request_duration_seconds",
		Help:    "Broker Gateway request latency by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

func observe(op, outcome string, seconds float64) {
	requestsTotal.WithLabelValues(op, outcome).Inc()
	requestDuration.WithLabelValues(op).Observe(seconds)
}
