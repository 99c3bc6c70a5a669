// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IdeaOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "percolator_idea_operations_total",
		Help: "Lifecycle operations by name and outcome.",
	}, []string{"operation", "outcome"})

	IdeaVersions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "percolator_idea_versions_total",
		Help: "Version snapshots written.",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "percolator_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func ObserveOperation(operation, outcome string) {
	IdeaOperations.WithLabelValues(operation, outcome).Inc()
}

func ObserveVersion() {
	IdeaVersions.Inc()
}
