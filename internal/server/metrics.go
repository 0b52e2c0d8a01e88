// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"

	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// uploadsTotal counts completed /upload requests, partitioned by
	// outcome: "ok", "rejected" (client error), or "error".
	uploadsTotal *prometheus.CounterVec

	// indexDurationSeconds records the time spent indexing an upload.
	indexDurationSeconds prometheus.Histogram

	// queriesTotal counts completed /query requests by outcome.
	queriesTotal *prometheus.CounterVec

	// queryDurationSeconds records the time spent answering a question.
	queryDurationSeconds prometheus.Histogram

	// cleanupStepsTotal counts cleanup steps by step name and outcome.
	cleanupStepsTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. readySessions reports the number of namespaces
// with an active pipeline at scrape time.
func newServerMetrics(reg prometheus.Registerer, readySessions func() float64) *serverMetrics {
	factory := promauto.With(reg)

	if readySessions != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "docqa",
			Subsystem: "sessions",
			Name:      "ready",
			Help:      "Number of sessions with an indexed document.",
		}, readySessions)
	}

	return &serverMetrics{
		uploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "upload",
			Name:      "requests_total",
			Help:      "Total number of /upload requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		indexDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "upload",
			Name:      "index_duration_seconds",
			Help:      "Time spent loading, embedding and storing an uploaded document.",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		}),

		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of /query requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		queryDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Time spent retrieving context and generating an answer.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		cleanupStepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "cleanup",
			Name:      "steps_total",
			Help:      "Cleanup steps run, partitioned by step and outcome.",
		}, []string{"step", "outcome"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}
