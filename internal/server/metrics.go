// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// queriesTotal counts completed /api/query requests, partitioned by
	// mode: "single" or "workflow".
	queriesTotal *prometheus.CounterVec

	// subtasksTotal counts executed workflow subtasks, partitioned by
	// outcome: "ok" or "error".
	subtasksTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agriquery",
			Subsystem: "engine",
			Name:      "queries_total",
			Help:      "Total number of /api/query requests answered, partitioned by mode.",
		}, []string{"mode"}),

		subtasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agriquery",
			Subsystem: "workflow",
			Name:      "subtasks_total",
			Help:      "Total number of workflow subtasks executed, partitioned by outcome.",
		}, []string{"outcome"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agriquery",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method and status code.",
		}, []string{"method", "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agriquery",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   []float64{0.01, 0.05, 0.25, 1, 5, 15, 60},
		}, []string{"method"}),
	}
}

// middleware meters every request: count by method/status, latency by method.
func (m *serverMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rw, r)

		m.httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
