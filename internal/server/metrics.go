package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plenum_http_requests_total",
		Help: "HTTP requests by method, path and status code.",
	}, []string{"method", "path", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plenum_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plenum_actions_total",
		Help: "Dispatched actions by name.",
	}, []string{"action"})

	writeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plenum_write_events_total",
		Help: "Committed write events by kind.",
	}, []string{"kind"})

	lockRejectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plenum_lock_rejects_total",
		Help: "Writes rejected because locked fields changed underneath.",
	})
)

// pathLabel keeps the path label bounded: only the registered routes get
// their own series, everything else is folded into one.
func pathLabel(path string) string {
	switch path {
	case "/", "/health", "/readyz", "/metrics":
		return path
	}
	return "other"
}
