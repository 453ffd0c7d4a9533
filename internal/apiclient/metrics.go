package apiclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts backend calls by route and outcome.
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chemviz_api_requests_total",
			Help: "Backend API requests by route and outcome (ok, http_error, transport_error)",
		},
		[]string{"route", "method", "outcome"},
	)

	// requestDuration tracks round-trip latency per route.
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chemviz_api_request_duration_seconds",
			Help:    "Backend API round-trip latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

const (
	outcomeOK        = "ok"
	outcomeHTTP      = "http_error"
	outcomeTransport = "transport_error"
)
