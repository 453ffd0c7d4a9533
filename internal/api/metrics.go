package api

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chemviz_ui_requests_total",
			Help: "Local UI API requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	uiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chemviz_ui_request_duration_seconds",
			Help:    "Local UI API latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	wsClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chemviz_ws_clients",
		Help: "Connected WebSocket clients",
	})
)

// metricsMiddleware records the status and latency of every API request.
func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		status := c.Response().Status
		if err != nil {
			status = FromError(err).Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
		}
		route := c.Path()
		uiRequestsTotal.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
		uiRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		return err
	}
}
