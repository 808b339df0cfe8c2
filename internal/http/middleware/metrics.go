// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// Metrics instruments HTTP traffic for Prometheus. Besides the usual request
// counters and latency histograms it tracks how thread polling behaves:
// how many ledger reads were answered with 304, how many had to be served
// degraded, and how many message sends were resends of a stored message.
//
// The route label is the registered Gin pattern
// (e.g. /api/v1/orders/:id/messages). Requests that matched no route share
// the "unmatched" label so scanners cannot blow up cardinality.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const unmatchedRoute = "unmatched"

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	// Status is left out to keep the histogram small.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// Ledger payloads are small; a full ledger rarely passes 50KiB.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes.",
			Buckets: []float64{128, 512, 1 << 10, 4 << 10, 16 << 10, 64 << 10, 256 << 10, 1 << 20},
		},
		[]string{"method", "route"},
	)

	// ledgerReads classifies GET .../messages answers: fresh, not_modified
	// or degraded.
	ledgerReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_reads_total",
			Help: "Message ledger reads by thread kind and outcome.",
		},
		[]string{"thread", "outcome"},
	)

	// sendReplays counts POST .../messages answered from a stored message.
	sendReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_send_replays_total",
			Help: "Message sends answered with an already stored message.",
		},
		[]string{"thread"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, ledgerReads, sendReplays)
}

// Metrics returns the instrumentation middleware. Mount /metrics next to it:
//
//	r.Use(middleware.Metrics())
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method
		status := c.Writer.Status()

		httpReqs.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		httpLat.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, route).Observe(float64(size))
		}

		if !strings.HasSuffix(route, "/messages") {
			return
		}
		thread := threadLabel(route)
		switch {
		case method == http.MethodGet && status == http.StatusNotModified:
			ledgerReads.WithLabelValues(thread, "not_modified").Inc()
		case method == http.MethodGet && status == http.StatusOK:
			outcome := "fresh"
			if c.Writer.Header().Get("X-Degraded") == "true" {
				outcome = "degraded"
			}
			ledgerReads.WithLabelValues(thread, outcome).Inc()
		case method == http.MethodPost && c.Writer.Header().Get("Idempotency-Replayed") == "true":
			sendReplays.WithLabelValues(thread).Inc()
		}
	}
}

func threadLabel(route string) string {
	if strings.Contains(route, "/orders/") {
		return "order"
	}
	return "negotiation"
}
