// Package metrics provides Prometheus metrics for the hmacfs daemon.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hmacfs_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hmacfs_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	rateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hmacfs_http_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		},
	)

	// Engine metrics
	engineOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hmacfs_engine_operation_duration_seconds",
			Help:    "Storage engine call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	engineOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hmacfs_engine_operations_total",
			Help: "Total storage engine calls by outcome",
		},
		[]string{"operation", "status"},
	)

	// Content transfer metrics
	contentBytesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hmacfs_content_bytes_read_total",
			Help: "Total file content bytes loaded from the engine",
		},
	)

	contentBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hmacfs_content_bytes_written_total",
			Help: "Total file content bytes committed to the engine",
		},
	)

	// Event metrics
	eventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hmacfs_event_subscribers",
			Help: "Number of connected change event subscribers",
		},
	)

	eventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hmacfs_events_dropped_total",
			Help: "Change events dropped because a subscriber was too slow",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordRateLimited() {
	rateLimitedTotal.Inc()
}

// RecordEngineOperation records one engine call. status is "ok", "transient"
// or "corruption".
func RecordEngineOperation(operation, status string, duration time.Duration) {
	engineOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	engineOperationsTotal.WithLabelValues(operation, status).Inc()
}

func RecordContentRead(bytes int64) {
	contentBytesRead.Add(float64(bytes))
}

func RecordContentWritten(bytes int64) {
	contentBytesWritten.Add(float64(bytes))
}

func SubscriberConnected() {
	eventSubscribers.Inc()
}

func SubscriberDisconnected() {
	eventSubscribers.Dec()
}

func RecordEventDropped() {
	eventsDroppedTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
