// Package metrics provides Prometheus metrics for the drive daemon.
package metrics

import (
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
			Name: "tgdrive_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tgdrive_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Transfer metrics
	transferBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgdrive_transfer_bytes_total",
			Help: "Bytes moved to or from the remote drive",
		},
		[]string{"direction"},
	)

	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgdrive_transfers_total",
			Help: "Drive operations by kind and outcome",
		},
		[]string{"operation", "status"},
	)

	streamBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tgdrive_stream_bytes_total",
			Help: "Bytes relayed by the streaming bridge",
		},
	)

	// Quota and remote errors
	quotaExceededTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgdrive_quota_exceeded_total",
			Help: "Transfers rejected by the daily bandwidth ceiling",
		},
		[]string{"direction"},
	)

	remoteErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgdrive_remote_errors_total",
			Help: "Classified remote failures",
		},
		[]string{"kind"},
	)

	bandwidthUsedBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tgdrive_bandwidth_used_bytes",
			Help: "Bytes accounted today",
		},
		[]string{"direction"},
	)

	// Session lifecycle
	listenerStartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tgdrive_listener_starts_total",
			Help: "Update listeners spawned",
		},
	)

	listenersRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tgdrive_listeners_running",
			Help: "Update listeners currently running",
		},
	)

	reconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgdrive_reconnects_total",
			Help: "Liveness checks by outcome",
		},
		[]string{"result"},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgdrive_auth_attempts_total",
			Help: "Sign-in steps by outcome",
		},
		[]string{"step", "result"},
	)

	// Lookups
	peerResolveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tgdrive_peer_resolve_duration_seconds",
			Help:    "Time to resolve a folder id by dialog scan",
			Buckets: prometheus.DefBuckets,
		},
	)

	folderScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tgdrive_folder_scan_duration_seconds",
			Help:    "Time to discover drive folders",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tgdrive_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tgdrive_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
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

// RecordTransfer records a drive operation and, on success, its bytes.
// direction is "up", "down" or "" for operations that move no content.
func RecordTransfer(operation, direction string, bytes int64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	transfersTotal.WithLabelValues(operation, status).Inc()
	if success && direction != "" && bytes > 0 {
		transferBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
}

// RecordStreamBytes records bytes relayed to a stream client.
func RecordStreamBytes(n int) {
	streamBytesTotal.Add(float64(n))
}

// RecordQuotaExceeded records a bandwidth ceiling rejection.
func RecordQuotaExceeded(direction string) {
	quotaExceededTotal.WithLabelValues(direction).Inc()
}

// RecordRemoteError records a classified remote failure.
func RecordRemoteError(kind string) {
	remoteErrorsTotal.WithLabelValues(kind).Inc()
}

// SetBandwidthUsed publishes today's accounted totals.
func SetBandwidthUsed(up, down int64) {
	bandwidthUsedBytes.WithLabelValues("up").Set(float64(up))
	bandwidthUsedBytes.WithLabelValues("down").Set(float64(down))
}

// RecordListenerStart records a spawned update listener.
func RecordListenerStart() {
	listenerStartsTotal.Inc()
	listenersRunning.Inc()
}

// RecordListenerStop records an update listener exit.
func RecordListenerStop() {
	listenersRunning.Dec()
}

// RecordReconnect records a liveness check outcome.
func RecordReconnect(result string) {
	reconnectsTotal.WithLabelValues(result).Inc()
}

// RecordAuthAttempt records a sign-in step outcome.
func RecordAuthAttempt(step string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(step, result).Inc()
}

// RecordPeerResolve records peer resolution latency.
func RecordPeerResolve(duration time.Duration) {
	peerResolveDuration.Observe(duration.Seconds())
}

// RecordFolderScan records folder discovery latency.
func RecordFolderScan(duration time.Duration) {
	folderScanDuration.Observe(duration.Seconds())
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. Requests
// are labelled by their mux pattern to keep ids out of the label set.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
