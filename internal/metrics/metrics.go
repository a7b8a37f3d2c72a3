// Package metrics provides Prometheus instrumentation for the basket engine.
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
	// PricingRequests counts basket pricing computations by outcome.
	PricingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "basket_pricing_requests_total",
		Help: "Total number of basket pricing requests processed",
	}, []string{"status"})

	// PricingDuration tracks how long one pricing pass takes.
	PricingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "basket_pricing_duration_seconds",
		Help:    "Time taken to price a basket",
		Buckets: prometheus.DefBuckets,
	})

	// ActiveBaskets tracks the number of baskets in the registry.
	ActiveBaskets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "basket_active_baskets",
		Help: "Number of baskets currently stored",
	})

	// StreamSubscribers tracks open SSE stream connections.
	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "basket_stream_subscribers",
		Help: "Number of connected live-stream subscribers",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "basket_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// BroadcastTicks counts scheduler ticks by outcome.
	BroadcastTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "basket_broadcast_ticks_total",
		Help: "Total broadcast scheduler ticks",
	}, []string{"status"})

	// QuoteFetchErrors counts failed quote source fetches.
	QuoteFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "basket_quote_fetch_errors_total",
		Help: "Quote source fetches that failed or timed out",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "basket_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "basket_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the URL path for the label; the route surface is small and
		// fixed, so cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so streaming responses keep
// working behind the middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
