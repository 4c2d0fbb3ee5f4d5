package infra

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the Prometheus collectors of the demo.
type Metrics struct {
	gatherer prometheus.Gatherer

	TradesTotal       *prometheus.CounterVec
	TradeRejections   *prometheus.CounterVec
	FeedFetches       *prometheus.CounterVec
	FeedLatency       prometheus.Histogram
	PersistFailures   prometheus.Counter
	WebSocketClients  prometheus.Gauge
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// GlobalMetrics is registered on the default Prometheus registry.
var GlobalMetrics = NewMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)

// NewMetrics registers the collectors on reg. Tests pass a fresh registry.
func NewMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		TradesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptodemo_trades_total",
			Help: "Simulated trades applied to the ledger",
		}, []string{"side"}),
		TradeRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptodemo_trade_rejections_total",
			Help: "Trade attempts rejected by the ledger",
		}, []string{"reason"}),
		FeedFetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptodemo_feed_fetch_total",
			Help: "Price feed fetches by result",
		}, []string{"result"}),
		FeedLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cryptodemo_feed_fetch_seconds",
			Help:    "Price feed fetch latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "cryptodemo_persist_failures_total",
			Help: "Ledger snapshot saves that failed",
		}),
		WebSocketClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "cryptodemo_websocket_clients",
			Help: "Connected WebSocket clients",
		}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptodemo_http_requests_total",
			Help: "HTTP requests by method, path and status",
		}, []string{"method", "path", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cryptodemo_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"method", "path"}),
	}
}

// RecordTrade records an applied trade.
func (m *Metrics) RecordTrade(side string) {
	m.TradesTotal.WithLabelValues(side).Inc()
}

// RecordRejection records a rejected trade attempt.
func (m *Metrics) RecordRejection(reason string) {
	m.TradeRejections.WithLabelValues(reason).Inc()
}

// RecordFeedFetch records one listing fetch and its latency.
func (m *Metrics) RecordFeedFetch(err error, latency time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.FeedFetches.WithLabelValues(result).Inc()
	m.FeedLatency.Observe(latency.Seconds())
}

// RecordPersistFailure records a failed snapshot save.
func (m *Metrics) RecordPersistFailure() {
	m.PersistFailures.Inc()
}

// IncrementConnections increments active WebSocket clients by 1.
func (m *Metrics) IncrementConnections() {
	m.WebSocketClients.Inc()
}

// DecrementConnections decrements active WebSocket clients by 1.
func (m *Metrics) DecrementConnections() {
	m.WebSocketClients.Dec()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request count and duration.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		// Route pattern keeps /icons/{id} to one series
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
