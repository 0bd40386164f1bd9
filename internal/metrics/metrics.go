// Package metrics provides Prometheus instrumentation for the pnl engine.
package metrics

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

var (
	// JournalEntriesTotal counts accepted mutations, partitioned by kind.
	JournalEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_journal_entries_total",
		Help: "Total number of journal entries appended",
	}, []string{"kind"})

	// MutationLatency tracks apply-and-persist latency per mutation kind.
	MutationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pnl_mutation_latency_seconds",
		Help:    "Mutation latency in seconds, engine apply plus journal append",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// ReplayDuration tracks how long it takes to rebuild an account engine
	// from its journal.
	ReplayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pnl_replay_duration_seconds",
		Help:    "Account journal replay duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// LoadedAccounts tracks the number of account engines held in memory.
	LoadedAccounts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pnl_loaded_accounts",
		Help: "Number of account engines currently loaded",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pnl_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pnl_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// RejectionsTotal counts mutations refused by the engine or the limiter.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_rejections_total",
		Help: "Mutations rejected, by reason",
	}, []string{"reason"})

	// RealizedPnL is the running sum of realized P&L across all accounts
	// since process start. It can go negative.
	RealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pnl_realized_pnl",
		Help: "Realized profit and loss recorded since process start",
	})

	// SoldVolume tracks cumulative quantity sold per symbol.
	SoldVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_sold_volume_total",
		Help: "Cumulative quantity sold",
	}, []string{"symbol"})
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern returns the matched chi pattern so account IDs do not
// become label values. Unrouted requests collapse to one label.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
