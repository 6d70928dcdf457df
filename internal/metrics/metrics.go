// Package metrics provides Prometheus instrumentation for the market engine.
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
	// TradesTotal counts trades that opened a position.
	TradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "distmarket_trades_total",
		Help: "Total number of trades executed",
	})

	// CollateralPosted tracks the collateral locked per trade.
	CollateralPosted = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "distmarket_trade_collateral",
		Help:    "Collateral posted per trade in currency units",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	})

	// LiquidityAddedTotal sums backing added by liquidity providers,
	// including the initial deposit.
	LiquidityAddedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "distmarket_liquidity_added_total",
		Help: "Cumulative backing deposited by liquidity providers",
	})

	// TotalBacking is the backing currently tracked by the market.
	TotalBacking = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "distmarket_total_backing",
		Help: "Backing currently tracked by the market",
	})

	// Rejections counts operations refused by the engine, by operation and
	// error kind.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distmarket_rejections_total",
		Help: "Market operations rejected",
	}, []string{"op", "kind"})

	// SettlementsTotal counts payouts by kind ("trader", "lp_curve", "lp_pool").
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distmarket_settlements_total",
		Help: "Positions settled",
	}, []string{"kind"})

	// PayoutsTotal sums currency paid out at settlement, by kind.
	PayoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distmarket_payouts_total",
		Help: "Currency paid out at settlement",
	}, []string{"kind"})

	// WorstCaseSeeds counts worst-case search starts by outcome.
	WorstCaseSeeds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distmarket_worst_case_seeds_total",
		Help: "Worst-case search seeds by outcome",
	}, []string{"outcome"})

	// OperationLatency tracks engine operation latency.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "distmarket_operation_latency_seconds",
		Help:    "Market operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "distmarket_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distmarket_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "distmarket_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveSeed records one worst-case search start.
func ObserveSeed(converged bool) {
	if converged {
		WorstCaseSeeds.WithLabelValues("converged").Inc()
		return
	}
	WorstCaseSeeds.WithLabelValues("rejected").Inc()
}

// Since records the latency of op started at start.
func Since(op string, start time.Time) {
	OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

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

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
