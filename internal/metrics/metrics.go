// Package metrics exposes Prometheus metrics and the health endpoint
// for the trading engine.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading engine.
type Metrics struct {
	EventsTotal     prometheus.Counter
	DecodeFailures  prometheus.Counter
	FeedReconnects  *prometheus.CounterVec // labels: conn
	EntrySignals    prometheus.Counter
	OrdersSubmitted *prometheus.CounterVec // labels: side
	OrderFailures   prometheus.Counter
	ExitsTotal      *prometheus.CounterVec // labels: reason
	OpenPositions   prometheus.Gauge
	EventLag        prometheus.Gauge
}

// New registers and returns the engine metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradebot_events_total",
			Help: "Total market events decoded from feed connections",
		}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradebot_decode_failures_total",
			Help: "Feed messages skipped due to decode errors",
		}),
		FeedReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_feed_reconnects_total",
			Help: "Feed reconnection attempts per connection",
		}, []string{"conn"}),
		EntrySignals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradebot_entry_signals_total",
			Help: "Entry signals produced by the evaluator",
		}),
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_orders_submitted_total",
			Help: "Orders accepted by the broker, by side",
		}, []string{"side"}),
		OrderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradebot_order_failures_total",
			Help: "Order submissions rejected or failed",
		}),
		ExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_exits_total",
			Help: "Position exits by reason",
		}, []string{"reason"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradebot_open_positions",
			Help: "Currently open positions",
		}),
		EventLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradebot_event_lag_seconds",
			Help: "Lag between event timestamp and processing time",
		}),
	}

	reg.MustRegister(
		m.EventsTotal,
		m.DecodeFailures,
		m.FeedReconnects,
		m.EntrySignals,
		m.OrdersSubmitted,
		m.OrderFailures,
		m.ExitsTotal,
		m.OpenPositions,
		m.EventLag,
	)
	return m
}

// HealthStatus represents engine health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	FeedsConnected int       `json:"feeds_connected"`
	FeedsTotal     int       `json:"feeds_total"`
	LastEventTime  time.Time `json:"last_event_time"`
	StoreOK        bool      `json:"store_ok"`

	StoreLatencyMs float64   `json:"store_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(feedsTotal int) *HealthStatus {
	return &HealthStatus{
		FeedsTotal: feedsTotal,
		StartedAt:  time.Now(),
		StoreOK:    true,
	}
}

func (h *HealthStatus) SetFeedsConnected(n int) {
	h.mu.Lock()
	h.FeedsConnected = n
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastEventTime(t time.Time) {
	h.mu.Lock()
	h.LastEventTime = t
	h.mu.Unlock()
}

// CheckSQLite pings the position store and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.StoreOK = err == nil
	h.StoreLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckRedis pings the Redis position store and records latency + health.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.StoreOK = err == nil
	h.StoreLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic store probes until ctx is done.
// Exactly one of rdb and sqlDB is expected to be non-nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := "healthy"
	code := http.StatusOK
	if h.FeedsConnected < h.FeedsTotal || !h.StoreOK {
		overall = "degraded"
		code = http.StatusServiceUnavailable
	}
	if h.FeedsConnected == 0 && !h.StoreOK {
		overall = "unhealthy"
	}

	eventAge := ""
	if !h.LastEventTime.IsZero() {
		eventAge = time.Since(h.LastEventTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status         string  `json:"status"`
		Uptime         string  `json:"uptime"`
		FeedsConnected int     `json:"feeds_connected"`
		FeedsTotal     int     `json:"feeds_total"`
		LastEventTime  string  `json:"last_event_time"`
		EventAge       string  `json:"event_age"`
		StoreOK        bool    `json:"store_ok"`
		StoreLatencyMs float64 `json:"store_latency_ms"`
		LastCheckAt    string  `json:"last_check_at"`
	}{
		Status:         overall,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		FeedsConnected: h.FeedsConnected,
		FeedsTotal:     h.FeedsTotal,
		LastEventTime:  h.LastEventTime.Format(time.RFC3339),
		EventAge:       eventAge,
		StoreOK:        h.StoreOK,
		StoreLatencyMs: h.StoreLatencyMs,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
