// Package metrics exposes Prometheus collectors for the scan loop and a
// /healthz status with Redis and SQLite liveness probes.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the scanner.
type Metrics struct {
	CyclesTotal        prometheus.Counter
	CyclesSkipped      prometheus.Counter     // market closed
	EvaluationsTotal   *prometheus.CounterVec // labels: result=ok|error
	SignalsTotal       *prometheus.CounterVec // labels: action, variant
	FetchErrorsTotal   prometheus.Counter
	PublishErrorsTotal *prometheus.CounterVec // labels: sink
	CycleDuration      prometheus.Histogram
	FetchDuration      prometheus.Histogram
	ComputeDuration    prometheus.Histogram
	LastCycleTimestamp prometheus.Gauge

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// Live surface
	WSClients   prometheus.Gauge
	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics creates the collectors and registers them on reg
// (prometheus.DefaultRegisterer in production, a fresh registry in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_cycles_total",
			Help: "Scan cycles executed",
		}),
		CyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_cycles_skipped_total",
			Help: "Scan cycles skipped because the market was closed",
		}),
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_evaluations_total",
			Help: "Per-symbol evaluations by result",
		}, []string{"result"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_signals_total",
			Help: "Classified signals by action and variant",
		}, []string{"action", "variant"}),
		FetchErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_fetch_errors_total",
			Help: "Failed historical candle fetches",
		}),
		PublishErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_publish_errors_total",
			Help: "Failed signal deliveries per sink",
		}, []string{"sink"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_cycle_duration_seconds",
			Help:    "Wall time of a full scan cycle",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_fetch_duration_seconds",
			Help:    "Historical candle fetch latency per symbol",
			Buckets: prometheus.DefBuckets,
		}),
		ComputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_compute_duration_seconds",
			Help:    "Indicator engine + classifier latency per symbol",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		LastCycleTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_last_cycle_timestamp_seconds",
			Help: "Unix time the last scan cycle finished",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_ws_clients",
			Help: "Connected WebSocket signal subscribers",
		}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CyclesSkipped,
		m.EvaluationsTotal,
		m.SignalsTotal,
		m.FetchErrorsTotal,
		m.PublishErrorsTotal,
		m.CycleDuration,
		m.FetchDuration,
		m.ComputeDuration,
		m.LastCycleTimestamp,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.WSClients,
		m.MarketState,
	)

	return m
}

// ObserveBreaker records a circuit breaker transition. to is the numeric
// state (0=closed, 1=open, 2=half-open).
func (m *Metrics) ObserveBreaker(to int) {
	m.RedisCircuitBreakerState.Set(float64(to))
	if to == 1 {
		m.RedisCircuitBreakerTrips.Inc()
	}
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled    bool
	RedisConnected  bool
	RedisLatencyMs  float64
	SQLiteEnabled   bool
	SQLiteOK        bool
	SQLiteLatencyMs float64
	LastCheckAt     time.Time

	LastCycleAt      time.Time
	LastCycleSymbols int
	LastCycleErrors  int
	MarketOpen       bool
	StartedAt        time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

// RecordCycle stores the outcome of a finished scan cycle.
func (h *HealthStatus) RecordCycle(at time.Time, symbols, errors int) {
	h.mu.Lock()
	h.LastCycleAt = at
	h.LastCycleSymbols = symbols
	h.LastCycleErrors = errors
	h.mu.Unlock()
}

func (h *HealthStatus) SetMarketOpen(v bool) {
	h.mu.Lock()
	h.MarketOpen = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker probes the given dependencies immediately and then
// every interval until ctx is done. Nil dependencies are not probed.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	probe()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// Report is the /healthz response body.
type Report struct {
	Status           string  `json:"status"`
	Uptime           string  `json:"uptime"`
	MarketOpen       bool    `json:"market_open"`
	LastCycleAt      string  `json:"last_cycle_at,omitempty"`
	LastCycleSymbols int     `json:"last_cycle_symbols"`
	LastCycleErrors  int     `json:"last_cycle_errors"`
	RedisEnabled     bool    `json:"redis_enabled"`
	RedisConnected   bool    `json:"redis_connected"`
	RedisLatencyMs   float64 `json:"redis_latency_ms"`
	SQLiteEnabled    bool    `json:"sqlite_enabled"`
	SQLiteOK         bool    `json:"sqlite_ok"`
	SQLiteLatencyMs  float64 `json:"sqlite_latency_ms"`
	LastCheckAt      string  `json:"last_check_at,omitempty"`
}

// Snapshot computes the overall status and HTTP code.
// A down dependency makes the service "degraded" (503); all enabled
// dependencies down makes it "unhealthy".
func (h *HealthStatus) Snapshot() (Report, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	enabled, down := 0, 0
	if h.RedisEnabled {
		enabled++
		if !h.RedisConnected {
			down++
		}
	}
	if h.SQLiteEnabled {
		enabled++
		if !h.SQLiteOK {
			down++
		}
	}

	status, code := "healthy", http.StatusOK
	if down > 0 {
		status, code = "degraded", http.StatusServiceUnavailable
		if down == enabled {
			status = "unhealthy"
		}
	}

	r := Report{
		Status:           status,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		MarketOpen:       h.MarketOpen,
		LastCycleSymbols: h.LastCycleSymbols,
		LastCycleErrors:  h.LastCycleErrors,
		RedisEnabled:     h.RedisEnabled,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		SQLiteEnabled:    h.SQLiteEnabled,
		SQLiteOK:         h.SQLiteOK,
		SQLiteLatencyMs:  h.SQLiteLatencyMs,
	}
	if !h.LastCycleAt.IsZero() {
		r.LastCycleAt = h.LastCycleAt.Format(time.RFC3339)
	}
	if !h.LastCheckAt.IsZero() {
		r.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}
	return r, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, code := h.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(report)
}
