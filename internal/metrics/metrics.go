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

// Metrics holds the Prometheus metrics for sync, recompute and screening
// runs. Each instance owns its registry so tests and repeated scheduled runs
// never collide on registration.
type Metrics struct {
	Registry *prometheus.Registry

	// Sync loop
	RequestsDispatched *prometheus.CounterVec // labels: mode
	RequestsCompleted  *prometheus.CounterVec // labels: mode
	RequestErrors      prometheus.Counter
	SkippedUpToDate    prometheus.Counter
	Mismatches         prometheus.Counter // boundary close revised upstream
	MissingBoundary    prometheus.Counter
	QuotesCommitted    prometheus.Counter
	Outstanding        prometheus.Gauge
	SQLiteCommitDur    prometheus.Histogram

	// Recompute and screening
	IndicatorComputeDur prometheus.Histogram
	IndicatorsTotal     prometheus.Counter
	TickersFailed       prometheus.Counter
	Candidates          *prometheus.GaugeVec // labels: trend

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge       // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips *prometheus.CounterVec // labels: kind of the failing publish
	RedisBufferedWrites      *prometheus.CounterVec // labels: kind
	RedisBufferDropped       prometheus.Counter
}

// NewMetrics creates and registers all metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		RequestsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotesync_requests_dispatched_total",
			Help: "Historical requests submitted to the session (by mode)",
		}, []string{"mode"}),
		RequestsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotesync_requests_completed_total",
			Help: "Historical requests that reached end of history (by mode)",
		}, []string{"mode"}),
		RequestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotesync_request_errors_total",
			Help: "Broker-reported per-request errors",
		}),
		SkippedUpToDate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotesync_skipped_up_to_date_total",
			Help: "Incremental tickers skipped because the cache is current",
		}),
		Mismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotesync_reconcile_mismatches_total",
			Help: "Incremental batches rejected because the boundary close was revised",
		}),
		MissingBoundary: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotesync_reconcile_missing_boundary_total",
			Help: "Incremental batches with no stored row at the boundary timestamp",
		}),
		QuotesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotesync_quotes_committed_total",
			Help: "Daily quotes upserted into the store",
		}),
		Outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quotesync_outstanding_requests",
			Help: "Requests dispatched and not yet completed or failed",
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quotesync_sqlite_commit_duration_seconds",
			Help:    "SQLite commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quotesync_indicator_compute_duration_seconds",
			Help:    "Indicator engine compute latency per ticker",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		IndicatorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotesync_indicator_values_total",
			Help: "Indicator values written",
		}),
		TickersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotesync_recompute_tickers_failed_total",
			Help: "Tickers whose recompute or screening failed",
		}),
		Candidates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quotesync_screen_candidates",
			Help: "Candidates reported by the last screening run (by trend)",
		}, []string{"trend"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quotesync_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotesync_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open (by the publish that tripped it)",
		}, []string{"kind"}),
		RedisBufferedWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotesync_redis_buffered_writes_total",
			Help: "Publishes held locally while the Redis circuit breaker was open (by kind)",
		}, []string{"kind"}),
		RedisBufferDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotesync_redis_buffer_dropped_total",
			Help: "Buffered publishes discarded because the buffer was full",
		}),
	}

	m.Registry.MustRegister(
		m.RequestsDispatched,
		m.RequestsCompleted,
		m.RequestErrors,
		m.SkippedUpToDate,
		m.Mismatches,
		m.MissingBoundary,
		m.QuotesCommitted,
		m.Outstanding,
		m.SQLiteCommitDur,
		m.IndicatorComputeDur,
		m.IndicatorsTotal,
		m.TickersFailed,
		m.Candidates,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.RedisBufferDropped,
	)

	return m
}

// HealthStatus represents the health of a long-running (scheduled) process.
type HealthStatus struct {
	mu sync.RWMutex

	SessionConnected bool      `json:"session_connected"`
	LastRunAt        time.Time `json:"last_run_at"`
	LastRunErr       string    `json:"last_run_error"`
	RedisConnected   bool      `json:"redis_connected"`
	RedisEnabled     bool      `json:"redis_enabled"`
	SQLiteOK         bool      `json:"sqlite_ok"`

	// Liveness check results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetSessionConnected(v bool) {
	h.mu.Lock()
	h.SessionConnected = v
	h.mu.Unlock()
}

// RecordRun stores the outcome of the latest sync run.
func (h *HealthStatus) RecordRun(at time.Time, err error) {
	h.mu.Lock()
	h.LastRunAt = at
	h.LastRunErr = ""
	if err != nil {
		h.LastRunErr = err.Error()
	}
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
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. rdb may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(checkCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(checkCtx, sqlDB)
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

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.SQLiteOK || h.LastRunErr != "" || (h.RedisEnabled && !h.RedisConnected) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SQLiteOK && h.LastRunErr != "" {
		overallStatus = "unhealthy"
	}

	lastRun := ""
	if !h.LastRunAt.IsZero() {
		lastRun = h.LastRunAt.Format(time.RFC3339)
	}

	status := struct {
		Status           string  `json:"status"`
		Uptime           string  `json:"uptime"`
		SessionConnected bool    `json:"session_connected"`
		LastRunAt        string  `json:"last_run_at"`
		LastRunErr       string  `json:"last_run_error,omitempty"`
		RedisConnected   bool    `json:"redis_connected"`
		RedisLatencyMs   float64 `json:"redis_latency_ms"`
		SQLiteOK         bool    `json:"sqlite_ok"`
		SQLiteLatencyMs  float64 `json:"sqlite_latency_ms"`
		LastCheckAt      string  `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		SessionConnected: h.SessionConnected,
		LastRunAt:        lastRun,
		LastRunErr:       h.LastRunErr,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		SQLiteOK:         h.SQLiteOK,
		SQLiteLatencyMs:  h.SQLiteLatencyMs,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server for m's registry.
func NewServer(addr string, m *Metrics, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the mux, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

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
