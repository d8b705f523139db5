// Package metrics provides Prometheus instrumentation for the settlement engine.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workpact",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "workpact",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EscrowCapturedTotal counts escrow records captured into holding.
	EscrowCapturedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "workpact",
		Name:      "escrow_captured_total",
		Help:      "Total escrow payments captured.",
	})

	// EscrowReleasedTotal counts successful settlements by trigger.
	EscrowReleasedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workpact",
			Name:      "escrow_released_total",
			Help:      "Total escrows released by trigger (auto, admin, arbitration).",
		},
		[]string{"trigger"},
	)

	// EscrowRefundedTotal counts refunds issued through the gateway.
	EscrowRefundedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "workpact",
		Name:      "escrow_refunded_total",
		Help:      "Total escrow refunds issued to clients.",
	})

	// DisputesOpenedTotal counts disputes opened against held escrows.
	DisputesOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "workpact",
		Name:      "disputes_opened_total",
		Help:      "Total disputes opened.",
	})

	// DisputesResolvedTotal counts dispute resolutions by outcome.
	DisputesResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workpact",
			Name:      "disputes_resolved_total",
			Help:      "Total disputes resolved by outcome.",
		},
		[]string{"resolution"},
	)

	// SettlementFailuresTotal counts settlements that failed and left the
	// record untouched.
	SettlementFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "workpact",
		Name:      "settlement_failures_total",
		Help:      "Total settlement attempts that failed without state change.",
	})

	// VersionConflictsTotal counts optimistic concurrency conflicts.
	VersionConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "workpact",
		Name:      "version_conflicts_total",
		Help:      "Total writes rejected by the version guard.",
	})

	// SchedulerRunsTotal counts auto-release sweep executions.
	SchedulerRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "workpact",
		Name:      "scheduler_runs_total",
		Help:      "Total auto-release scheduler sweeps.",
	})

	// SchedulerReleaseDelay observes how long past the deadline a record
	// waited before the sweep picked it up.
	SchedulerReleaseDelay = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "workpact",
		Name:      "scheduler_release_delay_seconds",
		Help:      "Delay between auto-release deadline and actual release.",
		Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
	})

	// EventsEmittedTotal counts settlement events by type.
	EventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "workpact",
			Name:      "events_emitted_total",
			Help:      "Total settlement events emitted by type.",
		},
		[]string{"type"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "workpact",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "workpact", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "workpact", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "workpact", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "workpact", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EscrowCapturedTotal,
		EscrowReleasedTotal,
		EscrowRefundedTotal,
		DisputesOpenedTotal,
		DisputesResolvedTotal,
		SettlementFailuresTotal,
		VersionConflictsTotal,
		SchedulerRunsTotal,
		SchedulerReleaseDelay,
		EventsEmittedTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
