// Package server sets up the HTTP server with all routes.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/workpact/workpact/internal/auth"
	"github.com/workpact/workpact/internal/balances"
	"github.com/workpact/workpact/internal/circuitbreaker"
	"github.com/workpact/workpact/internal/config"
	"github.com/workpact/workpact/internal/escrow"
	"github.com/workpact/workpact/internal/events"
	"github.com/workpact/workpact/internal/gateway"
	"github.com/workpact/workpact/internal/health"
	"github.com/workpact/workpact/internal/logging"
	"github.com/workpact/workpact/internal/metrics"
	"github.com/workpact/workpact/internal/ratelimit"
	"github.com/workpact/workpact/internal/realtime"
	"github.com/workpact/workpact/internal/security"
	"github.com/workpact/workpact/internal/validation"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg           *config.Config
	db            *sql.DB // nil if using in-memory storage
	gateway       gateway.Gateway
	emitter       *events.Emitter
	realtimeHub   *realtime.Hub
	escrowService *escrow.Service
	balanceSvc    *balances.Service
	scheduler     *escrow.Scheduler
	rateLimiter   *ratelimit.Limiter
	healthReg     *health.Registry
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGateway sets a custom refund gateway (for testing).
func WithGateway(gw gateway.Gateway) Option {
	return func(s *Server) {
		s.gateway = gw
	}
}

// New creates a new server instance.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, cfg.LogFormat),
		healthReg: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory.
	var escrowStore escrow.Store
	var balanceStore balances.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		escrowStore = escrow.NewPostgresStore(db)
		balanceStore = balances.NewPostgresStore(db)
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		memBalances := balances.NewMemoryStore()
		balanceStore = memBalances
		escrowStore = escrow.NewMemoryStore(memBalances)
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Refund gateway: Stripe when an API key is configured. The breaker
	// stops refund attempts early when Stripe is failing repeatedly.
	if s.gateway == nil {
		if cfg.StripeAPIKey != "" {
			breaker := circuitbreaker.New(5, 30*time.Second)
			s.gateway = gateway.NewBreakerGateway(gateway.NewStripeGateway(cfg.StripeAPIKey), breaker, s.logger)
			s.logger.Info("stripe refund gateway enabled")
		} else {
			s.gateway = gateway.NewMemoryGateway()
			s.logger.Info("in-memory refund gateway enabled (refunds are simulated)")
		}
	}

	// Realtime hub receives every domain event and fans out to clients.
	s.realtimeHub = realtime.NewHub(s.logger)
	s.emitter = events.NewEmitter(s.logger, s.realtimeHub)

	s.balanceSvc = balances.NewService(balanceStore)
	s.escrowService = escrow.NewService(escrowStore, s.gateway, s.emitter, escrow.Settings{
		IndividualFeePercent:     cfg.IndividualFeePercent,
		FirmFeePercent:           cfg.FirmFeePercent,
		ReleaseWindow:            cfg.ReleaseWindow(),
		RefundTimeout:            cfg.RefundTimeout,
		CommissionRules:          cfg.CommissionRules,
		DefaultCommissionPercent: cfg.DefaultCommissionPercent,
	}, s.logger)
	s.scheduler = escrow.NewScheduler(s.escrowService, escrowStore, cfg.SchedulerInterval, cfg.SchedulerBatch, s.logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time settlement events
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/v1")
	v1.Use(validation.IDParamMiddleware())

	escrowHandler := escrow.NewHandler(s.escrowService)
	escrowHandler.RegisterRoutes(v1)

	balanceHandler := balances.NewHandler(s.balanceSvc, s.logger)
	balanceHandler.RegisterRoutes(v1)

	// Arbitration and forced release need the admin secret.
	admin := v1.Group("")
	admin.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	escrowHandler.RegisterAdminRoutes(admin)
}

// HealthResponse for health check endpoints.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Workpact Settlement Engine",
		"description": "Escrow and settlement for commissioned professional engagements",
		"version":     "0.1.0",
	})
}

// Run starts the HTTP server with graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	go s.scheduler.Start(runCtx)

	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Stop background goroutines (hub, scheduler, stats collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	s.scheduler.Stop()
	s.logger.Info("scheduler stopped")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
