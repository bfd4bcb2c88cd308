// Package server sets up the HTTP server, the Kafka ingest loop, and all routes
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
	"github.com/redis/go-redis/v9"

	"fraudwatch/internal/alertfeed"
	"fraudwatch/internal/config"
	"fraudwatch/internal/consumer"
	"fraudwatch/internal/decision"
	"fraudwatch/internal/dedup"
	"fraudwatch/internal/flags"
	"fraudwatch/internal/health"
	"fraudwatch/internal/logging"
	"fraudwatch/internal/metrics"
	"fraudwatch/internal/pipeline"
	"fraudwatch/internal/retry"
	"fraudwatch/internal/scoring"
	"fraudwatch/internal/statestore"
	"fraudwatch/internal/traces"
	"fraudwatch/internal/velocity"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server, the scoring pipeline, and their dependencies
type Server struct {
	cfg          *config.Config
	stateStore   statestore.Store
	flagStore    flags.Store
	pipeline     *pipeline.Pipeline
	feed         *alertfeed.Feed
	ingest       *consumer.Consumer
	healthReg    *health.Registry
	db           *sql.DB            // nil if using in-memory
	redisClient  *redis.Client      // nil if using in-memory
	shutdownOTel func(context.Context) error
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithFlagStore sets a custom flag store (for testing)
func WithFlagStore(store flags.Store) Option {
	return func(s *Server) {
		s.flagStore = store
	}
}

// WithStateStore sets a custom state store (for testing)
func WithStateStore(store statestore.Store) Option {
	return func(s *Server) {
		s.stateStore = store
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set stores/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()
	s.healthReg = health.NewRegistry()

	// Persistent storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if s.flagStore == nil {
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("failed to open database: %w", err)
			}

			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)

			if err := retry.Do(ctx, 5, time.Second, func(ctx context.Context) error {
				return db.PingContext(ctx)
			}); err != nil {
				return nil, fmt.Errorf("failed to connect to database: %w", err)
			}

			s.db = db
			store := flags.NewPostgresStore(db)
			if err := store.Migrate(ctx); err != nil {
				s.logger.Warn("failed to migrate flag store", "error", err)
			}
			s.flagStore = store
			s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
		} else {
			s.flagStore = flags.NewMemoryStore()
			s.logger.Info("using in-memory storage (data will not persist)")
		}
	}

	// Short-lived state (Redis if REDIS_ADDR set, otherwise in-memory)
	if s.stateStore == nil {
		if cfg.RedisAddr != "" {
			client := redis.NewClient(&redis.Options{
				Addr: cfg.RedisAddr,
				DB:   cfg.RedisDB,
			})
			if err := retry.Do(ctx, 5, time.Second, func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			}); err != nil {
				return nil, fmt.Errorf("failed to connect to redis: %w", err)
			}
			s.redisClient = client
			s.stateStore = statestore.NewRedisStore(client)
			s.logger.Info("using Redis state store", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		} else {
			s.stateStore = statestore.NewMemoryStore()
			s.logger.Info("using in-memory state store (dedup and velocity will not survive restarts)")
		}
	}

	s.healthReg.Register("flag_store", health.PingChecker("flag_store", s.flagStore))
	s.healthReg.Register("state_store", health.PingChecker("state_store", s.stateStore))

	// Model scorer
	var scorer scoring.Scorer
	switch cfg.ScorerMode {
	case config.ScorerModeStub:
		scorer = scoring.NewStubScorer()
		s.logger.Info("using stub scorer (no model API)")
	default:
		httpScorer := scoring.NewHTTPScorer(cfg.ModelAPIURL, s.logger).
			WithTimeout(cfg.ModelTimeout)
		if cfg.ScorerFailClosed {
			httpScorer = httpScorer.WithFailClosed()
		}
		scorer = httpScorer
		s.logger.Info("using model API scorer",
			"url", cfg.ModelAPIURL,
			"timeout", cfg.ModelTimeout,
			"fail_closed", cfg.ScorerFailClosed,
		)
	}

	// Tracing (no-op when endpoint unset)
	shutdownOTel, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing init failed, continuing without traces", "error", err)
	} else {
		s.shutdownOTel = shutdownOTel
	}

	// Core pipeline
	s.pipeline = pipeline.New(
		dedup.New(s.stateStore),
		velocity.NewTracker(s.stateStore),
		scorer,
		decision.NewEngine(),
		s.flagStore,
		s.logger,
	)

	// Alert feed tailing the flag log
	s.feed = alertfeed.New(s.flagStore, s.logger).WithInterval(cfg.PollInterval)
	s.pipeline.OnFlag(s.feed.Notify)

	// Kafka ingest (skipped when brokers unset, e.g. in handler tests)
	if cfg.KafkaBrokers != "" {
		ingest, err := consumer.New(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaTopic, s.pipeline, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
		}
		s.ingest = ingest
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
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

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
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

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
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

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Alert streaming
	feedHandler := alertfeed.NewHandler(s.feed, s.logger)
	s.router.GET("/alerts/stream", feedHandler.StreamSSE)
	s.router.GET("/alerts/ws", feedHandler.StreamWebSocket)

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group (read side over the flag and transaction logs)
	v1 := s.router.Group("/v1")
	flagHandler := flags.NewHandler(s.flagStore)
	v1.GET("/flags", flagHandler.ListFlags)
	v1.GET("/transactions/:txnId", flagHandler.GetTransaction)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	allHealthy, statuses := s.healthReg.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
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
		"name":        "Fraudwatch",
		"description": "Real-time transaction fraud scoring",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and the Kafka ingest loop with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      0, // streaming endpoints hold connections open
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server and consumer errors
	errChan := make(chan error, 2)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start Kafka ingest loop
	if s.ingest != nil {
		go func() {
			if err := s.ingest.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("consumer: %w", err)
			}
		}()
	}

	// DB pool gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (consumer, feed subscribers)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.shutdownOTel != nil {
		if err := s.shutdownOTel(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
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

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Pipeline returns the scoring pipeline for testing
func (s *Server) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
