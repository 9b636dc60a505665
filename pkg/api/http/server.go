package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/aescanero/chcount/internal/application/jobs"
	"github.com/aescanero/chcount/pkg/adapters/tracing"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SessionHandler serves WebSocket sessions
type SessionHandler interface {
	HandleSession(c *gin.Context)
}

// HealthChecker reports worker pool health
type HealthChecker interface {
	IsHealthy() bool
}

// SessionCounter reports the number of connected sessions
type SessionCounter interface {
	Count() int
}

// Server represents the HTTP API server
type Server struct {
	router    *gin.Engine
	server    *http.Server
	jobs      *jobs.Service
	health    HealthChecker
	sessions  SessionCounter
	wsHandler SessionHandler
	docsDir   string
	bodyLimit int64
	logger    *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Host           string
	Port           int
	DocsDir        string
	BodyLimit      int64
	ReadTimeout    time.Duration
	Jobs           *jobs.Service
	Health         HealthChecker
	Sessions       SessionCounter
	MetricsHandler http.Handler
	Logger         *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.Middleware())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:    router,
		jobs:      cfg.Jobs,
		health:    cfg.Health,
		sessions:  cfg.Sessions,
		docsDir:   cfg.DocsDir,
		bodyLimit: cfg.BodyLimit,
		logger:    cfg.Logger,
	}

	s.setupRoutes(cfg.MetricsHandler)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadTimeout,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(metrics http.Handler) {
	// Root: WebSocket upgrade or index
	s.router.GET("/", s.handleRoot)

	s.router.GET("/health", s.handleHealth)

	if metrics != nil {
		s.router.GET("/metrics", gin.WrapH(metrics))
	}

	api := s.router.Group("/api")
	{
		api.POST("/count", bodyLimit(s.bodyLimit), s.handleSubmitCount)
		api.GET("/count/:request_id", s.handleGetCount)

		for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete} {
			api.Handle(method, "/count", s.handleUnsupported)
		}
	}

	s.router.NoRoute(s.handleStatic)
}

// SetupWebSocket routes upgrade requests on the root path to handler
func (s *Server) SetupWebSocket(handler SessionHandler) {
	s.wsHandler = handler
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
