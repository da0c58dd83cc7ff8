// Package http exposes the claim board, the lifecycle operations and the
// intake flow over HTTP.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	SessionCookie   string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            "0.0.0.0:8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		SessionCookie:   "overturn_session",
	}
}

// Instrumentation adds request metrics and serves them
type Instrumentation interface {
	GinMiddleware() gin.HandlerFunc
	Handler() http.Handler
}

// HealthReporter reports whether the process is fit to serve. The details
// are rendered under "components".
type HealthReporter func() (healthy bool, details any)

// Deps are the collaborators behind the routes. Live, Metrics, Health and
// UploadsDir are optional.
type Deps struct {
	Claims      ClaimService
	Transcripts TranscriptService
	History     HistoryService
	Intake      IntakeService
	Export      BoardWriter
	Sessions    SessionProvider
	Live        http.Handler
	Metrics     Instrumentation
	Health      HealthReporter
	UploadsDir  string

	// MaxUploadSize bounds multipart reads; zero means DefaultMaxUploadSize
	MaxUploadSize     int
	// DirectTranscripts folds posted transcript lines straight into Claims.
	// It is set when no live transport echoes stored lines back.
	DirectTranscripts bool
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	deps       Deps
	router     *gin.Engine
	httpServer *http.Server
	logger     Logger
}

// NewServer builds the router for deps
func NewServer(config ServerConfig, deps Deps, logger Logger) *Server {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: config,
		deps:   deps,
		router: gin.New(),
		logger: logger,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	if s.deps.Metrics != nil {
		s.router.Use(s.deps.Metrics.GinMiddleware())
	}
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		kv := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Error("HTTP request", kv...)
			return
		}
		s.logger.Info("HTTP request", kv...)
	}
}

func (s *Server) setupRoutes() {
	h := newHandlers(s.deps, s.logger)

	s.router.GET("/health", h.HealthCheck)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
	if s.deps.UploadsDir != "" {
		s.router.Static("/uploads", s.deps.UploadsDir)
	}

	api := s.router.Group("/api", RequireSession(s.deps.Sessions, s.config.SessionCookie))
	{
		api.GET("/board", h.Board)
		api.GET("/claims", h.ListClaims)
		api.GET("/claims/export.xlsx", h.ExportBoard)
		api.GET("/claims/:id", h.GetClaim)
		api.PATCH("/claims/:id", h.EditClaim)
		api.POST("/claims/:id/transition", h.Transition)
		api.GET("/claims/:id/transcript", h.Transcript)
		api.POST("/claims/:id/transcript", h.AppendTranscript)
		api.GET("/claims/:id/history", h.History)

		api.POST("/intake/upload", h.Upload)
		api.POST("/intake/extract", h.Extract)
		api.POST("/intake/approve", h.Approve)
		api.POST("/intake/toggle", h.TogglePhrase)

		if s.deps.Live != nil {
			api.GET("/live", gin.WrapH(s.deps.Live))
		}
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", s.config.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
