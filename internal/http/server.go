// Package http provides the HTTP API for banditd.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/banditd/internal/bandit"
	"github.com/fyrsmithlabs/banditd/internal/decisionlog"
	"github.com/fyrsmithlabs/banditd/internal/embeddings"
	v1 "github.com/fyrsmithlabs/banditd/pkg/api/v1"
)

// Server provides the HTTP endpoints for banditd.
type Server struct {
	echo     *echo.Echo
	engine   *bandit.Engine
	embedder embeddings.Provider
	declog   *decisionlog.Log
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Deps are the collaborators the server fronts. Engine and Logger are
// required. Embedder is optional: without it, decision requests must carry
// precomputed embeddings. Decisions is optional: without it, the
// similar-decision lookup reports itself disabled.
type Deps struct {
	Engine    *bandit.Engine
	Embedder  embeddings.Provider
	Decisions *decisionlog.Log
	Logger    *zap.Logger
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, cfg *Config) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Port:            9090,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(deps.Logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			deps.Logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		engine:   deps.Engine,
		embedder: deps.Embedder,
		declog:   deps.Decisions,
		logger:   deps.Logger,
		config:   cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1g := s.echo.Group("/v1")
	v1g.POST("/decisions", s.handleDecide)
	v1g.GET("/decisions/similar", s.handleSimilar)
	v1g.POST("/posts/:id/published", s.handlePublished)
	v1g.POST("/posts/:id/snapshots", s.handleSnapshots)
	v1g.POST("/posts/:id/deleted", s.handleDeleted)
	v1g.POST("/posts/:id/evaluate", s.handleEvaluate)
	v1g.GET("/posts/:id", s.handleGetPost)
	v1g.GET("/preferences", s.handlePreferences)
	v1g.GET("/baselines", s.handleBaselines)
}

// handleHealth reports store reachability.
func (s *Server) handleHealth(c echo.Context) error {
	if err := s.engine.Health(c.Request().Context()); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, v1.HealthResponse{Status: "degraded"})
	}
	return c.JSON(http.StatusOK, v1.HealthResponse{Status: "ok"})
}

// Start starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully. Returns http.ErrServerClosed on clean
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.echo.Server.ReadTimeout = s.config.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.WriteTimeout

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", zap.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		s.logger.Info("shutting down http server")
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance, e.g. for registering extra
// routes in tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
