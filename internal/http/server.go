// Package http serves the screenpilot REST API used by the browser extension.
package http

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/logging"
	"github.com/fyrsmithlabs/screenpilot/internal/services"
)

// Server provides the HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	registry services.Registry
	logger   *logging.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigins []string
	// MaxUploadBytes bounds /upload file size. Defaults to 10MB.
	MaxUploadBytes int64
	Version        string
}

const defaultMaxUpload = 10 << 20

// NewServer creates a new HTTP server.
func NewServer(reg services.Registry, logger *logging.Logger, cfg *Config) (*Server, error) {
	if reg == nil || reg.Pipeline() == nil {
		return nil, fmt.Errorf("registry with a pipeline is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "0.0.0.0", Port: 8000}
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		registry: reg,
		logger:   logger,
		config:   cfg,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{echo.GET, echo.POST, echo.DELETE, echo.OPTIONS},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(newRequestMetrics(nil, logger.Underlying()).middleware)
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

// requestLogger tags the request context with its ID and logs the outcome.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))

		err := next(c)
		if err != nil {
			// Let the error handler write the status before logging it.
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/ask", s.handleAsk)
	s.echo.POST("/ask-async", s.handleAsk)
	s.echo.POST("/ask-gemini", s.handleAskSecondary)
	s.echo.POST("/ingest", s.handleIngest)
	s.echo.POST("/upload", s.handleUpload)
	s.echo.GET("/documents", s.handleListDocuments)
	s.echo.DELETE("/documents/:source_ref", s.handleDeleteDocument)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
