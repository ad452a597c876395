// Package http provides the HTTP API of processd.
package http

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/processd/internal/contract"
	"github.com/fyrsmithlabs/processd/internal/events"
	"github.com/fyrsmithlabs/processd/internal/logging"
	"github.com/fyrsmithlabs/processd/internal/metrics"
	"github.com/fyrsmithlabs/processd/internal/orchestrator"
	"github.com/fyrsmithlabs/processd/internal/pattern"
	"github.com/fyrsmithlabs/processd/internal/store"
)

// Engine is the execution API the server exposes.
type Engine interface {
	RunPatternByID(ctx context.Context, id string, input, runCtx map[string]any) (*orchestrator.Summary, error)
	Patterns() []pattern.Pattern
	Pattern(id string) (pattern.Pattern, error)
	Contracts() []contract.ToolContract
	Audit() []pattern.Gap
	GetMetrics(toolName string) []metrics.VerificationMetricRecord
	GetProcessMetrics(processID string) []metrics.VerificationMetricRecord
	Runs(ctx context.Context, patternID string) ([]store.Row, error)
}

// Server provides HTTP endpoints for processd.
type Server struct {
	echo     *echo.Echo
	engine   Engine
	logger   *zap.Logger
	config   *Config
	nats     *nats.Conn
	prefix   string
	gatherer prometheus.Gatherer
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves gatherer on /metrics. Default: the global registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithEvents enables GET /api/v1/events, streaming run events published
// under prefix on nc. An empty prefix means events.DefaultSubjectPrefix.
func WithEvents(nc *nats.Conn, prefix string) Option {
	return func(s *Server) {
		if prefix == "" {
			prefix = events.DefaultSubjectPrefix
		}
		s.nats = nc
		s.prefix = prefix
	}
}

// WithMeter records request metrics on meter.
func WithMeter(m metric.Meter) Option {
	return func(s *Server) {
		s.echo.Use(NewHTTPMetrics(m, s.logger).MetricsMiddleware())
	}
}

// NewServer creates a new HTTP server.
func NewServer(engine Engine, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9191}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			if logging.ValidateID(id, "request id") == nil {
				req := c.Request()
				c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
			}
			return next(c)
		}
	})
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		engine:   engine,
		logger:   logger,
		config:   cfg,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/patterns", s.handleListPatterns)
	v1.GET("/patterns/:id", s.handleGetPattern)
	v1.POST("/patterns/:id/runs", s.handleRunPattern)
	v1.GET("/contracts", s.handleListContracts)
	v1.GET("/audit", s.handleAudit)
	v1.GET("/metrics/verification", s.handleVerificationMetrics)
	v1.GET("/runs", s.handleListRuns)
	if s.nats != nil {
		v1.GET("/events", s.handleEvents)
	}
}

// Echo returns the underlying router.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
