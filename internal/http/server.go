// Package http provides the crewgate HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/crewgate/internal/anomaly"
	"github.com/fyrsmithlabs/crewgate/internal/gate"
	"github.com/fyrsmithlabs/crewgate/internal/patterns"
	"github.com/fyrsmithlabs/crewgate/internal/replyscan"
	"github.com/fyrsmithlabs/crewgate/internal/store"
	"github.com/fyrsmithlabs/crewgate/internal/vetting"
)

// Store is the store surface read directly by the API.
type Store interface {
	store.Agents
	store.Messages
	store.SecurityEvents
}

// Services are the components the API exposes. All are required except
// Gatherer, which defaults to the global Prometheus registry.
type Services struct {
	Store    Store
	Patterns patterns.Provider
	Vetter   *vetting.Vetter
	Replies  *replyscan.Scanner
	Anomaly  *anomaly.Scanner
	Gate     *gate.Gate
	Gatherer prometheus.Gatherer
}

func (s Services) validate() error {
	switch {
	case s.Store == nil:
		return fmt.Errorf("store cannot be nil")
	case s.Patterns == nil:
		return fmt.Errorf("patterns cannot be nil")
	case s.Vetter == nil:
		return fmt.Errorf("vetter cannot be nil")
	case s.Replies == nil:
		return fmt.Errorf("reply scanner cannot be nil")
	case s.Anomaly == nil:
		return fmt.Errorf("anomaly scanner cannot be nil")
	case s.Gate == nil:
		return fmt.Errorf("gate cannot be nil")
	}
	return nil
}

// Server provides HTTP endpoints for crewgate.
type Server struct {
	echo   *echo.Echo
	svc    Services
	auth   *operatorAuth
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// RateLimit is requests per second per client IP. Zero disables the
	// limiter.
	RateLimit float64
	RateBurst int

	// BodyLimit caps request bodies, e.g. "2M".
	BodyLimit string

	// OperatorSecret signs operator tokens. Empty disables the operator
	// routes.
	OperatorSecret []byte
	Issuer         string

	Version string

	// Meter records request and operator auth metrics. Defaults to the
	// global meter provider.
	Meter metric.Meter
}

// NewServer creates a new HTTP server.
func NewServer(svc Services, logger *zap.Logger, cfg *Config) (*Server, error) {
	if err := svc.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8420,
		}
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "2M"
	}
	if svc.Gatherer == nil {
		svc.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})
	metrics := newRequestMetrics(cfg.Meter, logger)
	e.Use(metrics.middleware)
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit) + 1
		}
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{Rate: rate.Limit(cfg.RateLimit), Burst: burst},
		)))
	}

	s := &Server{
		echo:   e,
		svc:    svc,
		auth:   newOperatorAuth(cfg.OperatorSecret, cfg.Issuer, metrics),
		logger: logger,
		config: cfg,
	}
	e.HTTPErrorHandler = s.handleError

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.svc.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)

	v1.POST("/vetting/hash", s.handleHash)
	v1.POST("/vetting/scan", s.handleScan)
	v1.POST("/vetting/vet", s.handleVet)
	v1.POST("/skills/:name/install", s.handleInstall)

	registry := v1.Group("/registry", s.auth.middleware)
	registry.POST("/vetted", s.handleRegisterVetted)
	registry.POST("/blocked", s.handleBlock)

	v1.POST("/replies/integrity", s.handleIntegrity)
	v1.POST("/replies/charter", s.handleCharter)

	v1.POST("/agents/:id/scan", s.handleScanAgent)
	v1.POST("/scan", s.handleScanAll)
	v1.GET("/security/events", s.handleListEvents)
	v1.POST("/security/events", s.handleLogEvent, s.auth.middleware)
	v1.GET("/security/summary", s.handleSecuritySummary)
	v1.GET("/security/undelivered", s.handleUndelivered)

	g := v1.Group("/gate")
	g.POST("/delivery", s.handleDelivery)
	g.POST("/escalation", s.handleEscalation)
	g.POST("/reputation", s.handleReputation)
	g.GET("/state", s.handleHumanState)
	g.POST("/feedback", s.handleFeedback)
	g.GET("/briefing/:kind", s.handleBriefing)
	g.GET("/autonomy", s.handleAutonomy)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleError maps domain errors to status codes. Unexpected errors are
// logged and reported as 500 without their message.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if !errors.As(err, &he) {
		he = statusFor(err)
		if he.Code == http.StatusInternalServerError {
			s.logger.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
				zap.Error(err),
			)
		}
	}

	msg := he.Message
	if m, ok := msg.(string); ok {
		msg = ErrorResponse{Message: m}
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(he.Code)
	} else {
		err = c.JSON(he.Code, msg)
	}
	if err != nil {
		s.logger.Warn("failed to write error response", zap.Error(err))
	}
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Message string `json:"message"`
}

func statusFor(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, gate.ErrUnknownBriefing):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrFeedbackAlreadyRecorded), errors.Is(err, vetting.ErrSkillBlocked):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, vetting.ErrContentTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, store.ErrInvalidRecord), errors.Is(err, vetting.ErrInvalidSkill):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
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
