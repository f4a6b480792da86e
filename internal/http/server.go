// Package http serves the session API over echo.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/jaig1/agenticbot/internal/logging"
	"github.com/jaig1/agenticbot/internal/orchestrator"
	"github.com/jaig1/agenticbot/internal/session"
)

// TurnService is the part of session.Service the API needs.
type TurnService interface {
	SubmitTurn(ctx context.Context, sessionID, query string) (*orchestrator.TurnResult, error)
	PendingQuestion(ctx context.Context, sessionID string) (string, bool, error)
	History(ctx context.Context, sessionID string) ([]session.HistoryEntry, error)
	Reset(ctx context.Context, sessionID string) error
	Stats(ctx context.Context, sessionID string) (session.Stats, error)
}

// Server provides the HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	service TurnService
	logger  *logging.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
	// Health reports telemetry state for GET /health. Optional.
	Health func() string
	// Meter receives the HTTP instruments. Nil uses the global provider.
	Meter metric.Meter
}

// NewServer creates a new HTTP server.
func NewServer(service TurnService, logger *logging.Logger, cfg *Config) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("session service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 9090}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	e.Use(NewHTTPMetrics(cfg.Meter, logger.Underlying()).MetricsMiddleware())

	s := &Server{echo: e, service: service, logger: logger, config: cfg}
	s.registerRoutes()
	return s, nil
}

// requestLogger puts the request ID and logger on the request context and
// logs one line per request.
func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := logging.WithLogger(c.Request().Context(), logger)
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			if logging.ValidateID(reqID) == nil {
				ctx = logging.WithRequestID(ctx, reqID)
			}
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				// Resolve the status before logging it.
				c.Error(err)
			}
			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/sessions", s.handleCreateSession)
	v1.POST("/sessions/:id/turns", s.handleSubmitTurn)
	v1.GET("/sessions/:id/pending", s.handlePending)
	v1.GET("/sessions/:id/history", s.handleHistory)
	v1.DELETE("/sessions/:id", s.handleReset)
	v1.GET("/stats", s.handleStats)
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.config.Version}
	if s.config.Health != nil {
		resp.Telemetry = s.config.Health()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreateSession(c echo.Context) error {
	return c.JSON(http.StatusCreated, SessionResponse{SessionID: session.NewSessionID()})
}

func (s *Server) handleSubmitTurn(c echo.Context) error {
	var req TurnRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid turn request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sessionID := c.Param("id")
	ctx := c.Request().Context()
	if logging.ValidateID(sessionID) == nil {
		ctx = logging.WithSessionID(ctx, sessionID)
	}

	res, err := s.service.SubmitTurn(ctx, sessionID, req.Query)
	if err != nil {
		return s.serviceError(c, "submit turn", err)
	}

	showTrail, _ := strconv.ParseBool(c.QueryParam("trail"))
	if !showTrail {
		res = res.WithoutTrail()
	}
	return c.JSON(http.StatusOK, TurnResponse{SessionID: sessionID, TurnResult: res})
}

func (s *Server) handlePending(c echo.Context) error {
	q, ok, err := s.service.PendingQuestion(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.serviceError(c, "pending question", err)
	}
	return c.JSON(http.StatusOK, PendingResponse{Pending: ok, Question: q})
}

func (s *Server) handleHistory(c echo.Context) error {
	id := c.Param("id")
	hist, err := s.service.History(c.Request().Context(), id)
	if err != nil {
		return s.serviceError(c, "history", err)
	}
	if hist == nil {
		hist = []session.HistoryEntry{}
	}
	return c.JSON(http.StatusOK, HistoryResponse{SessionID: id, History: hist})
}

func (s *Server) handleReset(c echo.Context) error {
	if err := s.service.Reset(c.Request().Context(), c.Param("id")); err != nil {
		return s.serviceError(c, "reset", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStats(c echo.Context) error {
	st, err := s.service.Stats(c.Request().Context(), c.QueryParam("session_id"))
	if err != nil {
		return s.serviceError(c, "stats", err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) serviceError(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, session.ErrEmptySessionID), errors.Is(err, session.ErrEmptyQuery):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request cancelled")
	}
	s.logger.Error(c.Request().Context(), op+" failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
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
