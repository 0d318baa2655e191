// Package server provides the HTTP API for retrievald.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievald/internal/embeddings"
	"github.com/fyrsmithlabs/retrievald/internal/retrieval"
	"github.com/fyrsmithlabs/retrievald/internal/tenant"
	"github.com/fyrsmithlabs/retrievald/internal/textproc"
	"github.com/fyrsmithlabs/retrievald/internal/vectorstore"
)

// Server provides HTTP endpoints for retrievald.
type Server struct {
	echo    *echo.Echo
	service *retrieval.Service
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server. The guard runs on every /api/v1
// route; /health and /metrics stay open.
func NewServer(service *retrieval.Service, guard *tenant.Guard, logger *zap.Logger, cfg *Config) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("retrieval service cannot be nil")
	}
	if guard == nil {
		return nil, fmt.Errorf("tenant guard cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
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

	s := &Server{
		echo:    e,
		service: service,
		logger:  logger,
		config:  cfg,
	}

	// Register routes
	s.registerRoutes(guard)

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes(guard *tenant.Guard) {
	// Health check and metrics, outside the guard
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes, all scoped
	v1 := s.echo.Group("/api/v1", guard.Middleware())
	v1.POST("/documents", s.handleProcessDocument)
	v1.POST("/search", s.handleSearch)
	v1.POST("/points/delete", s.handleDelete)
	v1.GET("/stats", s.handleStats)
}

// SearchRequest is the request body for POST /api/v1/search.
type SearchRequest struct {
	Query          string                 `json:"query"`
	Limit          uint64                 `json:"limit,omitempty"`
	ScoreThreshold float32                `json:"score_threshold,omitempty"`
	Normalization  string                 `json:"normalization,omitempty"`
	Filters        map[string]interface{} `json:"filters,omitempty"`
}

// SearchResponse is the response body for POST /api/v1/search.
type SearchResponse struct {
	Results []vectorstore.SearchResult `json:"results"`
	Count   int                        `json:"count"`
}

// DeleteRequest is the request body for POST /api/v1/points/delete.
type DeleteRequest struct {
	PointIDs []string               `json:"point_ids,omitempty"`
	Filters  map[string]interface{} `json:"filters,omitempty"`
}

// DeleteResponse is the response body for POST /api/v1/points/delete.
type DeleteResponse struct {
	Status string `json:"status"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleProcessDocument ingests one document through the full pipeline.
func (s *Server) handleProcessDocument(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}

	var req retrieval.ProcessRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid document request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}

	result, err := s.service.ProcessDocument(c.Request().Context(), scope, req)
	if err != nil {
		return s.classifyError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// handleSearch runs a scoped similarity search.
func (s *Server) handleSearch(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}

	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid search request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	extra, err := buildConditions(req.Filters)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	results, err := s.service.Search(c.Request().Context(), scope, retrieval.SearchRequest{
		Query:          req.Query,
		Limit:          req.Limit,
		ScoreThreshold: req.ScoreThreshold,
		Normalization:  textproc.Level(req.Normalization),
		Extra:          extra,
	})
	if err != nil {
		return s.classifyError(c, err)
	}

	return c.JSON(http.StatusOK, SearchResponse{Results: results, Count: len(results)})
}

// handleDelete removes points within the caller's scope.
func (s *Server) handleDelete(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}

	var req DeleteRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid delete request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.PointIDs) == 0 && len(req.Filters) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "point_ids or filters required")
	}

	extra, err := buildConditions(req.Filters)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.service.Delete(c.Request().Context(), scope, req.PointIDs, extra...); err != nil {
		return s.classifyError(c, err)
	}

	return c.JSON(http.StatusOK, DeleteResponse{Status: "deleted"})
}

// handleStats returns scoped collection statistics.
func (s *Server) handleStats(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}

	stats, err := s.service.Stats(c.Request().Context(), scope)
	if err != nil {
		return s.classifyError(c, err)
	}

	return c.JSON(http.StatusOK, stats)
}

// requestScope reads the scope the guard stamped into the context. A
// missing scope means the guard did not run; fail closed.
func requestScope(c echo.Context) (tenant.Scope, error) {
	scope, err := tenant.ScopeFromContext(c.Request().Context())
	if err != nil {
		return tenant.Scope{}, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return scope, nil
}

// classifyError maps service errors to HTTP status codes.
func (s *Server) classifyError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, vectorstore.ErrScopeViolation):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, vectorstore.ErrInvalidPayload),
		errors.Is(err, vectorstore.ErrCountMismatch),
		errors.Is(err, embeddings.ErrEmptyInput),
		errors.Is(err, textproc.ErrUnknownLevel):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, vectorstore.ErrStorageUnavailable),
		errors.Is(err, embeddings.ErrEmbeddingFailed):
		s.logger.Error("backend unavailable",
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "backend temporarily unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out")
	default:
		s.logger.Error("request failed",
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
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
