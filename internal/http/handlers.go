package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/processd/internal/contract"
	"github.com/fyrsmithlabs/processd/internal/metrics"
	"github.com/fyrsmithlabs/processd/internal/orchestrator"
	"github.com/fyrsmithlabs/processd/internal/pattern"
	"github.com/fyrsmithlabs/processd/internal/store"
	"github.com/fyrsmithlabs/processd/pkg/engine"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// RunRequest is the request body for POST /api/v1/patterns/:id/runs.
type RunRequest struct {
	Input   map[string]any `json:"input"`
	Context map[string]any `json:"context"`
}

// RunResponse wraps a run summary with its outcome.
type RunResponse struct {
	Outcome orchestrator.Outcome  `json:"outcome"`
	Summary *orchestrator.Summary `json:"summary"`
}

// ErrorResponse is returned for failed requests that still carry a summary.
type ErrorResponse struct {
	Error   string                `json:"error"`
	Summary *orchestrator.Summary `json:"summary,omitempty"`
}

// PatternsResponse is the response body for GET /api/v1/patterns.
type PatternsResponse struct {
	Patterns []pattern.Pattern `json:"patterns"`
}

// ContractsResponse is the response body for GET /api/v1/contracts.
type ContractsResponse struct {
	Contracts []contract.ToolContract `json:"contracts"`
}

// AuditResponse is the response body for GET /api/v1/audit.
type AuditResponse struct {
	Covered bool          `json:"covered"`
	Gaps    []pattern.Gap `json:"gaps"`
}

// MetricsResponse is the response body for GET /api/v1/metrics/verification.
type MetricsResponse struct {
	Metrics []metrics.VerificationMetricRecord `json:"metrics"`
}

// RunsResponse is the response body for GET /api/v1/runs.
type RunsResponse struct {
	Runs []store.Row `json:"runs"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleListPatterns(c echo.Context) error {
	return c.JSON(http.StatusOK, PatternsResponse{Patterns: s.engine.Patterns()})
}

func (s *Server) handleGetPattern(c echo.Context) error {
	p, err := s.engine.Pattern(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "pattern not found")
	}
	return c.JSON(http.StatusOK, p)
}

// handleRunPattern runs a pattern synchronously. Runs that end in failure
// or rollback are still answered with 200; the outcome field tells them
// apart. Only requests the engine refused to run are errors.
func (s *Server) handleRunPattern(c echo.Context) error {
	var req RunRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			s.logger.Warn("invalid run request", zap.Error(err))
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	id := c.Param("id")
	summary, err := s.engine.RunPatternByID(c.Request().Context(), id, req.Input, req.Context)
	switch {
	case err == nil:
	case errors.Is(err, pattern.ErrPatternNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "pattern not found")
	case errors.Is(err, pattern.ErrInvalidPattern):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrBlocked):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Summary: summary})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if summary == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "run cancelled")
		}
		s.logger.Info("pattern run cancelled",
			zap.String("pattern_id", id),
			zap.String("run_id", summary.RunID),
		)
	default:
		s.logger.Error("pattern run failed", zap.String("pattern_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "run failed")
	}

	return c.JSON(http.StatusOK, RunResponse{Outcome: summary.Outcome(), Summary: summary})
}

func (s *Server) handleListContracts(c echo.Context) error {
	return c.JSON(http.StatusOK, ContractsResponse{Contracts: s.engine.Contracts()})
}

func (s *Server) handleAudit(c echo.Context) error {
	gaps := s.engine.Audit()
	if gaps == nil {
		gaps = []pattern.Gap{}
	}
	return c.JSON(http.StatusOK, AuditResponse{Covered: len(gaps) == 0, Gaps: gaps})
}

// handleVerificationMetrics answers per-tool metrics, or per-process
// metrics when the process query parameter is set.
func (s *Server) handleVerificationMetrics(c echo.Context) error {
	var recs []metrics.VerificationMetricRecord
	if process := c.QueryParam("process"); process != "" {
		recs = s.engine.GetProcessMetrics(process)
	} else {
		recs = s.engine.GetMetrics(c.QueryParam("tool"))
	}
	if recs == nil {
		recs = []metrics.VerificationMetricRecord{}
	}
	return c.JSON(http.StatusOK, MetricsResponse{Metrics: recs})
}

func (s *Server) handleListRuns(c echo.Context) error {
	runs, err := s.engine.Runs(c.Request().Context(), c.QueryParam("pattern"))
	if errors.Is(err, engine.ErrRunsNotRecorded) {
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	}
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list runs")
	}
	if runs == nil {
		runs = []store.Row{}
	}
	return c.JSON(http.StatusOK, RunsResponse{Runs: runs})
}
