package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/saadkhalid-git/agentic-knowledge-graph/kg"

	"github.com/labstack/echo/v4"
)

// Dependencies are the pipeline operations the HTTP surface needs, expressed
// as closures so handlers can be tested without a full pipeline.
type Dependencies struct {
	Build           func(context.Context, kg.BuildRequest) (*kg.BuildResult, error)
	GetRun          func(context.Context, string) (*kg.RunDocument, error)
	GraphTotals     func(context.Context) (*kg.GraphTotals, error)
	DomainTotals    func(context.Context) (*kg.GraphTotals, error)
	ResolutionStats func(context.Context) (*kg.ResolutionStatistics, error)
	Logger          *slog.Logger
	Metrics         kg.Metrics
}

func Register(e *echo.Echo, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = kg.NoopMetrics{}
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"status": "ok"})
	})

	e.GET("/metrics", func(c echo.Context) error {
		return c.JSON(http.StatusOK, metrics.Snapshot())
	})

	e.POST("/build", func(c echo.Context) error {
		start := time.Now()
		if deps.Build == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{"error": "pipeline unavailable"})
		}

		var req kg.BuildRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		}
		if req.LimitTextFiles < 0 {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": "limit_text_files must not be negative"})
		}

		result, err := deps.Build(c.Request().Context(), req)
		if err != nil {
			logger.ErrorContext(c.Request().Context(), "build rejected",
				"error", err,
				"latency_ms", time.Since(start).Milliseconds(),
			)
			return WriteError(c, err)
		}

		status := http.StatusOK
		if result.Status == "error" {
			status = http.StatusInternalServerError
		}
		return c.JSON(status, result)
	})

	e.GET("/runs/:id", func(c echo.Context) error {
		if deps.GetRun == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{"error": "run ledger unavailable"})
		}
		doc, err := deps.GetRun(c.Request().Context(), c.Param("id"))
		if err != nil {
			return WriteError(c, err)
		}
		return c.JSON(http.StatusOK, doc.Result)
	})

	e.GET("/stats", func(c echo.Context) error {
		totalsFn := deps.GraphTotals
		if c.QueryParam("scope") == "domain" {
			totalsFn = deps.DomainTotals
		}
		if totalsFn == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{"error": "graph store unavailable"})
		}
		totals, err := totalsFn(c.Request().Context())
		if err != nil {
			return WriteError(c, err)
		}
		return c.JSON(http.StatusOK, totals)
	})

	e.GET("/resolution/stats", func(c echo.Context) error {
		if deps.ResolutionStats == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{"error": "graph store unavailable"})
		}
		stats, err := deps.ResolutionStats(c.Request().Context())
		if err != nil {
			return WriteError(c, err)
		}
		return c.JSON(http.StatusOK, stats)
	})
}

// WriteError maps pipeline errors onto HTTP statuses: a held lease is a
// conflict the caller can retry, a missing run is a 404, everything else is
// a server error.
func WriteError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, kg.ErrRunLeaseConflict):
		c.Response().Header().Set("Retry-After", "5")
		return c.JSON(http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.Is(err, kg.ErrRunNotFound):
		return c.JSON(http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, kg.ErrResetNotConfirmed):
		return c.JSON(http.StatusBadRequest, map[string]any{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}
