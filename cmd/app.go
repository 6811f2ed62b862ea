package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/saadkhalid-git/agentic-knowledge-graph/kg"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type AppConfig struct {
	Address           string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Logger            *slog.Logger
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		Address:           "127.0.0.1:8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		Logger:            slog.Default(),
	}
}

type App struct {
	pipeline *kg.Pipeline
	echo     *echo.Echo
	config   AppConfig
	logger   *slog.Logger
	metrics  kg.Metrics

	mu       sync.Mutex
	listener net.Listener
	errCh    chan error
	started  bool
}

// NewApp wires the pipeline behind the HTTP surface. The app owns the
// metrics sink: when the pipeline has none configured it gets the app's, so
// phase and build timings land in the same snapshot as request counts.
func NewApp(pipeline *kg.Pipeline, cfg AppConfig) *App {
	cfg = mergeWithDefaultAppConfig(cfg)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := kg.Metrics(kg.NoopMetrics{})
	if m := kg.NewInMemMetrics(); m != nil {
		metrics = m
	}
	if pipeline != nil {
		if _, isNoop := pipeline.Metrics.(kg.NoopMetrics); pipeline.Metrics == nil || isNoop {
			pipeline.Metrics = metrics
		} else {
			metrics = pipeline.Metrics
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(requestLoggerMiddleware(logger, metrics))

	app := &App{
		pipeline: pipeline,
		echo:     e,
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		errCh:    make(chan error, 1),
	}
	app.registerRoutes()
	return app
}

func mergeWithDefaultAppConfig(cfg AppConfig) AppConfig {
	d := DefaultAppConfig()
	if cfg.Address != "" {
		d.Address = cfg.Address
	}
	if cfg.ReadHeaderTimeout > 0 {
		d.ReadHeaderTimeout = cfg.ReadHeaderTimeout
	}
	if cfg.ShutdownTimeout > 0 {
		d.ShutdownTimeout = cfg.ShutdownTimeout
	}
	if cfg.Logger != nil {
		d.Logger = cfg.Logger
	}
	return d
}

func requestLoggerMiddleware(logger *slog.Logger, metrics kg.Metrics) echo.MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = kg.NoopMetrics{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			if status == 0 {
				status = http.StatusOK
			}
			latencyMS := time.Since(start).Milliseconds()
			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			metrics.RecordRequest(c.Request().Method, path, status, latencyMS)
			attrs := []any{
				"method", c.Request().Method,
				"path", path,
				"status", status,
				"latency_ms", latencyMS,
				"remote_ip", c.RealIP(),
			}

			switch {
			case status >= http.StatusInternalServerError:
				logger.ErrorContext(c.Request().Context(), "http request", attrs...)
			case status >= http.StatusBadRequest:
				logger.WarnContext(c.Request().Context(), "http request", attrs...)
			default:
				logger.InfoContext(c.Request().Context(), "http request", attrs...)
			}
			return nil
		}
	}
}

func (a *App) registerRoutes() {
	deps := Dependencies{
		Build: func(ctx context.Context, req kg.BuildRequest) (*kg.BuildResult, error) {
			if a.pipeline == nil {
				return nil, fmt.Errorf("pipeline unavailable")
			}
			return a.pipeline.Build(ctx, req)
		},
		GetRun: func(ctx context.Context, runID string) (*kg.RunDocument, error) {
			if a.pipeline == nil || a.pipeline.Ledger == nil {
				return nil, kg.ErrRunNotFound
			}
			return a.pipeline.Ledger.Get(ctx, runID)
		},
		GraphTotals: func(ctx context.Context) (*kg.GraphTotals, error) {
			if a.pipeline == nil {
				return nil, kg.ErrGraphStoreNotConfigured
			}
			return kg.GraphStatistics{Store: a.pipeline.Store}.Totals(ctx)
		},
		DomainTotals: func(ctx context.Context) (*kg.GraphTotals, error) {
			if a.pipeline == nil {
				return nil, kg.ErrGraphStoreNotConfigured
			}
			return kg.GraphStatistics{Store: a.pipeline.Store}.DomainTotals(ctx)
		},
		ResolutionStats: func(ctx context.Context) (*kg.ResolutionStatistics, error) {
			if a.pipeline == nil {
				return nil, kg.ErrGraphStoreNotConfigured
			}
			engine := kg.NewLinkageEngine(a.pipeline.Store, a.pipeline.SimilarityThreshold)
			return engine.Statistics(ctx)
		},
		Logger:  a.logger,
		Metrics: a.metrics,
	}
	Register(a.echo, deps)
}

func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("app already started")
	}

	ln, err := net.Listen("tcp", a.config.Address)
	if err != nil {
		return err
	}
	a.listener = ln
	a.started = true

	srv := &http.Server{Handler: a.echo, ReadHeaderTimeout: a.config.ReadHeaderTimeout}
	a.echo.Server = srv

	go func() {
		err := a.echo.Server.Serve(ln)
		if err == http.ErrServerClosed {
			err = nil
		}
		a.errCh <- err
	}()

	return nil
}

func (a *App) Address() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	addr := a.listener.Addr().String()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	host = strings.TrimSpace(host)
	if host == "" || host == "::" || host == "0.0.0.0" || host == "[::]" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func (a *App) Wait() error {
	return <-a.errCh
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	started := a.started
	a.started = false
	a.mu.Unlock()

	if !started {
		return nil
	}

	if ctx == nil {
		c, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
		defer cancel()
		ctx = c
	}

	return a.echo.Shutdown(ctx)
}
