// Package http serves the digest pipeline over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repodigest/internal/config"
	"github.com/fyrsmithlabs/repodigest/internal/digest"
	"github.com/fyrsmithlabs/repodigest/internal/logging"
	"github.com/fyrsmithlabs/repodigest/internal/repository"
	"github.com/fyrsmithlabs/repodigest/internal/telemetry"
)

// Processor produces digests.
type Processor interface {
	Process(ctx context.Context, req repository.Request) (*digest.Result, error)
}

// Deps are the collaborators of a Server. Processor is required.
type Deps struct {
	Processor Processor
	Logger    *logging.Logger

	// Defaults fill in request options the client omits.
	Defaults config.DefaultsConfig

	// Meter records HTTP metrics; nil means the global meter provider.
	Meter metric.Meter

	// Gatherer backs GET /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer

	// Telemetry, when set, is reported by GET /health.
	Telemetry *telemetry.Telemetry
}

// Server provides the HTTP endpoints for repodigest.
type Server struct {
	echo      *echo.Echo
	processor Processor
	logger    *logging.Logger
	config    config.ServerConfig
	defaults  config.DefaultsConfig
	telemetry *telemetry.Telemetry
	limiter   echo.MiddlewareFunc
}

// NewServer creates a Server and registers its routes.
func NewServer(cfg config.ServerConfig, deps Deps) (*Server, error) {
	if deps.Processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	extractIP, err := ipExtractor(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid trusted proxy: %w", err)
	}

	e := echo.New()
	e.IPExtractor = extractIP
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	s := &Server{
		echo:      e,
		processor: deps.Processor,
		logger:    logger,
		config:    cfg,
		defaults:  deps.Defaults,
		telemetry: deps.Telemetry,
	}
	if cfg.RateLimit.Enabled {
		s.limiter = s.newRateLimiter(cfg.RateLimit)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestContext)
	e.Use(s.requestLogger)
	e.Use(NewHTTPMetrics(deps.Meter, logger).Middleware())
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	s.registerRoutes(gatherer)
	return s, nil
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	var mw []echo.MiddlewareFunc
	if s.limiter != nil {
		mw = append(mw, s.limiter)
	}
	if s.config.RequestTimeout > 0 {
		mw = append(mw, s.timeout)
	}

	s.echo.POST("/api/v1/digest", s.handleDigest, mw...)
	// Path used by the original web client.
	s.echo.POST("/api/process-repo", s.handleDigest, mw...)
}

// Echo exposes the underlying router.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start serves until ctx is done, then shuts down gracefully within the
// configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	addr := s.Addr()
	s.logger.Info(ctx, "starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Telemetry string `json:"telemetry,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.telemetry != nil && s.telemetry.IsEnabled() {
		h := s.telemetry.Health()
		resp.Telemetry = "healthy"
		if h.Degraded {
			resp.Telemetry = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}
