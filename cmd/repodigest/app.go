package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/repodigest/internal/config"
	"github.com/fyrsmithlabs/repodigest/internal/logging"
	"github.com/fyrsmithlabs/repodigest/internal/repository"
	"github.com/fyrsmithlabs/repodigest/internal/secrets"
	"github.com/fyrsmithlabs/repodigest/internal/source"
	"github.com/fyrsmithlabs/repodigest/internal/telemetry"
	"github.com/fyrsmithlabs/repodigest/internal/workspace"
)

// app holds the process-wide dependencies shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	metrics   *repository.Metrics
	service   *repository.Service
}

type appOptions struct {
	// logWriter receives log output; nil means stdout.
	logWriter io.Writer
	// registerer receives pipeline metrics; nil means a private registry.
	registerer prometheus.Registerer
	// fetcher replaces the go-git fetcher.
	fetcher source.Fetcher
}

// newApp initializes telemetry, logging and the pipeline:
//  1. Telemetry (disabled unless configured)
//  2. Logger, bridged to OTEL when telemetry is on
//  3. Secret scrubbers, fetcher and workspace manager
//  4. Pipeline service with metrics
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	tel, err := telemetry.New(ctx, telemetry.ConfigFrom(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.ConfigFrom(cfg.Logging, tel.IsEnabled())
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	if opts.logWriter != nil {
		logCfg.Output.Writer = zapcore.AddSync(opts.logWriter)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.String("reason", h.Reason))
	}

	secretsCfg := secrets.ConfigFrom(cfg.Secrets)
	scrubber, err := secrets.New(secretsCfg)
	if err != nil {
		return nil, fmt.Errorf("invalid secrets config: %w", err)
	}
	detector, err := secrets.NewDetector(secretsCfg)
	if err != nil {
		return nil, fmt.Errorf("invalid secrets config: %w", err)
	}

	reg := opts.registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := repository.NewMetrics(reg)

	fetcher := opts.fetcher
	if fetcher == nil {
		fetcher = source.NewGitFetcher(scrubber)
	}

	workspaces := workspace.NewManager(
		cfg.Digest.WorkspaceDir,
		cfg.Digest.WorkspacePrefix,
		logger.Named("workspace"),
		workspace.WithCleanupFailureHook(metrics.RecordCleanupFailure),
	)

	svc := repository.NewService(repository.Deps{
		Fetcher:      fetcher,
		Workspaces:   workspaces,
		Logger:       logger.Named("pipeline"),
		Tracer:       tel.Tracer("github.com/fyrsmithlabs/repodigest/internal/repository"),
		Metrics:      metrics,
		AllowedHosts: cfg.Digest.AllowedHosts,
		Scrubber:     detector,
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		metrics:   metrics,
		service:   svc,
	}, nil
}

// close flushes telemetry and logs.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.logger.Sync(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
