package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repodigest/internal/config"
	httpserver "github.com/fyrsmithlabs/repodigest/internal/http"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API. The server exposes:

  GET  /health             liveness
  POST /api/v1/digest      produce a digest
  POST /api/process-repo   same, at the path used by the web client
  GET  /metrics            Prometheus metrics

Examples:
  # Listen on the configured address (default 0.0.0.0:8080)
  repodigest serve

  # Override the port through the environment
  REPODIGEST_SERVER_HTTP_PORT=9090 repodigest serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

// runServe blocks until ctx is cancelled, then shuts down gracefully.
func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, appOptions{registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return err
	}
	defer func() {
		_ = a.close(context.WithoutCancel(ctx))
	}()

	a.logger.Info(ctx, "starting repodigest",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Strings("allowed_hosts", cfg.Digest.AllowedHosts),
		zap.Bool("rate_limit", cfg.Server.RateLimit.Enabled),
		zap.Bool("telemetry", a.telemetry.IsEnabled()),
	)

	srv, err := httpserver.NewServer(cfg.Server, httpserver.Deps{
		Processor: a.service,
		Logger:    a.logger.Named("http"),
		Defaults:  cfg.Digest.Defaults,
		Meter:     a.telemetry.Meter("github.com/fyrsmithlabs/repodigest/internal/http"),
		Gatherer:  prometheus.DefaultGatherer,
		Telemetry: a.telemetry,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	a.logger.Info(ctx, "server shutdown complete")
	return nil
}
