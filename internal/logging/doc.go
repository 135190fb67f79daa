// Package logging provides structured logging on top of Zap.
//
// # Overview
//
// Logger wraps Zap with:
//   - A Trace level (-2, below Debug)
//   - Stdout output, plus OpenTelemetry output when a LoggerProvider is given
//   - Context field injection (trace_id, span_id, request.id, repository)
//   - Redaction of credential-bearing fields and values
//   - Sampling below Error level
//
// # Usage
//
//	cfg, err := logging.ConfigFrom(appCfg.Logging, appCfg.Telemetry.Enabled)
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.NewLogger(cfg, tel.LoggerProvider())
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRequestID(ctx, requestID)
//	ctx = logging.WithRepository(ctx, src.String())
//	logger.Info(ctx, "digest produced", zap.Int("files", n))
//
// # Secrets
//
// Repository credentials travel as config.Secret and should be logged with
// the Secret field helper. The encoder additionally redacts fields named
// like credentials and values matching bearer or basic-auth patterns.
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	svc := repository.NewService(..., tl.Logger)
//	tl.AssertLogged(t, zapcore.WarnLevel, "workspace cleanup failed")
package logging
