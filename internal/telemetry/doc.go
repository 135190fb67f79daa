// Package telemetry provides OpenTelemetry tracing and metrics export.
//
// Telemetry is disabled by default. When disabled, Tracer and Meter return
// the global no-op implementations, so instrumented code never needs to
// check whether export is configured.
//
//	tel, err := telemetry.New(ctx, telemetry.ConfigFrom(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx, span := tel.Tracer("repodigest").Start(ctx, "digest.process")
//	defer span.End()
//
// Export goes to an OTLP collector over gRPC (default) or HTTP/protobuf.
// Provider errors degrade the instance instead of failing startup; see
// Health.
package telemetry
