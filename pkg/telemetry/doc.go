// Package telemetry provides logging, tracing and metrics for the provisioner.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus) behind one Telemetry value.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.ListenAddress = ":9090"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	srv := tel.Metrics.StartMetricsServer(tel.Logger.Zerolog())
//	defer srv.Close()
//
// Task runners report into telemetry through an Observer:
//
//	runner := &engine.TableRunner[backend.Session]{
//	    Kind:     "user",
//	    Observer: tel.Observer(),
//	}
//
// Every task then gets a span named task.<kind>, a sample in
// provision_task_duration_seconds and a count in
// provision_task_outcomes_total. Retries of remote operations are counted
// in provision_retries_total through Observer.Retried.
//
// # Logging
//
// Logs are written to stderr by default so that they do not interleave
// with the live task display on stdout. Loggers travel in contexts:
//
//	ctx = tel.Logger.WithContext(ctx)
//	telemetry.FromContext(ctx).Info("applying")
//	zerolog.Ctx(ctx).Debug().Msg("also works")
package telemetry
