// Package telemetry provides observability instrumentation for the recipe runner.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and recipe lifecycle events into a
// single Telemetry value built once at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Tracing.Enabled = false
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Logging
//
// Components take a zerolog.Logger obtained from Logger.Zerolog and add a
// "component" field. Recipe-scoped lines carry a "recipe" field holding the
// recipe's file name.
//
// # Metrics
//
// Metrics are registered on a private registry and exposed through
// Metrics.Handler or StartMetricsServer. A Metrics built from a disabled
// config records nothing, so callers never need to check.
//
// # Tracing
//
// One span covers a recipe pipeline ("recipe.run") with child spans for
// each autopkg invocation ("recipe.check", "recipe.full",
// "recipe.verify_trust") and for metadata collection.
//
// # Events
//
// The batch runner publishes recipe.started, recipe.completed,
// recipe.failed, recipe.skipped and policy.violation events. With
// EnableAsync a single goroutine delivers buffered events in publish order;
// Shutdown drains the buffer before returning.
package telemetry
