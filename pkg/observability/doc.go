// Package observability provides the gatekeeper's logging setup, Prometheus
// metrics, OpenTelemetry tracing, health checks and graceful shutdown.
//
// Metrics implements the observer interfaces of subscription.Instrument,
// quota.Enforcer, transitions.Manager and guard.Guard, so a single value is
// passed to each component:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	store = subscription.Instrument(store, cfg.Store.Timeout, metrics)
//	g := guard.New(guard.Config{..., Observer: metrics})
//
// Tracing is off unless enabled; spans created by the guard and the
// transition manager go to the global no-op tracer until InitOTel installs
// an OTLP exporter.
package observability
