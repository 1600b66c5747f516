/*
Package observability exports ledger activity to Prometheus and OpenTelemetry.

Metrics plug into the engine through lifecycle hooks:

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	eng, _ := ledger.New(dir, ledger.WithLifecycleHooks(metrics.Hooks()))

Tracing is opt-in. SetupTracing installs a global OTLP/HTTP tracer provider
when an endpoint is configured; the engine then emits one span per command.
*/
package observability
