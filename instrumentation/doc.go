// Package instrumentation provides OpenTelemetry instrumentation for the provider.
//
// It owns the meter and tracer providers and a Metrics holder with one
// instrument per observable event. When Config.Enabled is false, no-op
// providers are installed and recording costs nothing.
//
// # Prometheus Metrics
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:         true,
//		ServiceName:     "oidc-provider",
//		MetricsExporter: instrumentation.MetricsExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	http.Handle("/metrics", promhttp.Handler())
//
// # Available Metrics
//
// HTTP layer:
//   - oidc.http.requests.total{method, endpoint, status}
//   - oidc.http.request.duration{method, endpoint, status}
//
// Protocol flows:
//   - oidc.authorization.requests{client_id, result}
//   - oidc.code.issued{client_id, pkce_method}
//   - oidc.code.exchanges{client_id, result}
//   - oidc.token.issued{token_type}
//   - oidc.userinfo.requests{result}
//   - oidc.login.attempts{success}
//
// Security:
//   - oidc.rate_limit.exceeded{endpoint}
//   - oidc.pkce.validation_failed{method}
//   - oidc.audit.events{event_type}
//
// Storage:
//   - oidc.storage.operations.total{storage_type, operation, result}
//   - oidc.storage.operation.duration{storage_type, operation}
//   - oidc.storage.codes.swept
//   - oidc.storage.codes.count, oidc.storage.sessions.count (gauges)
//
// # Tracing
//
// Spans are created per HTTP endpoint, per server flow and per storage
// operation:
//
//	oidc.http.authorization
//	└── oidc.server.authorize
//	    └── storage.code_save
//	oidc.http.token
//	└── oidc.server.exchange_code
//	    ├── storage.code_consume
//	    └── oidc.server.issue_tokens
//
// Span attributes carry identifiers and outcomes only. Codes, tokens and
// session ids are never recorded.
package instrumentation
