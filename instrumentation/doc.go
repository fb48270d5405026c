// Package instrumentation provides OpenTelemetry instrumentation for oauth-trust.
//
// Metrics and traces are created per layer ("http", "server", "bff",
// "storage", "security"). With Enabled=false every provider is a no-op.
//
// # Prometheus Metrics
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:         true,
//		ServiceName:     "oauth-trust",
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
// Token endpoint and introspection:
//   - oauth.code.redemptions{client_id, result}
//   - oauth.token_request.validations{grant_type, result}
//   - oauth.introspections{caller_type, result}
//   - oauth.redirect_uri.rejected{kind}
//   - oauth.pkce.validation_failed{method}
//   - oauth.reference_tokens.issued{client_id}
//
// Outbound proxy:
//   - bff.token.attachments{kind}
//   - bff.dpop.proofs{method}
//   - bff.session.revocations{reason}
//
// Storage and security:
//   - oauth.storage.operations.total{operation, result}
//   - oauth.storage.operation.duration{operation}
//   - oauth.storage.cache.lookups{cache, result}
//   - oauth.storage.{codes,clients,tokens}.count
//   - oauth.rate_limit.exceeded{limiter_type}
//   - oauth.audit.events{event_type}
//
// # Security
//
// Never record credential values in spans or metric attributes.
package instrumentation
