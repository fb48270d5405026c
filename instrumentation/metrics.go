package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Token endpoint and introspection
	CodeRedemptions          metric.Int64Counter
	TokenRequestsValidated   metric.Int64Counter
	IntrospectionsTotal      metric.Int64Counter
	RedirectURIRejections    metric.Int64Counter
	PKCEValidationFailed     metric.Int64Counter
	ReferenceTokensIssued    metric.Int64Counter

	// Outbound token attachment
	TokenAttachments   metric.Int64Counter
	DPoPProofsCreated  metric.Int64Counter
	SessionRevocations metric.Int64Counter

	// Security Metrics
	RateLimitExceeded metric.Int64Counter
	AuditEventsTotal  metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageCacheLookups      metric.Int64Counter
	StorageCodesCount        metric.Int64ObservableGauge
	StorageClientsCount      metric.Int64ObservableGauge
	StorageTokensCount       metric.Int64ObservableGauge
}

type counterSpec struct {
	target      *metric.Int64Counter
	meter       metric.Meter
	name        string
	description string
	unit        string
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	bffMeter := inst.Meter("bff")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, httpMeter, "oauth.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.CodeRedemptions, serverMeter, "oauth.code.redemptions", "Authorization code redemption attempts by result", "{redemption}"},
		{&m.TokenRequestsValidated, serverMeter, "oauth.token_request.validations", "Token requests validated by grant type and result", "{request}"},
		{&m.IntrospectionsTotal, serverMeter, "oauth.introspections", "Introspection responses by result", "{introspection}"},
		{&m.RedirectURIRejections, serverMeter, "oauth.redirect_uri.rejected", "Redirect URIs rejected by the validator", "{uri}"},
		{&m.PKCEValidationFailed, serverMeter, "oauth.pkce.validation_failed", "PKCE verifications that failed", "{failure}"},
		{&m.ReferenceTokensIssued, serverMeter, "oauth.reference_tokens.issued", "Reference access tokens issued", "{token}"},
		{&m.TokenAttachments, bffMeter, "bff.token.attachments", "Outbound requests by attached credential kind", "{request}"},
		{&m.DPoPProofsCreated, bffMeter, "bff.dpop.proofs", "DPoP proofs created for outbound requests", "{proof}"},
		{&m.SessionRevocations, bffMeter, "bff.session.revocations", "Sessions signed out after token retrieval failures", "{session}"},
		{&m.RateLimitExceeded, securityMeter, "oauth.rate_limit.exceeded", "Number of rate limit violations", "{violation}"},
		{&m.AuditEventsTotal, securityMeter, "oauth.audit.events", "Security audit events emitted", "{event}"},
		{&m.StorageOperationTotal, storageMeter, "oauth.storage.operations.total", "Storage operations by operation and result", "{operation}"},
		{&m.StorageCacheLookups, storageMeter, "oauth.storage.cache.lookups", "Client cache lookups by result", "{lookup}"},
	}

	for _, c := range counters {
		counter, err := c.meter.Int64Counter(c.name, metric.WithDescription(c.description), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.target = counter
	}

	var err error
	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"oauth.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageCodesCount, err = storageMeter.Int64ObservableGauge(
		"oauth.storage.codes.count",
		metric.WithDescription("Number of outstanding authorization codes"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.codes.count gauge: %w", err)
	}

	m.StorageClientsCount, err = storageMeter.Int64ObservableGauge(
		"oauth.storage.clients.count",
		metric.WithDescription("Number of stored clients"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.clients.count gauge: %w", err)
	}

	m.StorageTokensCount, err = storageMeter.Int64ObservableGauge(
		"oauth.storage.tokens.count",
		metric.WithDescription("Number of stored reference tokens"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.tokens.count gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
	))
}

// RecordCodeRedemption records an authorization code redemption.
// result is "success" or the protocol error code.
func (m *Metrics) RecordCodeRedemption(ctx context.Context, clientID, result string) {
	m.CodeRedemptions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("result", result),
	))
}

// RecordTokenRequestValidation records the outcome of a token request validation
func (m *Metrics) RecordTokenRequestValidation(ctx context.Context, grantType, result string) {
	m.TokenRequestsValidated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("result", result),
	))
}

// RecordIntrospection records an introspection response.
// result is one of "active", "inactive", "scope_mismatch" or "client_mismatch".
func (m *Metrics) RecordIntrospection(ctx context.Context, callerType, result string) {
	m.IntrospectionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("caller_type", callerType),
		attribute.String("result", result),
	))
}

// RecordRedirectURIRejected records a redirect URI that failed validation
func (m *Metrics) RecordRedirectURIRejected(ctx context.Context, kind string) {
	m.RedirectURIRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordReferenceTokenIssued records a reference token issuance
func (m *Metrics) RecordReferenceTokenIssued(ctx context.Context, clientID string) {
	m.ReferenceTokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordTokenAttachment records which credential kind was attached to an outbound request
func (m *Metrics) RecordTokenAttachment(ctx context.Context, kind string) {
	m.TokenAttachments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}

// RecordDPoPProofCreated records a DPoP proof creation
func (m *Metrics) RecordDPoPProofCreated(ctx context.Context, method string) {
	m.DPoPProofsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordSessionRevocation records a session sign-out triggered by a token failure
func (m *Metrics) RecordSessionRevocation(ctx context.Context, reason string) {
	m.SessionRevocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordCacheLookup records a cache hit or miss
func (m *Metrics) RecordCacheLookup(ctx context.Context, cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.StorageCacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", cache),
		attribute.String("result", result),
	))
}
