package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/giantswarm/oauth-trust/instrumentation"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger          *slog.Logger
	enabled         bool
	failureLimiter  *RateLimiter
	instrumentation *instrumentation.Instrumentation
	now             func() time.Time
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// SetFailureRateLimiter throttles failure events per client ID. Events that
// exceed the limit are dropped and counted as rate limit violations.
// Introspection refusals and code redemption failures are always written.
func (a *Auditor) SetFailureRateLimiter(rl *RateLimiter) {
	a.failureLimiter = rl
}

// SetInstrumentation enables audit event metrics.
func (a *Auditor) SetInstrumentation(inst *instrumentation.Instrumentation) {
	a.instrumentation = inst
}

// unthrottledEvents are failure events exempt from the failure limiter
var unthrottledEvents = map[string]bool{
	EventIntrospectionScopeMismatch:        true,
	EventIntrospectionClientMismatch:       true,
	EventAuthorizationCodeRedemptionFailed: true,
}

// Event represents a security audit event
type Event struct {
	Type      string
	Subject   string
	ClientID  string
	IPAddress string
	Failure   bool
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(ctx context.Context, event Event) {
	if a == nil || !a.enabled {
		return
	}

	if event.Failure && a.failureLimiter != nil && !unthrottledEvents[event.Type] &&
		!a.failureLimiter.Allow(event.Type+":"+event.ClientID) {
		if a.instrumentation != nil {
			a.instrumentation.Metrics().RecordRateLimitExceeded(ctx, "audit")
		}
		return
	}

	event.Timestamp = a.now()

	level := slog.LevelInfo
	if event.Failure {
		level = slog.LevelWarn
	}

	attrs := []any{
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}

	a.logger.Log(ctx, level, "security_audit", attrs...)

	if a.instrumentation != nil {
		a.instrumentation.Metrics().RecordAuditEvent(ctx, event.Type)
	}
}

// LogTokenIssued logs when a token is issued
func (a *Auditor) LogTokenIssued(ctx context.Context, subject, clientID, ipAddress string, scopes []string) {
	a.LogEvent(ctx, Event{
		Type:      EventTokenIssued,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope": strings.Join(scopes, " "),
		},
	})
}

// LogCodeRedemptionFailed logs a failed authorization code exchange
func (a *Auditor) LogCodeRedemptionFailed(ctx context.Context, subject, clientID, errorCode, description string) {
	a.LogEvent(ctx, Event{
		Type:     EventAuthorizationCodeRedemptionFailed,
		Subject:  subject,
		ClientID: clientID,
		Failure:  true,
		Details: map[string]any{
			"error":             errorCode,
			"error_description": description,
		},
	})
}

// LogIntrospection logs a successful or inactive introspection
func (a *Auditor) LogIntrospection(ctx context.Context, eventType, caller, subject, clientID string, scopes []string) {
	a.LogEvent(ctx, Event{
		Type:     eventType,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"caller": caller,
			"scope":  strings.Join(scopes, " "),
		},
	})
}

// LogIntrospectionFailure logs an introspection refused because the calling
// API shares no scope with the token
func (a *Auditor) LogIntrospectionFailure(ctx context.Context, caller, subject, clientID string, tokenScopes []string) {
	a.LogEvent(ctx, Event{
		Type:     EventIntrospectionScopeMismatch,
		Subject:  subject,
		ClientID: clientID,
		Failure:  true,
		Details: map[string]any{
			"caller":       caller,
			"token_scopes": strings.Join(tokenScopes, " "),
		},
	})
}

// LogIntrospectionClientMismatch logs an introspection refused because the
// calling client does not own the token
func (a *Auditor) LogIntrospectionClientMismatch(ctx context.Context, caller, subject, tokenClientID string) {
	a.LogEvent(ctx, Event{
		Type:     EventIntrospectionClientMismatch,
		Subject:  subject,
		ClientID: tokenClientID,
		Failure:  true,
		Details: map[string]any{
			"caller": caller,
		},
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(ctx context.Context, clientID, ipAddress, reason string) {
	a.LogEvent(ctx, Event{
		Type:      EventAuthFailure,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Failure:   true,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ctx context.Context, ipAddress, clientID string) {
	a.LogEvent(ctx, Event{
		Type:      EventRateLimitExceeded,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Failure:   true,
	})
}

// LogSessionRevoked logs a session sign-out caused by a token retrieval failure
func (a *Auditor) LogSessionRevoked(ctx context.Context, subject, errorCode string) {
	a.LogEvent(ctx, Event{
		Type:    EventUserSessionRevoked,
		Subject: subject,
		Failure: true,
		Details: map[string]any{
			"error": errorCode,
		},
	})
}

// hashForLogging creates a truncated SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
