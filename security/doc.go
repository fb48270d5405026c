// Package security provides the security plumbing around the token endpoint,
// introspection and the outbound proxy: audit logging, per-identifier rate
// limiting, client IP extraction, response hardening headers, request IDs
// and at-rest encryption of session tokens.
//
// # Audit Logging
//
// Auditor writes structured "security_audit" records through log/slog.
// Subject identifiers are hashed before they reach the log. Repeated failure
// events for one client can be throttled with a RateLimiter so an attacker
// replaying codes cannot flood the log:
//
//	auditor := security.NewAuditor(logger, true)
//	auditor.SetFailureRateLimiter(security.NewRateLimiter(1, 10, logger))
//
// # Rate Limiting
//
// RateLimiter is a token bucket per identifier with LRU eviction, so memory
// stays bounded under distributed attacks. Defaults:
//   - MaxEntries: 10,000 identifiers
//   - CleanupInterval: 5 minutes
//   - IdleTimeout: 30 minutes
//
// # Encryption
//
// Encryptor seals session tokens with AES-256-GCM. The session ID is bound
// as associated data so a ciphertext cannot be replayed into another session.
package security
