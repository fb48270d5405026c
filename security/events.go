package security

// Event type constants for security audit logging.
const (
	// Token endpoint events

	// EventTokenIssued is logged when an access token is issued after a successful exchange
	EventTokenIssued = "token_issued"

	// EventAuthorizationCodeRedeemed is logged when an authorization code passes every check
	EventAuthorizationCodeRedeemed = "authorization_code_redeemed"

	// EventAuthorizationCodeRedemptionFailed is logged when a code exchange fails for any reason,
	// including replay of an already consumed code
	EventAuthorizationCodeRedemptionFailed = "authorization_code_redemption_failed"

	// EventTokenRequestRejected is logged when a token request fails before the code is consumed
	EventTokenRequestRejected = "token_request_rejected" //nolint:gosec // event name, not a credential

	// EventRedirectURIRejected is logged when a redirect or post-logout URI is not registered
	EventRedirectURIRejected = "redirect_uri_rejected"

	// EventInvalidPKCE is logged when PKCE verification fails
	EventInvalidPKCE = "invalid_pkce"

	// Introspection events

	// EventIntrospectionSuccess is logged when an active token is disclosed to a caller
	EventIntrospectionSuccess = "introspection_success"

	// EventIntrospectionInactive is logged when the introspected token is not active
	EventIntrospectionInactive = "introspection_inactive"

	// EventIntrospectionScopeMismatch is logged when an API resource introspects a token
	// that carries none of its scopes
	EventIntrospectionScopeMismatch = "introspection_scope_mismatch"

	// EventIntrospectionClientMismatch is logged when a client introspects a token
	// issued to another client
	EventIntrospectionClientMismatch = "introspection_client_mismatch"

	// Outbound proxy events

	// EventAccessTokenRetrievalFailed is logged when no usable token could be obtained for a proxied call
	EventAccessTokenRetrievalFailed = "access_token_retrieval_failed" //nolint:gosec // event name, not a credential

	// EventUserSessionRevoked is logged when a session is signed out after a refresh failure
	EventUserSessionRevoked = "user_session_revoked"

	// Generic security violation events

	// EventAuthFailure is logged when client or API resource authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
