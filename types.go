package oauth

// TokenResponse is the successful token endpoint response (RFC 6749 section 5.1)
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenInfo describes the bearer token that authorized a request. It is
// stored in the request context by Handler.ValidateToken.
type TokenInfo struct {
	// UsageType is where the token was presented
	UsageType string `json:"usage_type"`

	// Subject is the sub claim, empty for client tokens
	Subject string `json:"sub,omitempty"`

	// ClientID is the client the token was issued to
	ClientID string `json:"client_id,omitempty"`

	// Scopes granted to the token
	Scopes []string `json:"scopes,omitempty"`

	// Claims holds every claim of the reference token
	Claims map[string]any `json:"claims,omitempty"`
}
