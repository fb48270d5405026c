package storage

import "time"

// AuthorizationCode is a one-time credential exchanged at the token endpoint.
//
// A code is created when the user completes authorization and is removed by
// the first Consume call, whatever the outcome of the exchange that follows.
type AuthorizationCode struct {
	Handle                      string         `json:"handle"`
	ClientID                    string         `json:"client_id"`
	Subject                     string         `json:"subject"`
	SessionID                   string         `json:"session_id,omitempty"`
	CreatedAt                   time.Time      `json:"created_at"`
	Lifetime                    time.Duration  `json:"lifetime"`
	RedirectURI                 string         `json:"redirect_uri"`
	RequestedScopes             []string       `json:"requested_scopes"`
	RequestedResourceIndicators []string       `json:"requested_resource_indicators,omitempty"`
	IsOpenID                    bool           `json:"is_openid"`
	Nonce                       string         `json:"nonce,omitempty"`
	CodeChallenge               string         `json:"code_challenge,omitempty"`
	CodeChallengeMethod         string         `json:"code_challenge_method,omitempty"`
	Claims                      map[string]any `json:"claims,omitempty"`
}

// ExpiresAt returns the instant after which the code is no longer valid.
func (c *AuthorizationCode) ExpiresAt() time.Time {
	return c.CreatedAt.Add(c.Lifetime)
}

// IsExpired reports whether now is past the code's lifetime.
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt())
}
