package storage

import "time"

// Token is a reference access token record. The handle given to the client
// is the storage key; the record itself never leaves the server.
type Token struct {
	Issuer             string         `json:"issuer"`
	ClientID           string         `json:"client_id"`
	Subject            string         `json:"subject,omitempty"`
	SessionID          string         `json:"session_id,omitempty"`
	Scopes             []string       `json:"scopes"`
	ResourceIndicators []string       `json:"resource_indicators,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	Lifetime           time.Duration  `json:"lifetime"`
	Claims             map[string]any `json:"claims,omitempty"`
}

// ExpiresAt returns the token's expiry instant.
func (t *Token) ExpiresAt() time.Time {
	return t.CreatedAt.Add(t.Lifetime)
}

// IsExpired reports whether now is past the token's lifetime.
func (t *Token) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt())
}

// ToClaims renders the token as a claim set in the shape used by
// introspection responses. Scopes are returned under "scope" as a slice.
func (t *Token) ToClaims() map[string]any {
	claims := make(map[string]any, len(t.Claims)+8)
	for k, v := range t.Claims {
		claims[k] = v
	}
	claims["iss"] = t.Issuer
	claims["client_id"] = t.ClientID
	claims["iat"] = t.CreatedAt.Unix()
	claims["nbf"] = t.CreatedAt.Unix()
	claims["exp"] = t.ExpiresAt().Unix()
	if t.Subject != "" {
		claims["sub"] = t.Subject
	}
	if t.SessionID != "" {
		claims["sid"] = t.SessionID
	}
	if len(t.ResourceIndicators) > 0 {
		claims["aud"] = append([]string(nil), t.ResourceIndicators...)
	}
	claims["scope"] = append([]string(nil), t.Scopes...)
	return claims
}
