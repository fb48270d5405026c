package bff

import "github.com/giantswarm/oauth-trust/dpop"

// RequiredTokenType is the kind of access token a proxied route needs.
type RequiredTokenType string

const (
	// TokenTypeNone forwards requests without a token.
	TokenTypeNone RequiredTokenType = "none"
	// TokenTypeUser requires the signed-in user's token.
	TokenTypeUser RequiredTokenType = "user"
	// TokenTypeClient uses the BFF's own client credentials token.
	TokenTypeClient RequiredTokenType = "client"
	// TokenTypeUserOrClient prefers the user's token and falls back to the client token.
	TokenTypeUserOrClient RequiredTokenType = "user_or_client"
	// TokenTypeUserOrNone attaches the user's token when signed in and nothing otherwise.
	TokenTypeUserOrNone RequiredTokenType = "user_or_none"
)

// Valid reports whether t is a known token type.
func (t RequiredTokenType) Valid() bool {
	switch t {
	case TokenTypeNone, TokenTypeUser, TokenTypeClient, TokenTypeUserOrClient, TokenTypeUserOrNone:
		return true
	}
	return false
}

// involvesUser reports whether a failure for this route means the user's
// own token could not be obtained.
func (t RequiredTokenType) involvesUser() bool {
	return t == TokenTypeUser || t == TokenTypeUserOrClient
}

// AccessTokenResult is the outcome of retrieving a token for an outbound
// request. The variants are BearerToken, DPoPToken, AccessTokenRetrievalError
// and NoAccessToken.
type AccessTokenResult interface {
	isAccessTokenResult()
}

// BearerToken is a token sent as "Authorization: Bearer".
type BearerToken struct {
	AccessToken string
}

// DPoPToken is a sender-constrained token. Key signs the per-request proof.
type DPoPToken struct {
	AccessToken string
	Key         *dpop.Key
}

// AccessTokenRetrievalError reports that no token could be obtained, for
// example because the refresh token expired.
type AccessTokenRetrievalError struct {
	Error            string
	ErrorDescription string
}

// NoAccessToken means the request is forwarded without credentials.
type NoAccessToken struct{}

func (BearerToken) isAccessTokenResult()               {}
func (DPoPToken) isAccessTokenResult()                 {}
func (AccessTokenRetrievalError) isAccessTokenResult() {}
func (NoAccessToken) isAccessTokenResult()             {}
