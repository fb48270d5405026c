package server

import (
	"mime"
	"net/http"
	"strings"
)

// BearerTokenUsageType records where a bearer token was found.
type BearerTokenUsageType int

const (
	// BearerTokenUsageNone means no token was presented.
	BearerTokenUsageNone BearerTokenUsageType = iota
	// BearerTokenUsageAuthorizationHeader is the "Authorization: Bearer" header.
	BearerTokenUsageAuthorizationHeader
	// BearerTokenUsagePostBody is the access_token form field (RFC 6750 section 2.2).
	BearerTokenUsagePostBody
)

// String returns the usage type name used in logs.
func (t BearerTokenUsageType) String() string {
	switch t {
	case BearerTokenUsageAuthorizationHeader:
		return "authorization_header"
	case BearerTokenUsagePostBody:
		return "post_body"
	default:
		return "none"
	}
}

// BearerTokenUsage is the result of ExtractBearerToken.
type BearerTokenUsage struct {
	TokenFound bool
	Token      string
	UsageType  BearerTokenUsageType
}

const (
	bearerScheme = "Bearer "

	// MaxFormBodyBytes bounds the form body read when looking for access_token
	MaxFormBodyBytes = 64 << 10
)

// ExtractBearerToken locates the bearer token presented with r.
//
// The Authorization header is checked first. Its value is trimmed, the
// "Bearer " scheme is matched case-sensitively and the remainder must be
// non-empty after trimming. Otherwise a form-encoded body is searched for
// access_token. A header that is present but not a usable bearer value
// still allows the body to be checked.
func ExtractBearerToken(w http.ResponseWriter, r *http.Request) BearerTokenUsage {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if strings.HasPrefix(header, bearerScheme) {
			if token := strings.TrimSpace(header[len(bearerScheme):]); token != "" {
				return BearerTokenUsage{
					TokenFound: true,
					Token:      token,
					UsageType:  BearerTokenUsageAuthorizationHeader,
				}
			}
		}
	}

	if isFormContent(r) && r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, MaxFormBodyBytes)
		if err := r.ParseForm(); err == nil {
			if token := r.PostForm.Get("access_token"); token != "" {
				return BearerTokenUsage{
					TokenFound: true,
					Token:      token,
					UsageType:  BearerTokenUsagePostBody,
				}
			}
		}
	}

	return BearerTokenUsage{}
}

func isFormContent(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return false
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	return err == nil && mediaType == "application/x-www-form-urlencoded"
}
