package server

import "fmt"

// OAuth error codes produced by this package.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeInvalidTarget        = "invalid_target"
	ErrorCodeUnauthorizedClient   = "unauthorized_client"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeServerError          = "server_error"
)

// GrantError is a terminal validation failure for the current request.
// Description is safe to return to the client; internal detail is logged
// instead of being placed here.
type GrantError struct {
	Code        string
	Description string
}

// Error implements the error interface
func (e *GrantError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewGrantError creates a GrantError
func NewGrantError(code, description string) *GrantError {
	return &GrantError{Code: code, Description: description}
}

// ErrInvalidGrant: the code is missing, expired, reused, bound to another
// client or redirect URI, or its subject is no longer active
func ErrInvalidGrant(desc string) *GrantError {
	return NewGrantError(ErrorCodeInvalidGrant, desc)
}

// ErrInvalidRequest: the request is structurally malformed
func ErrInvalidRequest(desc string) *GrantError {
	return NewGrantError(ErrorCodeInvalidRequest, desc)
}

// ErrInvalidScope: the resource validator rejected requested scopes
func ErrInvalidScope(desc string) *GrantError {
	return NewGrantError(ErrorCodeInvalidScope, desc)
}

// ErrInvalidTarget: a resource indicator is malformed, invalid, or not part of the original grant
func ErrInvalidTarget(desc string) *GrantError {
	return NewGrantError(ErrorCodeInvalidTarget, desc)
}

// ErrUnauthorizedClient: the client may not use this grant type, or the redirect URI is missing
func ErrUnauthorizedClient(desc string) *GrantError {
	return NewGrantError(ErrorCodeUnauthorizedClient, desc)
}

// ErrUnsupportedGrantType: the grant type is not handled by this validator
func ErrUnsupportedGrantType(desc string) *GrantError {
	return NewGrantError(ErrorCodeUnsupportedGrantType, desc)
}
