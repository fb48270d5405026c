package storage

import (
	"context"
	"errors"
)

// Sentinel errors returned by storage implementations. Callers match them
// with errors.Is; implementations may wrap them with additional context.
var (
	// ErrClientNotFound is returned when no enabled client exists for an ID.
	ErrClientNotFound = errors.New("client not found")

	// ErrAuthorizationCodeNotFound is returned when a code does not exist,
	// has already been consumed, or was evicted after expiry.
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrAuthorizationCodeExists is returned when saving a code whose handle is already stored.
	ErrAuthorizationCodeExists = errors.New("authorization code already exists")

	// ErrAPIResourceNotFound is returned when no API resource exists for a name.
	ErrAPIResourceNotFound = errors.New("api resource not found")

	// ErrTokenNotFound is returned when a reference token does not exist.
	ErrTokenNotFound = errors.New("token not found")
)

// ClientStore supplies client records by ID.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// FindEnabledClientByID returns the client with the given ID, or
	// ErrClientNotFound if it does not exist or is disabled.
	FindEnabledClientByID(ctx context.Context, clientID string) (*Client, error)
}

// AuthorizationCodeStore persists issued authorization codes.
// All methods accept context.Context for tracing and cancellation.
type AuthorizationCodeStore interface {
	// SaveAuthorizationCode stores a newly issued code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// Consume atomically fetches and removes the code with the given handle.
	// It returns ErrAuthorizationCodeNotFound if the code is absent.
	//
	// SECURITY: this is the only mechanism preventing code replay. Two
	// concurrent calls for the same handle must result in exactly one
	// success. A cancelled context must leave the code either fully
	// consumed or untouched.
	Consume(ctx context.Context, handle string) (*AuthorizationCode, error)
}

// APIResourceStore supplies API resources (protected APIs that may introspect tokens).
type APIResourceStore interface {
	// FindAPIResourceByName returns the enabled API resource with the given
	// name, or ErrAPIResourceNotFound.
	FindAPIResourceByName(ctx context.Context, name string) (*APIResource, error)

	// FindAPIResourcesByScope returns the enabled API resources that declare
	// any of the given scopes.
	FindAPIResourcesByScope(ctx context.Context, scopes []string) ([]*APIResource, error)
}

// TokenStore persists reference (opaque) access tokens.
type TokenStore interface {
	// SaveToken stores a token under its handle.
	SaveToken(ctx context.Context, handle string, token *Token) error

	// GetToken returns the token for a handle, or ErrTokenNotFound.
	GetToken(ctx context.Context, handle string) (*Token, error)

	// DeleteToken removes a token. Deleting a missing token is not an error.
	DeleteToken(ctx context.Context, handle string) error
}
