package server

import (
	"context"

	"github.com/giantswarm/oauth-trust/storage"
)

// ResourceValidationResult reports which requested scopes and resource
// indicators a ResourceValidator rejected. Empty slices mean everything was
// accepted.
type ResourceValidationResult struct {
	InvalidScopes             []string
	InvalidResourceIndicators []string
}

// Succeeded reports whether nothing was rejected.
func (r ResourceValidationResult) Succeeded() bool {
	return len(r.InvalidScopes) == 0 && len(r.InvalidResourceIndicators) == 0
}

// ResourceValidator decides whether a client may obtain the requested scopes
// for the requested resource indicators.
type ResourceValidator interface {
	Validate(ctx context.Context, client *storage.Client, scopes, resourceIndicators []string) (ResourceValidationResult, error)
}

// ProfileService reports whether a subject may still receive tokens.
type ProfileService interface {
	IsActive(ctx context.Context, subject string, client *storage.Client) (bool, error)
}

// AlwaysActiveProfileService treats every subject as active.
type AlwaysActiveProfileService struct{}

// IsActive implements ProfileService
func (AlwaysActiveProfileService) IsActive(context.Context, string, *storage.Client) (bool, error) {
	return true, nil
}
