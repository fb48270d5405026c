package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth-trust/internal/util"
	"github.com/giantswarm/oauth-trust/storage"
)

// IdentityScopes are scopes that describe the user rather than an API.
// They are valid without a backing API resource.
var IdentityScopes = []string{"openid", "profile", "email", "address", "phone", "offline_access"}

// StoreResourceValidator validates scopes and resource indicators against
// the client's allowed scopes and the registered API resources.
type StoreResourceValidator struct {
	apiResources storage.APIResourceStore
}

// NewStoreResourceValidator creates a validator backed by an APIResourceStore.
func NewStoreResourceValidator(apiResources storage.APIResourceStore) *StoreResourceValidator {
	return &StoreResourceValidator{apiResources: apiResources}
}

// Validate implements ResourceValidator.
//
// A scope is invalid when the client is not allowed to request it, or when
// it is neither an identity scope nor declared by an API resource. A
// resource indicator is invalid when it names no enabled API resource, or
// when none of the requested scopes belong to it.
func (v *StoreResourceValidator) Validate(ctx context.Context, client *storage.Client, scopes, resourceIndicators []string) (ResourceValidationResult, error) {
	var result ResourceValidationResult

	apiScopes := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		if !util.Contains(client.AllowedScopes, scope) {
			result.InvalidScopes = append(result.InvalidScopes, scope)
			continue
		}
		if !util.Contains(IdentityScopes, scope) {
			apiScopes = append(apiScopes, scope)
		}
	}

	declared := map[string]struct{}{}
	if len(apiScopes) > 0 {
		resources, err := v.apiResources.FindAPIResourcesByScope(ctx, apiScopes)
		if err != nil {
			return ResourceValidationResult{}, fmt.Errorf("failed to load api resources by scope: %w", err)
		}
		for _, res := range resources {
			for _, s := range res.Scopes {
				declared[s] = struct{}{}
			}
		}
	}
	for _, scope := range apiScopes {
		if _, ok := declared[scope]; !ok {
			result.InvalidScopes = append(result.InvalidScopes, scope)
		}
	}

	for _, indicator := range resourceIndicators {
		res, err := v.apiResources.FindAPIResourceByName(ctx, indicator)
		if errors.Is(err, storage.ErrAPIResourceNotFound) {
			result.InvalidResourceIndicators = append(result.InvalidResourceIndicators, indicator)
			continue
		}
		if err != nil {
			return ResourceValidationResult{}, fmt.Errorf("failed to load api resource: %w", err)
		}
		if len(util.Intersect(apiScopes, res.Scopes)) == 0 {
			result.InvalidResourceIndicators = append(result.InvalidResourceIndicators, indicator)
		}
	}

	return result, nil
}
