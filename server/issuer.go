package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-trust/internal/util"
	"github.com/giantswarm/oauth-trust/storage"
)

// ErrReferenceTokensDisabled is returned when no token store is configured.
var ErrReferenceTokensDisabled = errors.New("reference tokens require a token store")

// generateRandomToken generates a URL-safe random handle with 256 bits of entropy
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}

// IssueReferenceToken stores a reference access token for a redeemed grant
// and returns the handle in an oauth2.Token.
func (s *Server) IssueReferenceToken(ctx context.Context, grant *ValidatedGrant) (*oauth2.Token, error) {
	if s.tokenStore == nil {
		return nil, ErrReferenceTokensDisabled
	}
	if grant == nil || grant.Client == nil {
		return nil, fmt.Errorf("validated grant is required")
	}

	lifetime := grant.Client.AccessTokenLifetime
	if lifetime <= 0 {
		lifetime = time.Duration(s.Config.AccessTokenTTL) * time.Second
	}

	now := s.now()
	record := &storage.Token{
		Issuer:             s.Config.Issuer,
		ClientID:           grant.Client.ClientID,
		Subject:            grant.Subject,
		SessionID:          grant.SessionID,
		Scopes:             append([]string(nil), grant.Scopes...),
		ResourceIndicators: append([]string(nil), grant.ResourceIndicators...),
		CreatedAt:          now,
		Lifetime:           lifetime,
	}
	if grant.Code != nil && len(grant.Code.Claims) > 0 {
		record.Claims = make(map[string]any, len(grant.Code.Claims))
		for k, v := range grant.Code.Claims {
			record.Claims[k] = v
		}
	}

	handle := generateRandomToken()
	if err := s.tokenStore.SaveToken(ctx, handle, record); err != nil {
		return nil, fmt.Errorf("failed to save reference token: %w", err)
	}

	s.Instrumentation.Metrics().RecordReferenceTokenIssued(ctx, grant.Client.ClientID)
	s.Auditor.LogTokenIssued(ctx, grant.Subject, grant.Client.ClientID, "", grant.Scopes)
	s.Logger.Debug("Reference token issued",
		"client_id", grant.Client.ClientID,
		"token_prefix", util.SafeTruncate(handle, codeLogPrefixLength),
		"scope", util.JoinScopes(grant.Scopes))

	return &oauth2.Token{
		AccessToken: handle,
		TokenType:   "Bearer",
		Expiry:      now.Add(lifetime),
		ExpiresIn:   int64(lifetime / time.Second),
	}, nil
}

// ValidateReferenceToken looks up a reference token. It reports whether the
// token is active and, if so, its claims. Unknown and expired handles are
// inactive rather than errors; expired records are removed.
func (s *Server) ValidateReferenceToken(ctx context.Context, handle string) (bool, map[string]any, error) {
	if s.tokenStore == nil {
		return false, nil, ErrReferenceTokensDisabled
	}
	if handle == "" {
		return false, nil, nil
	}

	record, err := s.tokenStore.GetToken(ctx, handle)
	if errors.Is(err, storage.ErrTokenNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("failed to load reference token: %w", err)
	}

	if record.IsExpired(s.now()) {
		if err := s.tokenStore.DeleteToken(ctx, handle); err != nil {
			s.Logger.Warn("Failed to delete expired reference token", "error", err)
		}
		return false, nil, nil
	}

	return true, record.ToClaims(), nil
}

// RevokeReferenceToken removes a reference token. Unknown handles are ignored.
func (s *Server) RevokeReferenceToken(ctx context.Context, handle string) error {
	if s.tokenStore == nil {
		return ErrReferenceTokensDisabled
	}
	return s.tokenStore.DeleteToken(ctx, handle)
}
