package server

import (
	"context"
	"errors"
	"maps"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-trust/instrumentation"
	"github.com/giantswarm/oauth-trust/internal/util"
	"github.com/giantswarm/oauth-trust/security"
	"github.com/giantswarm/oauth-trust/storage"
)

// codeLogPrefixLength is how much of a code value may appear in logs
const codeLogPrefixLength = 8

// RedeemRequest is a token request for the authorization_code grant after
// client authentication.
type RedeemRequest struct {
	Client       *storage.Client
	Code         string
	RedirectURI  string
	CodeVerifier string
	Resources    []string
}

// ValidatedGrant is the outcome of a successful code redemption. It carries
// everything needed to issue tokens.
type ValidatedGrant struct {
	Client             *storage.Client
	Code               *storage.AuthorizationCode
	Subject            string
	SessionID          string
	Scopes             []string
	ResourceIndicators []string
	IsOpenID           bool
	Nonce              string
	// Claims are extra claims captured at authorization time
	Claims             map[string]any
}

// RedeemAuthorizationCode consumes the code and checks it against the request.
//
// The code is removed from the store before any check runs, so it is spent
// whether or not redemption succeeds. A concurrent second redemption of the
// same code fails with invalid_grant. Every error returned is a *GrantError;
// storage and collaborator failures are logged and reported as protocol
// errors.
func (s *Server) RedeemAuthorizationCode(ctx context.Context, req RedeemRequest) (*ValidatedGrant, error) {
	ctx, span := s.tracer.Start(ctx, "server.RedeemAuthorizationCode")
	defer span.End()

	clientID := ""
	if req.Client != nil {
		clientID = req.Client.ClientID
	}
	instrumentation.AddOAuthFlowAttributes(span, clientID, "", "")
	instrumentation.SetSpanAttributes(span,
		attribute.Bool(instrumentation.AttrCodePresent, req.Code != ""),
		attribute.Int(instrumentation.AttrResourceCount, len(req.Resources)),
	)

	if req.Client == nil {
		err := NewGrantError(ErrorCodeInvalidClient, "client authentication required")
		instrumentation.AddProtocolErrorAttributes(span, err.Code, err.Description)
		return nil, err
	}

	code, err := s.codeStore.Consume(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			return nil, s.redemptionFailed(ctx, span, req, "", "code_not_found",
				ErrInvalidGrant("authorization code not found or already used"))
		}
		s.Logger.Error("Failed to consume authorization code",
			"error", err,
			"client_id", clientID,
			"code_prefix", util.SafeTruncate(req.Code, codeLogPrefixLength))
		instrumentation.RecordError(span, err)
		return nil, s.redemptionFailed(ctx, span, req, "", "store_error",
			ErrInvalidGrant("authorization code not found or already used"))
	}

	subject := code.Subject
	instrumentation.AddOAuthFlowAttributes(span, "", subject, util.JoinScopes(code.RequestedScopes))

	if code.ClientID != clientID {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "client_id_mismatch",
			"expected_client_id", code.ClientID,
			"provided_client_id", clientID,
			"code_prefix", util.SafeTruncate(req.Code, codeLogPrefixLength))
		return nil, s.redemptionFailed(ctx, span, req, subject, "client_id_mismatch",
			ErrInvalidGrant("authorization code was issued to a different client"))
	}

	if code.IsExpired(s.now()) {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "expired",
			"client_id", clientID,
			"expired_at", code.ExpiresAt(),
			"code_prefix", util.SafeTruncate(req.Code, codeLogPrefixLength))
		return nil, s.redemptionFailed(ctx, span, req, subject, "expired",
			ErrInvalidGrant("authorization code expired"))
	}

	if code.RedirectURI != req.RedirectURI {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "redirect_uri_mismatch",
			"expected_uri", code.RedirectURI,
			"provided_uri", req.RedirectURI,
			"client_id", clientID,
			"code_prefix", util.SafeTruncate(req.Code, codeLogPrefixLength))
		return nil, s.redemptionFailed(ctx, span, req, subject, "redirect_uri_mismatch",
			ErrInvalidGrant("redirect_uri does not match the authorization request"))
	}

	if code.CodeChallenge == "" && req.Client.RequirePKCE {
		return nil, s.redemptionFailed(ctx, span, req, subject, "pkce_required",
			ErrInvalidGrant("client requires PKCE but no code_challenge was sent"))
	}
	if code.CodeChallenge != "" {
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrPKCEMethod, code.CodeChallengeMethod))
		if err := s.validatePKCE(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier); err != nil {
			s.Instrumentation.Metrics().RecordPKCEValidationFailed(ctx, code.CodeChallengeMethod)
			s.Auditor.LogEvent(ctx, security.Event{
				Type:     security.EventInvalidPKCE,
				Subject:  subject,
				ClientID: clientID,
				Failure:  true,
				Details: map[string]any{
					"reason": err.Error(),
				},
			})
			return nil, s.redemptionFailed(ctx, span, req, subject, "pkce_failed",
				ErrInvalidGrant("invalid code_verifier"))
		}
	}

	if len(code.RequestedScopes) == 0 {
		return nil, s.redemptionFailed(ctx, span, req, subject, "no_scopes",
			ErrInvalidRequest("authorization code has no scopes"))
	}

	active, err := s.ProfileService.IsActive(ctx, subject, req.Client)
	if err != nil {
		s.Logger.Error("Failed to check subject activity", "error", err, "client_id", clientID)
		instrumentation.RecordError(span, err)
		active = false
	}
	if !active {
		return nil, s.redemptionFailed(ctx, span, req, subject, "subject_inactive",
			ErrInvalidGrant("user is not active"))
	}

	for _, resource := range req.Resources {
		if !util.Contains(code.RequestedResourceIndicators, resource) {
			return nil, s.redemptionFailed(ctx, span, req, subject, "resource_not_in_grant",
				ErrInvalidTarget("resource indicator does not match any resource indicator in the original authorize request"))
		}
	}

	indicators := code.RequestedResourceIndicators
	if len(req.Resources) > 0 {
		indicators = req.Resources
	}

	result, err := s.ResourceValidator.Validate(ctx, req.Client, code.RequestedScopes, indicators)
	if err != nil {
		s.Logger.Error("Failed to validate requested resources", "error", err, "client_id", clientID)
		instrumentation.RecordError(span, err)
		return nil, s.redemptionFailed(ctx, span, req, subject, "resource_validation_error",
			ErrInvalidTarget("requested resources could not be validated"))
	}
	if len(result.InvalidScopes) > 0 {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "invalid_scopes",
			"client_id", clientID,
			"invalid_scopes", util.JoinScopes(result.InvalidScopes))
		return nil, s.redemptionFailed(ctx, span, req, subject, "invalid_scopes",
			ErrInvalidScope("requested scopes are not allowed"))
	}
	if len(result.InvalidResourceIndicators) > 0 {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "invalid_resource_indicators",
			"client_id", clientID,
			"invalid_resources", result.InvalidResourceIndicators)
		return nil, s.redemptionFailed(ctx, span, req, subject, "invalid_resource_indicators",
			ErrInvalidTarget("invalid resource indicator"))
	}

	s.Instrumentation.Metrics().RecordCodeRedemption(ctx, clientID, "success")
	s.Auditor.LogEvent(ctx, security.Event{
		Type:     security.EventAuthorizationCodeRedeemed,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"scope": util.JoinScopes(code.RequestedScopes),
		},
	})
	instrumentation.SetSpanSuccess(span)

	return &ValidatedGrant{
		Client:             req.Client,
		Code:               code,
		Subject:            subject,
		SessionID:          code.SessionID,
		Scopes:             append([]string(nil), code.RequestedScopes...),
		ResourceIndicators: append([]string(nil), indicators...),
		IsOpenID:           code.IsOpenID,
		Nonce:              code.Nonce,
		Claims:             maps.Clone(code.Claims),
	}, nil
}

// redemptionFailed records a rejected redemption and returns err unchanged
func (s *Server) redemptionFailed(ctx context.Context, span trace.Span, req RedeemRequest, subject, reason string, err *GrantError) error {
	clientID := req.Client.ClientID

	instrumentation.AddProtocolErrorAttributes(span, err.Code, err.Description)
	instrumentation.SetSpanError(span, reason)
	s.Instrumentation.Metrics().RecordCodeRedemption(ctx, clientID, err.Code)

	s.Logger.Info("Authorization code redemption rejected",
		"reason", reason,
		"error", err.Code,
		"client_id", clientID,
		"code_prefix", util.SafeTruncate(req.Code, codeLogPrefixLength))
	s.Auditor.LogCodeRedemptionFailed(ctx, subject, clientID, err.Code, reason)

	return err
}
