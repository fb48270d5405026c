package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-trust/instrumentation"
	"github.com/giantswarm/oauth-trust/security"
	"github.com/giantswarm/oauth-trust/storage"
)

// TokenRequest holds the token endpoint parameters relevant to validation.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	Resources    []string
}

// TokenRequestFromForm reads a TokenRequest from decoded form values.
// Every resource parameter is kept, in order.
func TokenRequestFromForm(form url.Values) *TokenRequest {
	return &TokenRequest{
		GrantType:    form.Get("grant_type"),
		Code:         form.Get("code"),
		RedirectURI:  form.Get("redirect_uri"),
		CodeVerifier: form.Get("code_verifier"),
		Resources:    append([]string(nil), form["resource"]...),
	}
}

// ValidateTokenRequest validates a token request from an authenticated
// client. Only the authorization_code grant is handled.
//
// Structural checks run before the code is looked up, so a malformed
// request never spends a code. Everything after that is delegated to
// RedeemAuthorizationCode.
func (s *Server) ValidateTokenRequest(ctx context.Context, req *TokenRequest, client *storage.Client) (*ValidatedGrant, error) {
	ctx, span := s.tracer.Start(ctx, "server.ValidateTokenRequest")
	defer span.End()

	grantType := ""
	if req != nil {
		grantType = req.GrantType
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, grantType))

	grant, err := s.validateTokenRequest(ctx, req, client)

	result := "success"
	var gerr *GrantError
	switch {
	case errors.As(err, &gerr):
		result = gerr.Code
		instrumentation.AddProtocolErrorAttributes(span, gerr.Code, gerr.Description)
	case err != nil:
		result = ErrorCodeServerError
		instrumentation.RecordError(span, err)
	default:
		instrumentation.SetSpanSuccess(span)
	}
	s.Instrumentation.Metrics().RecordTokenRequestValidation(ctx, grantType, result)

	return grant, err
}

func (s *Server) validateTokenRequest(ctx context.Context, req *TokenRequest, client *storage.Client) (*ValidatedGrant, error) {
	if client == nil {
		return nil, NewGrantError(ErrorCodeInvalidClient, "client authentication required")
	}
	if req == nil {
		return nil, ErrInvalidRequest("missing token request")
	}
	instrumentation.AddOAuthFlowAttributes(trace.SpanFromContext(ctx), client.ClientID, "", "")

	if req.GrantType == "" {
		return nil, s.tokenRequestRejected(ctx, client, ErrInvalidRequest("grant_type is required"))
	}
	if req.GrantType != storage.GrantTypeAuthorizationCode {
		return nil, s.tokenRequestRejected(ctx, client, ErrUnsupportedGrantType(fmt.Sprintf("grant_type %q is not supported", req.GrantType)))
	}
	if !client.AllowsGrantType(storage.GrantTypeAuthorizationCode) {
		return nil, s.tokenRequestRejected(ctx, client, ErrUnauthorizedClient("client is not authorized for the authorization_code grant"))
	}

	if req.Code == "" {
		return nil, s.tokenRequestRejected(ctx, client, ErrInvalidGrant("authorization code is missing"))
	}
	if len(req.Code) > s.Config.MaxAuthorizationCodeLength {
		return nil, s.tokenRequestRejected(ctx, client, ErrInvalidGrant("authorization code is too long"))
	}

	if req.RedirectURI == "" {
		return nil, s.tokenRequestRejected(ctx, client, ErrUnauthorizedClient("redirect_uri is missing"))
	}

	for _, resource := range req.Resources {
		if err := validateResourceIndicatorFormat(resource, s.Config.MaxResourceIndicatorLength); err != nil {
			s.Logger.Debug("Token request rejected", "reason", err.Error(), "client_id", client.ClientID)
			return nil, s.tokenRequestRejected(ctx, client, ErrInvalidTarget("resource indicator is malformed"))
		}
	}

	return s.RedeemAuthorizationCode(ctx, RedeemRequest{
		Client:       client,
		Code:         req.Code,
		RedirectURI:  req.RedirectURI,
		CodeVerifier: req.CodeVerifier,
		Resources:    req.Resources,
	})
}

func (s *Server) tokenRequestRejected(ctx context.Context, client *storage.Client, err *GrantError) error {
	s.Auditor.LogEvent(ctx, security.Event{
		Type:     security.EventTokenRequestRejected,
		ClientID: client.ClientID,
		Failure:  true,
		Details: map[string]any{
			"error":             err.Code,
			"error_description": err.Description,
		},
	})
	return err
}

// validateResourceIndicatorFormat checks a resource parameter per RFC 8707:
// an absolute URI without a fragment.
func validateResourceIndicatorFormat(resource string, maxLength int) error {
	if resource == "" {
		return fmt.Errorf("resource indicator is empty")
	}
	if len(resource) > maxLength {
		return fmt.Errorf("resource indicator exceeds %d characters", maxLength)
	}
	if strings.Contains(resource, "#") {
		return fmt.Errorf("resource indicator must not contain a fragment")
	}
	u, err := url.Parse(resource)
	if err != nil {
		return fmt.Errorf("resource indicator is not a valid URI: %w", err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("resource indicator must be an absolute URI")
	}
	return nil
}
