package server

import (
	"context"
	"strings"

	"github.com/giantswarm/oauth-trust/security"
	"github.com/giantswarm/oauth-trust/storage"
)

// AuthorizeRequestType identifies how an authorize request arrived.
type AuthorizeRequestType int

const (
	// AuthorizeRequestTypeAuthorize is a front-channel /authorize request.
	AuthorizeRequestTypeAuthorize AuthorizeRequestType = iota
	// AuthorizeRequestTypePushedAuthorization is a back-channel PAR request.
	AuthorizeRequestTypePushedAuthorization
	// AuthorizeRequestTypeAuthorizeWithPushedParameters is an /authorize
	// request carrying a request_uri obtained from PAR.
	AuthorizeRequestTypeAuthorizeWithPushedParameters
)

// String returns the request type name used in logs and spans.
func (t AuthorizeRequestType) String() string {
	switch t {
	case AuthorizeRequestTypePushedAuthorization:
		return "pushed_authorization"
	case AuthorizeRequestTypeAuthorizeWithPushedParameters:
		return "authorize_with_pushed_parameters"
	default:
		return "authorize"
	}
}

// IsPushed reports whether the parameters were delivered through PAR.
func (t AuthorizeRequestType) IsPushed() bool {
	return t == AuthorizeRequestTypePushedAuthorization ||
		t == AuthorizeRequestTypeAuthorizeWithPushedParameters
}

// RedirectURIValidationContext carries what a redirect URI decision depends on.
type RedirectURIValidationContext struct {
	RequestedURI string
	Client       *storage.Client
	RequestType  AuthorizeRequestType
}

// RedirectURIValidator decides whether a redirect URI may be used for a client.
type RedirectURIValidator interface {
	IsRedirectURIValid(ctx context.Context, vc RedirectURIValidationContext) (bool, error)
	IsPostLogoutRedirectURIValid(ctx context.Context, requestedURI string, client *storage.Client) (bool, error)
}

// StrictRedirectURIValidator accepts only registered URIs, compared in full
// and case-insensitively. No prefix, wildcard or normalization is applied.
type StrictRedirectURIValidator struct {
	// AllowUnregisteredPushedRedirectURIs lets confidential clients pass any
	// redirect URI when the request parameters came through PAR. The client
	// authenticated to push them, so the URI is bound to that authentication.
	AllowUnregisteredPushedRedirectURIs bool
}

// NewStrictRedirectURIValidator creates a validator from the server configuration.
func NewStrictRedirectURIValidator(config *Config) *StrictRedirectURIValidator {
	return &StrictRedirectURIValidator{
		AllowUnregisteredPushedRedirectURIs: config != nil && config.AllowUnregisteredPushedRedirectURIs,
	}
}

// IsRedirectURIValid implements RedirectURIValidator
func (v *StrictRedirectURIValidator) IsRedirectURIValid(_ context.Context, vc RedirectURIValidationContext) (bool, error) {
	if vc.Client == nil {
		return false, nil
	}
	if v.AllowUnregisteredPushedRedirectURIs && vc.Client.RequireClientSecret && vc.RequestType.IsPushed() {
		return true, nil
	}
	return uriListContains(vc.Client.RedirectURIs, vc.RequestedURI), nil
}

// IsPostLogoutRedirectURIValid implements RedirectURIValidator
func (v *StrictRedirectURIValidator) IsPostLogoutRedirectURIValid(_ context.Context, requestedURI string, client *storage.Client) (bool, error) {
	if client == nil {
		return false, nil
	}
	return uriListContains(client.PostLogoutRedirectURIs, requestedURI), nil
}

func uriListContains(registered []string, requested string) bool {
	if requested == "" {
		return false
	}
	for _, uri := range registered {
		if strings.EqualFold(uri, requested) {
			return true
		}
	}
	return false
}

// ValidateRedirectURI checks an authorize request redirect URI with the
// configured validator, recording rejections.
func (s *Server) ValidateRedirectURI(ctx context.Context, vc RedirectURIValidationContext) (bool, error) {
	ok, err := s.RedirectURIValidator.IsRedirectURIValid(ctx, vc)
	if err != nil {
		return false, err
	}
	if !ok {
		s.redirectURIRejected(ctx, vc.Client, "redirect_uri", vc.RequestType.String())
	}
	return ok, nil
}

// ValidatePostLogoutRedirectURI checks an end-session redirect URI with the
// configured validator, recording rejections.
func (s *Server) ValidatePostLogoutRedirectURI(ctx context.Context, requestedURI string, client *storage.Client) (bool, error) {
	ok, err := s.RedirectURIValidator.IsPostLogoutRedirectURIValid(ctx, requestedURI, client)
	if err != nil {
		return false, err
	}
	if !ok {
		s.redirectURIRejected(ctx, client, "post_logout_redirect_uri", "end_session")
	}
	return ok, nil
}

func (s *Server) redirectURIRejected(ctx context.Context, client *storage.Client, kind, requestType string) {
	clientID := ""
	if client != nil {
		clientID = client.ClientID
	}
	s.Instrumentation.Metrics().RecordRedirectURIRejected(ctx, kind)
	s.Auditor.LogEvent(ctx, security.Event{
		Type:     security.EventRedirectURIRejected,
		ClientID: clientID,
		Failure:  true,
		Details: map[string]any{
			"kind":         kind,
			"request_type": requestType,
		},
	})
}
