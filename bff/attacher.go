package bff

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-trust/dpop"
	"github.com/giantswarm/oauth-trust/instrumentation"
	"github.com/giantswarm/oauth-trust/security"
)

// Outbound header names set by the attacher.
const (
	HeaderAuthorization = "Authorization"
	HeaderDPoP          = "DPoP"
)

// Decision tells the proxy what to do after Apply.
type Decision int

const (
	// DecisionForward sends the request upstream with the computed headers.
	DecisionForward Decision = iota + 1
	// DecisionShortCircuit means the response was already written.
	DecisionShortCircuit
)

func (d Decision) String() string {
	switch d {
	case DecisionForward:
		return "forward"
	case DecisionShortCircuit:
		return "short_circuit"
	default:
		return "unknown"
	}
}

// Route is a proxied API route.
type Route struct {
	Name        string
	PathPrefix  string
	Destination string
	TokenType   RequiredTokenType
}

// TransformContext carries one outbound request through the attacher.
type TransformContext struct {
	// Request is the inbound browser request.
	Request *http.Request
	// Response is the inbound response writer, used when short-circuiting.
	Response http.ResponseWriter
	Route    Route
	// DestinationPrefix is the upstream base address.
	DestinationPrefix string
	// Path is the upstream request path.
	Path string
	// Header receives the headers to set on the outbound request.
	Header http.Header
}

// RetrievalContext describes the outbound request a token is wanted for.
type RetrievalContext struct {
	Request    *http.Request
	Route      Route
	APIAddress string
	LocalPath  string
}

// AccessTokenRetriever obtains the token for an outbound request.
type AccessTokenRetriever interface {
	GetAccessToken(ctx context.Context, rc RetrievalContext) (AccessTokenResult, error)
}

// ProofService creates DPoP proofs. A nil proof means DPoP is not used for
// this request and the token is sent as a bearer token.
type ProofService interface {
	CreateProof(ctx context.Context, req dpop.ProofRequest) (*dpop.Proof, error)
}

// SessionSignOut ends the user's session.
type SessionSignOut interface {
	SignOut(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// Options controls attacher behavior.
type Options struct {
	// RemoveSessionAfterRefreshTokenExpiration signs the user out when their
	// token can no longer be refreshed.
	RemoveSessionAfterRefreshTokenExpiration bool
}

// Attacher adds the right credentials to outbound proxied requests.
type Attacher struct {
	retriever AccessTokenRetriever
	proofs    ProofService
	signOut   SessionSignOut
	options   Options

	logger          *slog.Logger
	auditor         *security.Auditor
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// NewAttacher creates an Attacher. signOut may be nil when sessions are
// never removed.
func NewAttacher(retriever AccessTokenRetriever, proofs ProofService, signOut SessionSignOut, options Options, logger *slog.Logger) (*Attacher, error) {
	if retriever == nil {
		return nil, fmt.Errorf("access token retriever is required")
	}
	if proofs == nil {
		return nil, fmt.Errorf("proof service is required")
	}
	if options.RemoveSessionAfterRefreshTokenExpiration && signOut == nil {
		return nil, fmt.Errorf("session sign-out is required when sessions are removed after refresh failures")
	}
	if logger == nil {
		logger = slog.Default()
	}
	inst := instrumentation.NewNoop()
	return &Attacher{
		retriever:       retriever,
		proofs:          proofs,
		signOut:         signOut,
		options:         options,
		logger:          logger,
		instrumentation: inst,
		tracer:          inst.Tracer("bff"),
	}, nil
}

// SetAuditor sets the security auditor
func (a *Attacher) SetAuditor(aud *security.Auditor) {
	a.auditor = aud
}

// SetInstrumentation replaces the instrumentation used for spans and metrics
func (a *Attacher) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		inst = instrumentation.NewNoop()
	}
	a.instrumentation = inst
	a.tracer = inst.Tracer("bff")
}

// Apply retrieves a token for the outbound request and sets the matching
// headers on tc.Header. When no token can be obtained it writes 401 to
// tc.Response and returns DecisionShortCircuit.
func (a *Attacher) Apply(ctx context.Context, tc *TransformContext) (Decision, error) {
	ctx, span := a.tracer.Start(ctx, "bff.attach_token")
	defer span.End()
	span.SetAttributes(attribute.String(instrumentation.AttrRequiredToken, string(tc.Route.TokenType)))

	decision, err := a.apply(ctx, span, tc)
	if err != nil {
		instrumentation.RecordError(span, err)
		a.logger.Error("failed to attach access token",
			"route", tc.Route.Name,
			"path", tc.Path,
			"error", err)
		return 0, err
	}

	span.SetAttributes(attribute.String(instrumentation.AttrProxyDecision, decision.String()))
	instrumentation.SetSpanSuccess(span)
	return decision, nil
}

func (a *Attacher) apply(ctx context.Context, span trace.Span, tc *TransformContext) (Decision, error) {
	if tc.Header == nil {
		tc.Header = make(http.Header)
	}

	result, err := a.retriever.GetAccessToken(ctx, RetrievalContext{
		Request:    tc.Request,
		Route:      tc.Route,
		APIAddress: tc.DestinationPrefix,
		LocalPath:  tc.Path,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to retrieve access token: %w", err)
	}

	switch r := result.(type) {
	case BearerToken:
		a.setBearer(ctx, span, tc, r.AccessToken)
		return DecisionForward, nil

	case DPoPToken:
		if err := a.applyDPoP(ctx, span, tc, r); err != nil {
			return 0, err
		}
		return DecisionForward, nil

	case AccessTokenRetrievalError:
		a.rejectUnauthorized(ctx, tc, r)
		span.SetAttributes(attribute.String(instrumentation.AttrTokenKind, "error"))
		return DecisionShortCircuit, nil

	case NoAccessToken:
		span.SetAttributes(attribute.String(instrumentation.AttrTokenKind, "none"))
		a.instrumentation.Metrics().RecordTokenAttachment(ctx, "none")
		return DecisionForward, nil

	default:
		return 0, fmt.Errorf("unexpected access token result %T", result)
	}
}

func (a *Attacher) setBearer(ctx context.Context, span trace.Span, tc *TransformContext, token string) {
	tc.Header.Set(HeaderAuthorization, "Bearer "+token)
	span.SetAttributes(attribute.String(instrumentation.AttrTokenKind, "bearer"))
	a.instrumentation.Metrics().RecordTokenAttachment(ctx, "bearer")
}

func (a *Attacher) applyDPoP(ctx context.Context, span trace.Span, tc *TransformContext, token DPoPToken) error {
	method := http.MethodGet
	if tc.Request != nil && tc.Request.Method != "" {
		method = tc.Request.Method
	}

	proof, err := a.proofs.CreateProof(ctx, dpop.ProofRequest{
		Method:      method,
		URL:         joinURL(tc.DestinationPrefix, tc.Path),
		AccessToken: token.AccessToken,
		Key:         token.Key,
	})
	if err != nil {
		return fmt.Errorf("failed to create dpop proof: %w", err)
	}
	if proof == nil {
		a.setBearer(ctx, span, tc, token.AccessToken)
		return nil
	}

	tc.Header.Set(HeaderDPoP, proof.Value)
	tc.Header.Set(HeaderAuthorization, "DPoP "+token.AccessToken)

	span.SetAttributes(attribute.String(instrumentation.AttrTokenKind, "dpop"))
	a.instrumentation.Metrics().RecordTokenAttachment(ctx, "dpop")
	a.instrumentation.Metrics().RecordDPoPProofCreated(ctx, method)
	return nil
}

func (a *Attacher) rejectUnauthorized(ctx context.Context, tc *TransformContext, failure AccessTokenRetrievalError) {
	if tc.Route.TokenType.involvesUser() {
		if a.options.RemoveSessionAfterRefreshTokenExpiration {
			a.logger.Warn("user session revoked",
				"route", tc.Route.Name,
				"error", failure.Error)
			if err := a.signOut.SignOut(ctx, tc.Response, tc.Request); err != nil {
				a.logger.Error("failed to sign out user", "route", tc.Route.Name, "error", err)
			}
			a.auditor.LogSessionRevoked(ctx, "", failure.Error)
			a.instrumentation.Metrics().RecordSessionRevocation(ctx, failure.Error)
		} else {
			a.logger.Warn("failed to request new user access token",
				"route", tc.Route.Name,
				"error", failure.Error)
		}
	}

	a.auditor.LogEvent(ctx, security.Event{
		Type:    security.EventAccessTokenRetrievalFailed,
		Failure: true,
		Details: map[string]any{
			"route":      tc.Route.Name,
			"token_type": string(tc.Route.TokenType),
			"error":      failure.Error,
		},
	})
	a.instrumentation.Metrics().RecordTokenAttachment(ctx, "error")

	a.logger.Warn("access token missing",
		"token_type", string(tc.Route.TokenType),
		"path", tc.Path,
		"error", failure.Error,
		"error_description", failure.ErrorDescription)

	tc.Response.WriteHeader(http.StatusUnauthorized)
}

// joinURL appends path to the destination prefix the way the proxy builds
// the outbound URL.
func joinURL(prefix, path string) string {
	if path == "" {
		return prefix
	}
	return strings.TrimRight(prefix, "/") + "/" + strings.TrimLeft(path, "/")
}
