package server

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oauth-trust/instrumentation"
	"github.com/giantswarm/oauth-trust/internal/util"
	"github.com/giantswarm/oauth-trust/security"
	"github.com/giantswarm/oauth-trust/storage"
)

// Introspection caller kinds, used in metrics and audit details
const (
	IntrospectionCallerAPI    = "api"
	IntrospectionCallerClient = "client"
)

// IntrospectionCaller is the authenticated party calling the introspection
// endpoint. Exactly one of ClientID and APIResource is set.
type IntrospectionCaller struct {
	ClientID    string
	APIResource *storage.APIResource
}

// Kind returns IntrospectionCallerAPI or IntrospectionCallerClient.
func (c IntrospectionCaller) Kind() string {
	if c.APIResource != nil {
		return IntrospectionCallerAPI
	}
	return IntrospectionCallerClient
}

// Name returns the API resource name or client ID of the caller.
func (c IntrospectionCaller) Name() string {
	if c.APIResource != nil {
		return c.APIResource.Name
	}
	return c.ClientID
}

// IntrospectionRequest is a validated token ready to be described.
type IntrospectionRequest struct {
	IsActive bool
	Claims   map[string]any
	Caller   IntrospectionCaller
}

// GenerateIntrospectionResponse builds the RFC 7662 response body.
//
// An inactive token yields only {"active": false}. An API caller sees only
// the token scopes it declares itself; when it shares none, the token is
// reported inactive to it. A client sees every scope of its own tokens and
// is told that tokens issued to other clients are inactive.
func (s *Server) GenerateIntrospectionResponse(ctx context.Context, req IntrospectionRequest) map[string]any {
	ctx, span := s.tracer.Start(ctx, "server.GenerateIntrospectionResponse")
	defer span.End()

	caller := req.Caller
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrIntrospectionCaller, caller.Kind()))

	subject, _ := req.Claims["sub"].(string)
	tokenClientID, _ := req.Claims["client_id"].(string)

	if !req.IsActive {
		s.Auditor.LogIntrospection(ctx, security.EventIntrospectionInactive, caller.Name(), subject, tokenClientID, nil)
		s.Instrumentation.Metrics().RecordIntrospection(ctx, caller.Kind(), "inactive")
		instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrIntrospectionActive, false))
		return inactiveResponse()
	}

	if caller.APIResource == nil && tokenClientID != caller.ClientID {
		s.Logger.Warn("Client introspected a token issued to another client",
			"caller", caller.ClientID,
			"token_client_id", tokenClientID)
		s.Auditor.LogIntrospectionClientMismatch(ctx, caller.ClientID, subject, tokenClientID)
		s.Instrumentation.Metrics().RecordIntrospection(ctx, caller.Kind(), "client_mismatch")
		instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrIntrospectionActive, false))
		return inactiveResponse()
	}

	scopes := ScopesFromClaim(req.Claims["scope"])

	if caller.APIResource != nil {
		scopes = util.Intersect(scopes, caller.APIResource.Scopes)
		if len(scopes) == 0 {
			tokenScopes := ScopesFromClaim(req.Claims["scope"])
			s.Logger.Warn("Introspecting API has no scope in common with the token",
				"api", caller.APIResource.Name,
				"token_scopes", util.JoinScopes(tokenScopes))
			s.Auditor.LogIntrospectionFailure(ctx, caller.Name(), subject, tokenClientID, tokenScopes)
			s.Instrumentation.Metrics().RecordIntrospection(ctx, caller.Kind(), "scope_mismatch")
			instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrIntrospectionActive, false))
			return inactiveResponse()
		}
	}

	response := make(map[string]any, len(req.Claims)+1)
	for k, v := range req.Claims {
		if k == "scope" {
			continue
		}
		response[k] = v
	}
	response["active"] = true
	response["scope"] = util.JoinScopes(scopes)

	s.Auditor.LogIntrospection(ctx, security.EventIntrospectionSuccess, caller.Name(), subject, tokenClientID, scopes)
	s.Instrumentation.Metrics().RecordIntrospection(ctx, caller.Kind(), "active")
	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrIntrospectionActive, true))
	instrumentation.SetSpanSuccess(span)

	return response
}

func inactiveResponse() map[string]any {
	return map[string]any{"active": false}
}

// ScopesFromClaim reads a scope claim in any of its common shapes: a
// space-delimited string, []string, or a JSON-decoded []any.
func ScopesFromClaim(claim any) []string {
	switch v := claim.(type) {
	case nil:
		return nil
	case string:
		return util.SplitScopes(v)
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			default:
				out = append(out, fmt.Sprint(s))
			}
		}
		return out
	default:
		return util.SplitScopes(strings.TrimSpace(fmt.Sprint(v)))
	}
}
