// Package oauth exposes the token, introspection and bearer-protected
// endpoints of an OAuth 2.0 authorization server over net/http.
//
// The protocol logic lives in the server package; this package adapts it
// to HTTP: client authentication, JSON responses, WWW-Authenticate
// challenges, rate limiting and request metrics.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-trust/instrumentation"
	"github.com/giantswarm/oauth-trust/internal/util"
	"github.com/giantswarm/oauth-trust/security"
	"github.com/giantswarm/oauth-trust/server"
	"github.com/giantswarm/oauth-trust/storage"
)

const tokenTypeBearer = "Bearer"

// Handler is a thin HTTP adapter for the OAuth Server.
// It handles HTTP requests and delegates to the Server for business logic.
type Handler struct {
	server      *server.Server
	config      Config
	logger      *slog.Logger
	tracer      trace.Tracer
	rateLimiter *security.RateLimiter
	now         func() time.Time
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *server.Server, config Config) (*Handler, error) {
	if srv == nil {
		return nil, fmt.Errorf("server is required")
	}
	config.applyDefaults()

	logger := config.Logger
	if logger == nil {
		logger = srv.Logger
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		config: config,
		logger: logger,
		tracer: srv.Instrumentation.Tracer("http"),
		now:    time.Now,
	}

	if config.RateLimit.Rate > 0 {
		h.rateLimiter = security.NewRateLimiterWithConfig(config.RateLimit.Rate, config.RateLimit.Burst, config.RateLimit.MaxEntries, logger)
		logger.Info("Rate limiting enabled", "rate", config.RateLimit.Rate, "burst", config.RateLimit.Burst)
	}

	return h, nil
}

// Stop releases background resources held by the handler
func (h *Handler) Stop() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// ServeToken handles the OAuth token endpoint. Only the authorization_code
// grant is supported; the issued access token is a reference token.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := h.now()
	ctx, span := h.tracer.Start(r.Context(), "oauth.http.token")
	defer span.End()

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusMethodNotAllowed, startTime)
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.config.ClientIP.ClientIP(r)
	instrumentation.AddSecurityAttributes(span, clientIP)

	if h.checkIPRateLimit(ctx, w, r, clientIP) {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if err := h.parseForm(w, r); err != nil {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidRequest("Failed to parse request"))
		return
	}

	client, err := h.authenticateClient(ctx, r, clientIP)
	if err != nil {
		oauthErr := ToOAuthError(err)
		h.recordHTTPMetrics(ctx, "token", r.Method, oauthErr.Status, startTime)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeOAuthError(w, oauthErr)
		return
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, client.ClientID))

	grant, err := h.server.ValidateTokenRequest(ctx, server.TokenRequestFromForm(r.PostForm), client)
	if err != nil {
		oauthErr := ToOAuthError(err)
		h.logger.Info("Token request rejected",
			"client_id", client.ClientID,
			"ip", clientIP,
			"error", oauthErr.Code)
		h.recordHTTPMetrics(ctx, "token", r.Method, oauthErr.Status, startTime)
		instrumentation.AddProtocolErrorAttributes(span, oauthErr.Code, oauthErr.Description)
		h.writeOAuthError(w, oauthErr)
		return
	}

	token, err := h.server.IssueReferenceToken(ctx, grant)
	if err != nil {
		h.logger.Error("Failed to issue access token", "client_id", client.ClientID, "error", err)
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusInternalServerError, startTime)
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, ErrServerError("Failed to issue access token"))
		return
	}

	h.logger.Info("Token issued", "client_id", client.ClientID, "ip", clientIP)
	h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	h.writeTokenResponse(w, token, util.JoinScopes(grant.Scopes))
}

// ServeTokenIntrospection handles the RFC 7662 token introspection endpoint.
// Callers authenticate with HTTP Basic as either an API resource or a client.
func (h *Handler) ServeTokenIntrospection(w http.ResponseWriter, r *http.Request) {
	startTime := h.now()
	ctx, span := h.tracer.Start(r.Context(), "oauth.http.introspect")
	defer span.End()

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "introspect", r.Method, http.StatusMethodNotAllowed, startTime)
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.config.ClientIP.ClientIP(r)
	instrumentation.AddSecurityAttributes(span, clientIP)

	if h.checkIPRateLimit(ctx, w, r, clientIP) {
		h.recordHTTPMetrics(ctx, "introspect", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if err := h.parseForm(w, r); err != nil {
		h.recordHTTPMetrics(ctx, "introspect", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidRequest("Failed to parse request"))
		return
	}

	caller, err := h.authenticateIntrospectionCaller(ctx, r, clientIP)
	if err != nil {
		oauthErr := ToOAuthError(err)
		h.recordHTTPMetrics(ctx, "introspect", r.Method, oauthErr.Status, startTime)
		h.writeOAuthError(w, oauthErr)
		return
	}

	token := r.PostForm.Get("token")
	if token == "" {
		h.recordHTTPMetrics(ctx, "introspect", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidRequest("token parameter is required"))
		return
	}

	active, claims, err := h.server.ValidateReferenceToken(ctx, token)
	if err != nil {
		h.logger.Error("Token introspection failed", "caller", caller.Name(), "error", err)
		h.recordHTTPMetrics(ctx, "introspect", r.Method, http.StatusInternalServerError, startTime)
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, ErrServerError("Token introspection failed"))
		return
	}

	response := h.server.GenerateIntrospectionResponse(ctx, server.IntrospectionRequest{
		IsActive: active,
		Claims:   claims,
		Caller:   caller,
	})

	h.recordHTTPMetrics(ctx, "introspect", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeJSON(w, http.StatusOK, response)
}

// ValidateToken is middleware that requires an active reference token.
// The token may be sent in the Authorization header or as access_token in
// a form body. On success the TokenInfo is available through
// TokenInfoFromContext.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		clientIP := h.config.ClientIP.ClientIP(r)

		if h.checkIPRateLimit(ctx, w, r, clientIP) {
			return
		}

		usage := server.ExtractBearerToken(w, r)
		if !usage.TokenFound {
			h.writeUnauthorizedError(w, "", "")
			return
		}

		active, claims, err := h.server.ValidateReferenceToken(ctx, usage.Token)
		if err != nil {
			h.logger.Error("Token validation failed", "ip", clientIP, "error", err)
			h.writeOAuthError(w, ErrServerError("Token validation failed"))
			return
		}
		if !active {
			h.logger.Debug("Inactive bearer token presented",
				"ip", clientIP,
				"usage", usage.UsageType.String(),
				"token_prefix", util.SafeTruncate(usage.Token, 8))
			h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "The access token is invalid or expired")
			return
		}

		info := &TokenInfo{
			UsageType: usage.UsageType.String(),
			Claims:    claims,
			Scopes:    server.ScopesFromClaim(claims["scope"]),
		}
		info.Subject, _ = claims["sub"].(string)
		info.ClientID, _ = claims["client_id"].(string)

		next.ServeHTTP(w, r.WithContext(ContextWithTokenInfo(ctx, info)))
	})
}

// parseForm bounds and parses the request body
func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) error {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxRequestBodyBytes)
	}
	return r.ParseForm()
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(ctx context.Context, w http.ResponseWriter, r *http.Request, clientIP string) bool {
	if h.rateLimiter == nil || h.rateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "path", r.URL.Path)
	h.server.Instrumentation.Metrics().RecordRateLimitExceeded(ctx, "ip")
	h.server.Auditor.LogRateLimitExceeded(ctx, clientIP, "")
	w.Header().Set("Retry-After", DefaultRetryAfterSeconds)
	h.writeOAuthError(w, NewOAuthError(ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests))
	return true
}

// clientCredentials reads client_id and client_secret from HTTP Basic or,
// when no Authorization header is sent, from the form body.
func clientCredentials(r *http.Request) (clientID, secret string, basic bool) {
	if id, s, ok := r.BasicAuth(); ok {
		return id, s, true
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret"), false
}

// authenticateClient validates client credentials from either Basic Auth or form parameters
// Returns the validated client or an error with the OAuth error code
func (h *Handler) authenticateClient(ctx context.Context, r *http.Request, clientIP string) (*storage.Client, error) {
	clientID, secret, _ := clientCredentials(r)
	if clientID == "" {
		h.logAuthFailure(ctx, "", clientIP, "missing_client_id", "Token request without client_id")
		return nil, ErrInvalidClient("Client authentication required")
	}

	client, err := h.server.ClientStore().FindEnabledClientByID(ctx, clientID)
	if errors.Is(err, storage.ErrClientNotFound) {
		h.logAuthFailure(ctx, clientID, clientIP, "unknown_client", "Unknown client")
		return nil, ErrInvalidClient("Client authentication failed")
	}
	if err != nil {
		h.logger.Error("Failed to load client", "client_id", clientID, "error", err)
		return nil, ErrServerError("Client authentication failed")
	}

	if client.RequireClientSecret || secret != "" {
		if err := client.ValidateSecret(secret); err != nil {
			h.logAuthFailure(ctx, clientID, clientIP, "invalid_client_secret", "Client authentication failed")
			return nil, ErrInvalidClient("Client authentication failed")
		}
	}

	return client, nil
}

// authenticateIntrospectionCaller resolves the Basic credentials to an API
// resource or, failing that, a client with a secret.
func (h *Handler) authenticateIntrospectionCaller(ctx context.Context, r *http.Request, clientIP string) (server.IntrospectionCaller, error) {
	name, secret, basic := clientCredentials(r)
	if !basic || name == "" || secret == "" {
		h.logAuthFailure(ctx, name, clientIP, "introspection_missing_auth", "Token introspection rejected: missing caller authentication")
		return server.IntrospectionCaller{}, ErrInvalidClient("Caller authentication required for token introspection")
	}

	api, err := h.server.APIResourceStore().FindAPIResourceByName(ctx, name)
	switch {
	case err == nil:
		if api.ValidateSecret(secret) != nil {
			h.logAuthFailure(ctx, name, clientIP, "introspection_auth_failed", "Client authentication failed for introspection")
			return server.IntrospectionCaller{}, ErrInvalidClient("Caller authentication failed")
		}
		return server.IntrospectionCaller{APIResource: api}, nil
	case !errors.Is(err, storage.ErrAPIResourceNotFound):
		h.logger.Error("Failed to load API resource", "api", name, "error", err)
		return server.IntrospectionCaller{}, ErrServerError("Caller authentication failed")
	}

	client, err := h.server.ClientStore().FindEnabledClientByID(ctx, name)
	switch {
	case errors.Is(err, storage.ErrClientNotFound):
		h.logAuthFailure(ctx, name, clientIP, "introspection_unknown_caller", "Client authentication failed for introspection")
		return server.IntrospectionCaller{}, ErrInvalidClient("Caller authentication failed")
	case err != nil:
		h.logger.Error("Failed to load client", "client_id", name, "error", err)
		return server.IntrospectionCaller{}, ErrServerError("Caller authentication failed")
	}
	if client.ValidateSecret(secret) != nil {
		h.logAuthFailure(ctx, name, clientIP, "introspection_auth_failed", "Client authentication failed for introspection")
		return server.IntrospectionCaller{}, ErrInvalidClient("Caller authentication failed")
	}

	return server.IntrospectionCaller{ClientID: client.ClientID}, nil
}

// logAuthFailure logs authentication failures with auditing.
func (h *Handler) logAuthFailure(ctx context.Context, clientID, clientIP, reason, message string) {
	h.logger.Warn(message, "client_id", clientID, "ip", clientIP)
	h.server.Auditor.LogAuthFailure(ctx, clientID, clientIP, reason)
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, token *oauth2.Token, scope string) {
	expiresIn := token.ExpiresIn
	if expiresIn <= 0 && !token.Expiry.IsZero() {
		expiresIn = int64(token.Expiry.Sub(h.now()).Seconds())
	}

	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = tokenTypeBearer
	}

	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   tokenType,
		ExpiresIn:   expiresIn,
		Scope:       scope,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.config.HTTPS)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("Failed to write response", "error", err)
	}
}

func (h *Handler) writeOAuthError(w http.ResponseWriter, err *OAuthError) {
	h.writeError(w, err.Code, err.Description, err.Status)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	if status == http.StatusUnauthorized {
		if code == ErrorCodeInvalidClient {
			w.Header().Set("WWW-Authenticate", `Basic realm="`+h.realm()+`"`)
		} else {
			w.Header().Set("WWW-Authenticate", h.formatWWWAuthenticate(code, description))
		}
	}
	h.writeJSON(w, status, ErrorResponse{Error: code, ErrorDescription: description})
}

// writeUnauthorizedError writes a 401 with a Bearer challenge. A request
// without any token gets a challenge without error attributes (RFC 6750
// section 3.1).
func (h *Handler) writeUnauthorizedError(w http.ResponseWriter, code, description string) {
	w.Header().Set("WWW-Authenticate", h.formatWWWAuthenticate(code, description))
	security.SetSecurityHeaders(w, h.config.HTTPS)
	if code == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: code, ErrorDescription: description})
}

func (h *Handler) realm() string {
	if h.config.Realm != "" {
		return escapeQuoted(h.config.Realm)
	}
	return "oauth"
}

// formatWWWAuthenticate formats a Bearer challenge per RFC 6750 section 3
func (h *Handler) formatWWWAuthenticate(errCode, errorDesc string) string {
	params := []string{fmt.Sprintf(`realm="%s"`, h.realm())}
	if errCode != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, escapeQuoted(errCode)))
	}
	if errorDesc != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, escapeQuoted(errorDesc)))
	}
	return tokenTypeBearer + " " + strings.Join(params, ", ")
}

// escapeQuoted escapes a value for an HTTP quoted-string. Backslashes go first.
func escapeQuoted(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	duration := float64(h.now().Sub(startTime).Microseconds()) / 1000
	h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, method, endpoint, status, duration)
}

// Context key for token info
type contextKey string

const tokenInfoKey contextKey = "token_info"

// ContextWithTokenInfo returns a copy of ctx carrying info
func ContextWithTokenInfo(ctx context.Context, info *TokenInfo) context.Context {
	return context.WithValue(ctx, tokenInfoKey, info)
}

// TokenInfoFromContext returns the TokenInfo stored by ValidateToken
func TokenInfoFromContext(ctx context.Context) (*TokenInfo, bool) {
	info, ok := ctx.Value(tokenInfoKey).(*TokenInfo)
	return info, ok && info != nil
}
