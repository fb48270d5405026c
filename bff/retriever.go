package bff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/giantswarm/oauth-trust/bff/session"
	"github.com/giantswarm/oauth-trust/internal/util"
)

// Retrieval error codes produced locally rather than by the token endpoint.
const (
	ErrorMissingSession = "missing_session"
	ErrorInvalidGrant   = "invalid_grant"
	ErrorServerError    = "server_error"
)

// RetrieverConfig configures a SessionTokenRetriever.
type RetrieverConfig struct {
	// OAuth2 refreshes user tokens. Required.
	OAuth2 *oauth2.Config
	// ClientCredentials obtains the BFF's own token. Optional; routes that
	// need a client token fail without it.
	ClientCredentials *clientcredentials.Config
	// CookieName is the session cookie. Defaults to session.DefaultCookieName.
	CookieName string
}

// SessionTokenRetriever resolves tokens from the user's server-side session,
// refreshing them when they expire.
type SessionTokenRetriever struct {
	sessions   session.Store
	oauth2     *oauth2.Config
	client     oauth2.TokenSource
	cookieName string
	logger     *slog.Logger
}

// NewSessionTokenRetriever creates a retriever over a session store.
func NewSessionTokenRetriever(sessions session.Store, cfg RetrieverConfig, logger *slog.Logger) (*SessionTokenRetriever, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.OAuth2 == nil {
		return nil, fmt.Errorf("oauth2 config is required")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = session.DefaultCookieName
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &SessionTokenRetriever{
		sessions:   sessions,
		oauth2:     cfg.OAuth2,
		cookieName: cfg.CookieName,
		logger:     logger,
	}
	if cfg.ClientCredentials != nil {
		// Token sources from clientcredentials cache until expiry.
		r.client = cfg.ClientCredentials.TokenSource(context.Background())
	}
	return r, nil
}

// GetAccessToken implements AccessTokenRetriever.
func (r *SessionTokenRetriever) GetAccessToken(ctx context.Context, rc RetrievalContext) (AccessTokenResult, error) {
	switch rc.Route.TokenType {
	case TokenTypeNone:
		return NoAccessToken{}, nil
	case TokenTypeClient:
		return r.clientToken()
	case TokenTypeUser, TokenTypeUserOrClient, TokenTypeUserOrNone:
	default:
		return nil, fmt.Errorf("unknown token type %q", rc.Route.TokenType)
	}

	sess, err := r.loadSession(ctx, rc)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		switch rc.Route.TokenType {
		case TokenTypeUserOrClient:
			return r.clientToken()
		case TokenTypeUserOrNone:
			return NoAccessToken{}, nil
		default:
			return AccessTokenRetrievalError{
				Error:            ErrorMissingSession,
				ErrorDescription: "no user session",
			}, nil
		}
	}

	return r.userToken(ctx, sess)
}

func (r *SessionTokenRetriever) loadSession(ctx context.Context, rc RetrievalContext) (*session.Session, error) {
	if rc.Request == nil {
		return nil, nil
	}
	id, ok := session.IDFromRequest(rc.Request, r.cookieName)
	if !ok {
		return nil, nil
	}
	sess, err := r.sessions.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

func (r *SessionTokenRetriever) userToken(ctx context.Context, sess *session.Session) (AccessTokenResult, error) {
	if sess.Token == nil || (!sess.Token.Valid() && sess.Token.RefreshToken == "") {
		return AccessTokenRetrievalError{
			Error:            ErrorInvalidGrant,
			ErrorDescription: "access token expired and no refresh token is available",
		}, nil
	}

	tok, err := r.oauth2.TokenSource(ctx, sess.Token).Token()
	if err != nil {
		return retrievalFailure(err)
	}

	if tok.AccessToken != sess.Token.AccessToken {
		sess.Token = tok
		if err := r.sessions.Save(ctx, sess); err != nil {
			r.logger.Error("Failed to store refreshed tokens",
				"session_prefix", util.SafeTruncate(sess.ID, 8),
				"error", err)
		} else {
			r.logger.Debug("Refreshed user access token", "session_prefix", util.SafeTruncate(sess.ID, 8))
		}
	}

	if sess.DPoPKey != nil {
		return DPoPToken{AccessToken: tok.AccessToken, Key: sess.DPoPKey}, nil
	}
	return BearerToken{AccessToken: tok.AccessToken}, nil
}

func (r *SessionTokenRetriever) clientToken() (AccessTokenResult, error) {
	if r.client == nil {
		return nil, fmt.Errorf("client credentials are not configured")
	}
	tok, err := r.client.Token()
	if err != nil {
		return retrievalFailure(err)
	}
	return BearerToken{AccessToken: tok.AccessToken}, nil
}

// retrievalFailure turns a token endpoint error response into a retrieval
// error. Transport failures are returned as errors.
func retrievalFailure(err error) (AccessTokenResult, error) {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	code := re.ErrorCode
	if code == "" {
		code = ErrorServerError
	}
	return AccessTokenRetrievalError{
		Error:            code,
		ErrorDescription: re.ErrorDescription,
	}, nil
}
