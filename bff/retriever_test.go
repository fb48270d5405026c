package bff

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/giantswarm/oauth-trust/bff/session"
	"github.com/giantswarm/oauth-trust/dpop"
)

type tokenServer struct {
	*httptest.Server
	requests atomic.Int32
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.requests.Add(1)
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.PostForm.Get("grant_type") == "refresh_token" && r.PostForm.Get("refresh_token") == "refresh-ok":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "refreshed-access",
				"refresh_token": "refresh-2",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		case r.PostForm.Get("grant_type") == "client_credentials":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "client-access",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":             "invalid_grant",
				"error_description": "refresh token expired",
			})
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

type retrieverEnv struct {
	server    *tokenServer
	sessions  *session.MemoryStore
	retriever *SessionTokenRetriever
}

func newRetrieverEnv(t *testing.T, withClientCredentials bool) *retrieverEnv {
	t.Helper()
	ts := newTokenServer(t)
	endpoint := oauth2.Endpoint{TokenURL: ts.URL, AuthStyle: oauth2.AuthStyleInParams}

	cfg := RetrieverConfig{
		OAuth2: &oauth2.Config{ClientID: "bff", ClientSecret: "secret", Endpoint: endpoint},
	}
	if withClientCredentials {
		cfg.ClientCredentials = &clientcredentials.Config{
			ClientID:     "bff",
			ClientSecret: "secret",
			TokenURL:     ts.URL,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
	}

	sessions := session.NewMemoryStore()
	r, err := NewSessionTokenRetriever(sessions, cfg, nil)
	require.NoError(t, err)
	return &retrieverEnv{server: ts, sessions: sessions, retriever: r}
}

func (e *retrieverEnv) saveSession(t *testing.T, token *oauth2.Token, key *dpop.Key) string {
	t.Helper()
	sess := &session.Session{
		ID:        session.NewID(),
		Subject:   "user-1",
		Token:     token,
		DPoPKey:   key,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, e.sessions.Save(context.Background(), sess))
	return sess.ID
}

func retrievalContext(tokenType RequiredTokenType, sessionID string) RetrievalContext {
	r := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	if sessionID != "" {
		r.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: sessionID})
	}
	return RetrievalContext{
		Request:    r,
		Route:      Route{Name: "orders", TokenType: tokenType},
		APIAddress: "https://api.example.com",
		LocalPath:  "/orders",
	}
}

func validToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  "user-access",
		RefreshToken: "refresh-ok",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}
}

func TestRetriever_WithoutSession(t *testing.T) {
	env := newRetrieverEnv(t, true)
	ctx := context.Background()

	res, err := env.retriever.GetAccessToken(ctx, retrievalContext(TokenTypeNone, ""))
	require.NoError(t, err)
	assert.Equal(t, NoAccessToken{}, res)

	res, err = env.retriever.GetAccessToken(ctx, retrievalContext(TokenTypeUser, ""))
	require.NoError(t, err)
	assert.Equal(t, AccessTokenRetrievalError{Error: ErrorMissingSession, ErrorDescription: "no user session"}, res)

	res, err = env.retriever.GetAccessToken(ctx, retrievalContext(TokenTypeUserOrNone, ""))
	require.NoError(t, err)
	assert.Equal(t, NoAccessToken{}, res)

	res, err = env.retriever.GetAccessToken(ctx, retrievalContext(TokenTypeUserOrClient, ""))
	require.NoError(t, err)
	assert.Equal(t, BearerToken{AccessToken: "client-access"}, res)

	res, err = env.retriever.GetAccessToken(ctx, retrievalContext(TokenTypeUser, "unknown-session"))
	require.NoError(t, err)
	assert.IsType(t, AccessTokenRetrievalError{}, res)
}

func TestRetriever_ClientToken(t *testing.T) {
	env := newRetrieverEnv(t, true)

	res, err := env.retriever.GetAccessToken(context.Background(), retrievalContext(TokenTypeClient, ""))
	require.NoError(t, err)
	assert.Equal(t, BearerToken{AccessToken: "client-access"}, res)

	_, err = env.retriever.GetAccessToken(context.Background(), retrievalContext(TokenTypeClient, ""))
	require.NoError(t, err)
	assert.Equal(t, int32(1), env.server.requests.Load(), "client token is cached")
}

func TestRetriever_ClientTokenNotConfigured(t *testing.T) {
	env := newRetrieverEnv(t, false)

	_, err := env.retriever.GetAccessToken(context.Background(), retrievalContext(TokenTypeClient, ""))
	assert.Error(t, err)
}

func TestRetriever_ValidUserToken(t *testing.T) {
	env := newRetrieverEnv(t, false)
	id := env.saveSession(t, validToken(), nil)

	res, err := env.retriever.GetAccessToken(context.Background(), retrievalContext(TokenTypeUser, id))
	require.NoError(t, err)
	assert.Equal(t, BearerToken{AccessToken: "user-access"}, res)
	assert.Equal(t, int32(0), env.server.requests.Load())
}

func TestRetriever_DPoPSession(t *testing.T) {
	env := newRetrieverEnv(t, false)
	key, err := dpop.GenerateKey()
	require.NoError(t, err)
	id := env.saveSession(t, validToken(), key)

	res, err := env.retriever.GetAccessToken(context.Background(), retrievalContext(TokenTypeUserOrClient, id))
	require.NoError(t, err)
	dp, ok := res.(DPoPToken)
	require.True(t, ok, "expected DPoPToken, got %T", res)
	assert.Equal(t, "user-access", dp.AccessToken)
	assert.Equal(t, key.Thumbprint(), dp.Key.Thumbprint())
}

func TestRetriever_RefreshesExpiredToken(t *testing.T) {
	env := newRetrieverEnv(t, false)
	tok := validToken()
	tok.Expiry = time.Now().Add(-time.Minute)
	id := env.saveSession(t, tok, nil)

	res, err := env.retriever.GetAccessToken(context.Background(), retrievalContext(TokenTypeUser, id))
	require.NoError(t, err)
	assert.Equal(t, BearerToken{AccessToken: "refreshed-access"}, res)

	stored, err := env.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", stored.Token.AccessToken)
	assert.Equal(t, "refresh-2", stored.Token.RefreshToken)
}

func TestRetriever_RefreshRejected(t *testing.T) {
	env := newRetrieverEnv(t, false)
	tok := validToken()
	tok.RefreshToken = "refresh-expired"
	tok.Expiry = time.Now().Add(-time.Minute)
	id := env.saveSession(t, tok, nil)

	res, err := env.retriever.GetAccessToken(context.Background(), retrievalContext(TokenTypeUser, id))
	require.NoError(t, err)
	assert.Equal(t, AccessTokenRetrievalError{Error: "invalid_grant", ErrorDescription: "refresh token expired"}, res)
}

func TestRetriever_ExpiredWithoutRefreshToken(t *testing.T) {
	env := newRetrieverEnv(t, false)
	tok := validToken()
	tok.RefreshToken = ""
	tok.Expiry = time.Now().Add(-time.Minute)
	id := env.saveSession(t, tok, nil)

	res, err := env.retriever.GetAccessToken(context.Background(), retrievalContext(TokenTypeUser, id))
	require.NoError(t, err)
	failure, ok := res.(AccessTokenRetrievalError)
	require.True(t, ok)
	assert.Equal(t, ErrorInvalidGrant, failure.Error)
	assert.Equal(t, int32(0), env.server.requests.Load())
}

func TestRetriever_UnknownTokenType(t *testing.T) {
	env := newRetrieverEnv(t, false)

	_, err := env.retriever.GetAccessToken(context.Background(), retrievalContext("admin", ""))
	assert.Error(t, err)
}

func TestNewSessionTokenRetriever_Validation(t *testing.T) {
	_, err := NewSessionTokenRetriever(nil, RetrieverConfig{OAuth2: &oauth2.Config{}}, nil)
	assert.Error(t, err)

	_, err = NewSessionTokenRetriever(session.NewMemoryStore(), RetrieverConfig{}, nil)
	assert.Error(t, err)
}
