package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-trust/bff/session"
	"github.com/giantswarm/oauth-trust/instrumentation"
	"github.com/giantswarm/oauth-trust/internal/config"
	"github.com/giantswarm/oauth-trust/internal/testutil"
	"github.com/giantswarm/oauth-trust/security"
	"github.com/giantswarm/oauth-trust/storage"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.OAuth.Issuer = "https://auth.example.com"
	cfg.Clients = []*storage.Client{testutil.GenerateTestClient()}
	cfg.APIResources = []*storage.APIResource{testutil.GenerateTestAPIResource()}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg, instrumentation.NewNoop(), testutil.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a
}

func TestOpenStores_SeedsMemory(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Enabled = true

	stores, closeFn, err := openStores(context.Background(), cfg, testutil.DiscardLogger())
	require.NoError(t, err)
	defer closeFn()

	client, err := stores.Clients.FindEnabledClientByID(context.Background(), testutil.TestClientID)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestClientID, client.ClientID)

	api, err := stores.APIResources.FindAPIResourceByName(context.Background(), testutil.TestAPIName)
	require.NoError(t, err)
	assert.Contains(t, api.Scopes, testutil.TestAPIScope)
}

func TestOpenStores_UnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Driver = "sqlite"

	_, _, err := openStores(context.Background(), cfg, testutil.DiscardLogger())
	assert.Error(t, err)
}

func TestApp_Routes(t *testing.T) {
	a := newTestApp(t, testConfig())

	t.Run("healthz", func(t *testing.T) {
		rec := httptest.NewRecorder()
		a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get(security.RequestIDHeader))
	})

	t.Run("tokeninfo without token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tokeninfo", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.True(t, strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Bearer"))
	})

	t.Run("introspect without credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/introspect", strings.NewReader("token=abc"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		a.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token with unsupported grant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader("grant_type=password"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(testutil.TestClientID, testutil.TestClientSecret)
		rec := httptest.NewRecorder()
		a.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "unsupported_grant_type", body["error"])
	})

	t.Run("token rejects GET", func(t *testing.T) {
		rec := httptest.NewRecorder()
		a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/token", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestMountBFF_AttachesSessionToken(t *testing.T) {
	var gotAuth, gotCookie, gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCookie = r.Header.Get("Cookie")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	cfg := config.Default().BFF
	cfg.Enabled = true
	cfg.ClientID = "spa"
	cfg.TokenURL = "https://auth.example.com/token"
	cfg.Routes = []config.RouteConfig{
		{Name: "orders", PathPrefix: "/api/orders/", Destination: upstream.URL + "/v1", TokenType: "user"},
		{Name: "public", PathPrefix: "/api/public", Destination: upstream.URL, TokenType: "none"},
	}

	sessions := session.NewMemoryStore()
	sess := &session.Session{
		ID:      session.NewID(),
		Subject: testutil.TestSubject,
		Token: &oauth2.Token{
			AccessToken: "user-access-token",
			TokenType:   "Bearer",
			Expiry:      time.Now().Add(time.Hour),
		},
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, sessions.Save(context.Background(), sess))

	r := chi.NewRouter()
	require.NoError(t, mountBFF(r, cfg, sessions, nil, instrumentation.NewNoop(), testutil.DiscardLogger()))

	t.Run("user route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/orders/42", nil)
		req.AddCookie(&http.Cookie{Name: cfg.Session.CookieName, Value: sess.ID})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "Bearer user-access-token", gotAuth)
		assert.Empty(t, gotCookie)
		assert.Equal(t, "/v1/42", gotPath)
	})

	t.Run("user route without session", func(t *testing.T) {
		gotAuth = ""
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/42", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, gotAuth)
	})

	t.Run("anonymous route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/public/status", nil)
		req.Header.Set("Authorization", "Bearer browser-token")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, gotAuth)
		assert.Equal(t, "/status", gotPath)
	})
}

func TestPrintClients(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printClients(&buf, testConfig()))

	out := buf.String()
	assert.Contains(t, out, testutil.TestClientID)
	assert.Contains(t, out, "authorization_code")
	assert.Contains(t, out, testutil.TestAPIName)
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Format = "text"

	var buf bytes.Buffer
	logger, err := newLogger(&buf, cfg)
	require.NoError(t, err)
	logger.Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "k=v")

	cfg.Log.Level = "loud"
	_, err = newLogger(&buf, cfg)
	assert.Error(t, err)
}

func TestNewAuditLog(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Audit = true
	cfg.Log.AuditFailureRate = 0.001
	cfg.Log.AuditFailureBurst = 1

	var buf bytes.Buffer
	a := newAuditLog(cfg, slog.New(slog.NewTextHandler(&buf, nil)))
	defer a.stop()
	require.NotNil(t, a.limiter)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		a.LogAuthFailure(ctx, "noisy-client", "10.0.0.1", "bad secret")
		a.LogIntrospectionFailure(ctx, "api", "user", "noisy-client", []string{"other"})
	}

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "event_type="+security.EventAuthFailure))
	assert.Equal(t, 3, strings.Count(out, "event_type="+security.EventIntrospectionScopeMismatch))

	cfg.Log.AuditFailureRate = 0
	unlimited := newAuditLog(cfg, testutil.DiscardLogger())
	defer unlimited.stop()
	assert.Nil(t, unlimited.limiter)
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--env-file", "", "version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, version+"\n", buf.String())
}
