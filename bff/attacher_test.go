package bff

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-trust/dpop"
	"github.com/giantswarm/oauth-trust/security"
)

type fakeRetriever struct {
	result AccessTokenResult
	err    error
	got    RetrievalContext
}

func (f *fakeRetriever) GetAccessToken(_ context.Context, rc RetrievalContext) (AccessTokenResult, error) {
	f.got = rc
	return f.result, f.err
}

type fakeProofs struct {
	proof *dpop.Proof
	err   error
	got   *dpop.ProofRequest
}

func (f *fakeProofs) CreateProof(_ context.Context, req dpop.ProofRequest) (*dpop.Proof, error) {
	f.got = &req
	return f.proof, f.err
}

type fakeSignOut struct {
	calls int
	err   error
}

func (f *fakeSignOut) SignOut(context.Context, http.ResponseWriter, *http.Request) error {
	f.calls++
	return f.err
}

type unknownResult struct{}

func (unknownResult) isAccessTokenResult() {}

type attacherEnv struct {
	retriever *fakeRetriever
	proofs    *fakeProofs
	signOut   *fakeSignOut
	attacher  *Attacher
	logs      *bytes.Buffer
	audit     *bytes.Buffer
}

func newAttacherEnv(t *testing.T, opts Options) *attacherEnv {
	t.Helper()
	env := &attacherEnv{
		retriever: &fakeRetriever{},
		proofs:    &fakeProofs{},
		signOut:   &fakeSignOut{},
		logs:      &bytes.Buffer{},
		audit:     &bytes.Buffer{},
	}
	logger := slog.New(slog.NewTextHandler(env.logs, nil))
	a, err := NewAttacher(env.retriever, env.proofs, env.signOut, opts, logger)
	require.NoError(t, err)
	a.SetAuditor(security.NewAuditor(slog.New(slog.NewJSONHandler(env.audit, nil)), true))
	env.attacher = a
	return env
}

func newTransformContext(method string, tokenType RequiredTokenType) (*TransformContext, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	return &TransformContext{
		Request:           httptest.NewRequest(method, "/api/orders/1", nil),
		Response:          rec,
		Route:             Route{Name: "orders", PathPrefix: "/api", Destination: "https://api.example.com/", TokenType: tokenType},
		DestinationPrefix: "https://api.example.com/",
		Path:              "/orders/1",
	}, rec
}

func TestAttacher_Bearer(t *testing.T) {
	env := newAttacherEnv(t, Options{})
	env.retriever.result = BearerToken{AccessToken: "token-1"}
	tc, rec := newTransformContext(http.MethodGet, TokenTypeUser)

	decision, err := env.attacher.Apply(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, DecisionForward, decision)
	assert.Equal(t, "Bearer token-1", tc.Header.Get(HeaderAuthorization))
	assert.Empty(t, tc.Header.Get(HeaderDPoP))
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "https://api.example.com/", env.retriever.got.APIAddress)
	assert.Equal(t, "/orders/1", env.retriever.got.LocalPath)
	assert.Equal(t, "orders", env.retriever.got.Route.Name)
}

func TestAttacher_DPoP(t *testing.T) {
	env := newAttacherEnv(t, Options{})
	key, err := dpop.GenerateKey()
	require.NoError(t, err)
	env.retriever.result = DPoPToken{AccessToken: "token-2", Key: key}
	env.proofs.proof = &dpop.Proof{Value: "proof-jwt"}
	tc, _ := newTransformContext(http.MethodPost, TokenTypeUser)
	tc.Header = http.Header{HeaderDPoP: []string{"stale"}}

	decision, err := env.attacher.Apply(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, DecisionForward, decision)
	assert.Equal(t, "DPoP token-2", tc.Header.Get(HeaderAuthorization))
	assert.Equal(t, []string{"proof-jwt"}, tc.Header.Values(HeaderDPoP))

	require.NotNil(t, env.proofs.got)
	assert.Equal(t, http.MethodPost, env.proofs.got.Method)
	assert.Equal(t, "https://api.example.com/orders/1", env.proofs.got.URL)
	assert.Equal(t, "token-2", env.proofs.got.AccessToken)
	assert.Same(t, key, env.proofs.got.Key)
}

func TestAttacher_DPoPWithoutProofFallsBackToBearer(t *testing.T) {
	env := newAttacherEnv(t, Options{})
	env.retriever.result = DPoPToken{AccessToken: "token-3"}
	tc, _ := newTransformContext(http.MethodGet, TokenTypeUser)

	decision, err := env.attacher.Apply(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, DecisionForward, decision)
	assert.Equal(t, "Bearer token-3", tc.Header.Get(HeaderAuthorization))
	assert.Empty(t, tc.Header.Get(HeaderDPoP))
}

func TestAttacher_DPoPWithSigner(t *testing.T) {
	key, err := dpop.GenerateKey()
	require.NoError(t, err)

	a, err := NewAttacher(&fakeRetriever{result: DPoPToken{AccessToken: "token-4", Key: key}}, dpop.NewSigner(nil), nil, Options{}, nil)
	require.NoError(t, err)
	tc, _ := newTransformContext(http.MethodGet, TokenTypeUser)

	_, err = a.Apply(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, "DPoP token-4", tc.Header.Get(HeaderAuthorization))
	assert.Equal(t, 2, strings.Count(tc.Header.Get(HeaderDPoP), "."))
}

func TestAttacher_ProofFailure(t *testing.T) {
	env := newAttacherEnv(t, Options{})
	env.retriever.result = DPoPToken{AccessToken: "token-5"}
	env.proofs.err = errors.New("signing failed")
	tc, _ := newTransformContext(http.MethodGet, TokenTypeUser)

	_, err := env.attacher.Apply(context.Background(), tc)
	require.Error(t, err)
	assert.Contains(t, env.logs.String(), "failed to attach access token")
	assert.Empty(t, tc.Header.Get(HeaderAuthorization))
}

func TestAttacher_RetrievalError(t *testing.T) {
	tests := []struct {
		name          string
		tokenType     RequiredTokenType
		removeSession bool
		wantSignOut   int
		wantLog       string
	}{
		{"user route signs out", TokenTypeUser, true, 1, "user session revoked"},
		{"user or client route signs out", TokenTypeUserOrClient, true, 1, "user session revoked"},
		{"user route keeps session", TokenTypeUser, false, 0, "failed to request new user access token"},
		{"client route never signs out", TokenTypeClient, true, 0, "access token missing"},
		{"user or none route never signs out", TokenTypeUserOrNone, true, 0, "access token missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newAttacherEnv(t, Options{RemoveSessionAfterRefreshTokenExpiration: tt.removeSession})
			env.retriever.result = AccessTokenRetrievalError{Error: "invalid_grant", ErrorDescription: "refresh token expired"}
			tc, rec := newTransformContext(http.MethodGet, tt.tokenType)

			decision, err := env.attacher.Apply(context.Background(), tc)
			require.NoError(t, err)
			assert.Equal(t, DecisionShortCircuit, decision)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.wantSignOut, env.signOut.calls)
			assert.Contains(t, env.logs.String(), tt.wantLog)
			assert.Contains(t, env.logs.String(), "access token missing")
			assert.Empty(t, tc.Header.Get(HeaderAuthorization))
			assert.Contains(t, env.audit.String(), security.EventAccessTokenRetrievalFailed)
			if tt.wantSignOut > 0 {
				assert.Contains(t, env.audit.String(), security.EventUserSessionRevoked)
			}
		})
	}
}

func TestAttacher_SignOutFailureStillRejects(t *testing.T) {
	env := newAttacherEnv(t, Options{RemoveSessionAfterRefreshTokenExpiration: true})
	env.retriever.result = AccessTokenRetrievalError{Error: "invalid_grant"}
	env.signOut.err = errors.New("store down")
	tc, rec := newTransformContext(http.MethodGet, TokenTypeUser)

	decision, err := env.attacher.Apply(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, DecisionShortCircuit, decision)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, env.logs.String(), "failed to sign out user")
}

func TestAttacher_NoAccessToken(t *testing.T) {
	env := newAttacherEnv(t, Options{})
	env.retriever.result = NoAccessToken{}
	tc, _ := newTransformContext(http.MethodGet, TokenTypeNone)

	decision, err := env.attacher.Apply(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, DecisionForward, decision)
	assert.Empty(t, tc.Header)
}

func TestAttacher_RetrieverError(t *testing.T) {
	env := newAttacherEnv(t, Options{})
	env.retriever.err = errors.New("session store unavailable")
	tc, _ := newTransformContext(http.MethodGet, TokenTypeUser)

	_, err := env.attacher.Apply(context.Background(), tc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session store unavailable")
	assert.Contains(t, env.logs.String(), "failed to attach access token")
}

func TestAttacher_UnknownResult(t *testing.T) {
	env := newAttacherEnv(t, Options{})
	env.retriever.result = unknownResult{}
	tc, _ := newTransformContext(http.MethodGet, TokenTypeUser)

	_, err := env.attacher.Apply(context.Background(), tc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected access token result")
}

func TestNewAttacher_Validation(t *testing.T) {
	_, err := NewAttacher(nil, &fakeProofs{}, nil, Options{}, nil)
	assert.Error(t, err)

	_, err = NewAttacher(&fakeRetriever{}, nil, nil, Options{}, nil)
	assert.Error(t, err)

	_, err = NewAttacher(&fakeRetriever{}, &fakeProofs{}, nil, Options{RemoveSessionAfterRefreshTokenExpiration: true}, nil)
	assert.Error(t, err)

	_, err = NewAttacher(&fakeRetriever{}, &fakeProofs{}, nil, Options{}, nil)
	assert.NoError(t, err)
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "https://api.example.com/orders", joinURL("https://api.example.com/", "/orders"))
	assert.Equal(t, "https://api.example.com/v1/orders", joinURL("https://api.example.com/v1", "orders"))
	assert.Equal(t, "https://api.example.com", joinURL("https://api.example.com", ""))
}

func TestRequiredTokenType_Valid(t *testing.T) {
	for _, tt := range []RequiredTokenType{TokenTypeNone, TokenTypeUser, TokenTypeClient, TokenTypeUserOrClient, TokenTypeUserOrNone} {
		assert.True(t, tt.Valid(), tt)
	}
	assert.False(t, RequiredTokenType("").Valid())
	assert.False(t, RequiredTokenType("admin").Valid())
}
