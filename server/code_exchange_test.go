package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/oauth-trust/internal/testutil"
	"github.com/giantswarm/oauth-trust/security"
	"github.com/giantswarm/oauth-trust/storage"
)

func assertGrantError(t *testing.T, err error, wantCode string) {
	t.Helper()
	var gerr *GrantError
	if !errors.As(err, &gerr) {
		t.Fatalf("error = %v (%T), want *GrantError with code %q", err, err, wantCode)
	}
	if gerr.Code != wantCode {
		t.Errorf("error code = %q (%s), want %q", gerr.Code, gerr.Description, wantCode)
	}
}

type profileFunc func(ctx context.Context, subject string, client *storage.Client) (bool, error)

func (f profileFunc) IsActive(ctx context.Context, subject string, client *storage.Client) (bool, error) {
	return f(ctx, subject, client)
}

type failingCodeStore struct {
	err error
}

func (f failingCodeStore) SaveAuthorizationCode(context.Context, *storage.AuthorizationCode) error {
	return f.err
}

func (f failingCodeStore) Consume(context.Context, string) (*storage.AuthorizationCode, error) {
	return nil, f.err
}

func redeemRequest(client *storage.Client, code *storage.AuthorizationCode) RedeemRequest {
	return RedeemRequest{
		Client:      client,
		Code:        code.Handle,
		RedirectURI: code.RedirectURI,
	}
}

func TestServer_RedeemAuthorizationCode_Success(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.client(t)
	code := env.saveCode(t, nil)

	grant, err := env.srv.RedeemAuthorizationCode(context.Background(), redeemRequest(client, code))
	if err != nil {
		t.Fatalf("RedeemAuthorizationCode() error = %v", err)
	}

	if grant.Subject != testutil.TestSubject {
		t.Errorf("Subject = %q, want %q", grant.Subject, testutil.TestSubject)
	}
	if grant.SessionID != code.SessionID {
		t.Errorf("SessionID = %q, want %q", grant.SessionID, code.SessionID)
	}
	if len(grant.Scopes) != 2 || grant.Scopes[0] != "openid" || grant.Scopes[1] != testutil.TestAPIScope {
		t.Errorf("Scopes = %v, want [openid %s]", grant.Scopes, testutil.TestAPIScope)
	}
	if len(grant.ResourceIndicators) != 1 || grant.ResourceIndicators[0] != testutil.TestAPIName {
		t.Errorf("ResourceIndicators = %v, want code indicators", grant.ResourceIndicators)
	}
	if !env.auditContains(security.EventAuthorizationCodeRedeemed) {
		t.Error("expected redemption audit event")
	}
}

func TestServer_RedeemAuthorizationCode_CarriesOpenIDData(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.client(t)
	code := env.saveCode(t, func(c *storage.AuthorizationCode) {
		c.Nonce = "n-0S6_WzA2Mj"
		c.Claims = map[string]any{"acr": "mfa"}
	})

	grant, err := env.srv.RedeemAuthorizationCode(context.Background(), redeemRequest(client, code))
	if err != nil {
		t.Fatalf("RedeemAuthorizationCode() error = %v", err)
	}

	if !grant.IsOpenID {
		t.Error("IsOpenID = false, want true")
	}
	if grant.Nonce != "n-0S6_WzA2Mj" {
		t.Errorf("Nonce = %q, want %q", grant.Nonce, "n-0S6_WzA2Mj")
	}
	if grant.Claims["acr"] != "mfa" {
		t.Errorf("Claims = %v, want acr=mfa", grant.Claims)
	}

	grant.Claims["acr"] = "changed"
	if code.Claims["acr"] != "mfa" {
		t.Error("grant claims share storage with the code")
	}
}

func TestServer_RedeemAuthorizationCode_ExpiryBoundary(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.client(t)

	atLimit := env.saveCode(t, nil)
	pastLimit := env.saveCode(t, nil)

	env.clock.Advance(storage.DefaultAuthorizationCodeLifetime)
	if _, err := env.srv.RedeemAuthorizationCode(context.Background(), redeemRequest(client, atLimit)); err != nil {
		t.Errorf("code at exactly its lifetime should redeem, got %v", err)
	}

	env.clock.Advance(time.Second)
	_, err := env.srv.RedeemAuthorizationCode(context.Background(), redeemRequest(client, pastLimit))
	assertGrantError(t, err, ErrorCodeInvalidGrant)
}

func TestServer_RedeemAuthorizationCode_Failures(t *testing.T) {
	challenge, verifier := testutil.GeneratePKCEPair()

	tests := []struct {
		name       string
		mutateCode func(*storage.AuthorizationCode)
		mutateReq  func(*RedeemRequest)
		setup      func(*testEnv)
		wantCode   string
		// codeUntouched is set when the request never names the stored code
		codeUntouched bool
	}{
		{
			name:          "unknown code",
			mutateReq:     func(r *RedeemRequest) { r.Code = "does-not-exist" },
			wantCode:      ErrorCodeInvalidGrant,
			codeUntouched: true,
		},
		{
			name:       "code issued to another client",
			mutateCode: func(c *storage.AuthorizationCode) { c.ClientID = "other-client" },
			wantCode:   ErrorCodeInvalidGrant,
		},
		{
			name:      "redirect uri differs only in case",
			mutateReq: func(r *RedeemRequest) { r.RedirectURI = "https://EXAMPLE.com/callback" },
			wantCode:  ErrorCodeInvalidGrant,
		},
		{
			name:       "no scopes",
			mutateCode: func(c *storage.AuthorizationCode) { c.RequestedScopes = nil },
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name: "inactive subject",
			setup: func(e *testEnv) {
				e.srv.SetProfileService(profileFunc(func(context.Context, string, *storage.Client) (bool, error) {
					return false, nil
				}))
			},
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name: "profile service error",
			setup: func(e *testEnv) {
				e.srv.SetProfileService(profileFunc(func(context.Context, string, *storage.Client) (bool, error) {
					return false, errors.New("directory unavailable")
				}))
			},
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name:      "resource not in original request",
			mutateReq: func(r *RedeemRequest) { r.Resources = []string{"https://other.example.com"} },
			wantCode:  ErrorCodeInvalidTarget,
		},
		{
			name:       "scope not allowed for client",
			mutateCode: func(c *storage.AuthorizationCode) { c.RequestedScopes = []string{"openid", "admin"} },
			wantCode:   ErrorCodeInvalidScope,
		},
		{
			name: "unknown resource indicator on code",
			mutateCode: func(c *storage.AuthorizationCode) {
				c.RequestedResourceIndicators = []string{"https://unknown.example.com"}
			},
			wantCode: ErrorCodeInvalidTarget,
		},
		{
			name: "scope failure reported before target failure",
			mutateCode: func(c *storage.AuthorizationCode) {
				c.RequestedScopes = []string{"admin"}
				c.RequestedResourceIndicators = []string{"https://unknown.example.com"}
			},
			wantCode: ErrorCodeInvalidScope,
		},
		{
			name: "pkce verifier mismatch",
			mutateCode: func(c *storage.AuthorizationCode) {
				c.CodeChallenge = challenge
				c.CodeChallengeMethod = PKCEMethodS256
			},
			mutateReq: func(r *RedeemRequest) { r.CodeVerifier = verifier + "x" },
			wantCode:  ErrorCodeInvalidGrant,
		},
		{
			name: "pkce required but no challenge",
			setup: func(e *testEnv) {
				client := testutil.GenerateTestClient()
				client.RequirePKCE = true
				_ = e.store.SaveClient(context.Background(), client)
			},
			wantCode: ErrorCodeInvalidGrant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			if tt.setup != nil {
				tt.setup(env)
			}
			client := env.client(t)
			code := env.saveCode(t, tt.mutateCode)

			req := redeemRequest(client, code)
			if tt.mutateReq != nil {
				tt.mutateReq(&req)
			}

			grant, err := env.srv.RedeemAuthorizationCode(context.Background(), req)
			if grant != nil {
				t.Errorf("expected no grant, got %+v", grant)
			}
			assertGrantError(t, err, tt.wantCode)

			if !env.auditContains(security.EventAuthorizationCodeRedemptionFailed) {
				t.Error("expected redemption failure audit event")
			}

			if tt.codeUntouched {
				return
			}
			// The code is spent whatever the outcome.
			if _, err := env.store.Consume(context.Background(), code.Handle); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
				t.Errorf("code still present after failed redemption: %v", err)
			}
		})
	}
}

func TestServer_RedeemAuthorizationCode_PKCE(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.client(t)
	challenge, verifier := testutil.GeneratePKCEPair()

	code := env.saveCode(t, func(c *storage.AuthorizationCode) {
		c.CodeChallenge = challenge
		c.CodeChallengeMethod = PKCEMethodS256
	})

	req := redeemRequest(client, code)
	req.CodeVerifier = verifier
	if _, err := env.srv.RedeemAuthorizationCode(context.Background(), req); err != nil {
		t.Fatalf("RedeemAuthorizationCode() error = %v", err)
	}
}

func TestServer_RedeemAuthorizationCode_ResourceSubset(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	second := &storage.APIResource{Name: "https://second.example.com", Enabled: true, Scopes: []string{"second.read"}}
	if err := env.store.SaveAPIResource(ctx, second); err != nil {
		t.Fatalf("SaveAPIResource() error = %v", err)
	}
	client := testutil.GenerateTestClient()
	client.AllowedScopes = append(client.AllowedScopes, "second.read")
	if err := env.store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	code := env.saveCode(t, func(c *storage.AuthorizationCode) {
		c.RequestedScopes = []string{testutil.TestAPIScope, "second.read"}
		c.RequestedResourceIndicators = []string{testutil.TestAPIName, second.Name}
	})

	req := redeemRequest(env.client(t), code)
	req.Resources = []string{second.Name}

	grant, err := env.srv.RedeemAuthorizationCode(ctx, req)
	if err != nil {
		t.Fatalf("RedeemAuthorizationCode() error = %v", err)
	}
	if len(grant.ResourceIndicators) != 1 || grant.ResourceIndicators[0] != second.Name {
		t.Errorf("ResourceIndicators = %v, want [%s]", grant.ResourceIndicators, second.Name)
	}
}

func TestServer_RedeemAuthorizationCode_ReplayAfterSuccess(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.client(t)
	code := env.saveCode(t, nil)

	if _, err := env.srv.RedeemAuthorizationCode(context.Background(), redeemRequest(client, code)); err != nil {
		t.Fatalf("first redemption error = %v", err)
	}
	_, err := env.srv.RedeemAuthorizationCode(context.Background(), redeemRequest(client, code))
	assertGrantError(t, err, ErrorCodeInvalidGrant)
}

func TestServer_RedeemAuthorizationCode_Concurrent(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.client(t)
	code := env.saveCode(t, nil)

	const attempts = 32
	var successes, rejections atomic.Int32
	start := make(chan struct{})

	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			<-start
			_, err := env.srv.RedeemAuthorizationCode(context.Background(), redeemRequest(client, code))
			if err == nil {
				successes.Add(1)
				return nil
			}
			var gerr *GrantError
			if !errors.As(err, &gerr) || gerr.Code != ErrorCodeInvalidGrant {
				return err
			}
			rejections.Add(1)
			return nil
		})
	}
	close(start)

	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected redemption error: %v", err)
	}
	if got := successes.Load(); got != 1 {
		t.Errorf("successful redemptions = %d, want exactly 1", got)
	}
	if got := rejections.Load(); got != attempts-1 {
		t.Errorf("rejected redemptions = %d, want %d", got, attempts-1)
	}
}

func TestServer_RedeemAuthorizationCode_StoreError(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.client(t)

	srv, err := New(env.store, failingCodeStore{err: errors.New("connection reset")}, env.store, nil, nil, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = srv.RedeemAuthorizationCode(context.Background(), RedeemRequest{
		Client:      client,
		Code:        "any",
		RedirectURI: testutil.TestRedirectURI,
	})
	assertGrantError(t, err, ErrorCodeInvalidGrant)
}

func TestServer_RedeemAuthorizationCode_NilClient(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.srv.RedeemAuthorizationCode(context.Background(), RedeemRequest{Code: "x"})
	assertGrantError(t, err, ErrorCodeInvalidClient)
}
