package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/giantswarm/oauth-trust/internal/testutil"
	"github.com/giantswarm/oauth-trust/storage/memory"
)

func TestServer_ReferenceTokenLifecycle(t *testing.T) {
	env := newTestEnv(t, &Config{Issuer: "https://issuer.example.com", AccessTokenTTL: 600})
	ctx := context.Background()
	code := env.saveCode(t, nil)

	grant, err := env.srv.RedeemAuthorizationCode(ctx, redeemRequest(env.client(t), code))
	if err != nil {
		t.Fatalf("RedeemAuthorizationCode() error = %v", err)
	}

	token, err := env.srv.IssueReferenceToken(ctx, grant)
	if err != nil {
		t.Fatalf("IssueReferenceToken() error = %v", err)
	}
	if token.AccessToken == "" || token.TokenType != "Bearer" {
		t.Fatalf("unexpected token: %+v", token)
	}
	if token.ExpiresIn != 600 {
		t.Errorf("ExpiresIn = %d, want 600", token.ExpiresIn)
	}

	active, claims, err := env.srv.ValidateReferenceToken(ctx, token.AccessToken)
	if err != nil {
		t.Fatalf("ValidateReferenceToken() error = %v", err)
	}
	if !active {
		t.Fatal("freshly issued token should be active")
	}
	if claims["iss"] != "https://issuer.example.com" || claims["sub"] != testutil.TestSubject {
		t.Errorf("unexpected claims: %v", claims)
	}

	resp := env.srv.GenerateIntrospectionResponse(ctx, IntrospectionRequest{
		IsActive: active,
		Claims:   claims,
		Caller:   IntrospectionCaller{APIResource: testutil.GenerateTestAPIResource()},
	})
	if resp["scope"] != testutil.TestAPIScope {
		t.Errorf("introspected scope = %v, want %q", resp["scope"], testutil.TestAPIScope)
	}

	env.clock.Advance(601 * time.Second)
	active, _, err = env.srv.ValidateReferenceToken(ctx, token.AccessToken)
	if err != nil || active {
		t.Errorf("expired token: active = %v, err = %v; want inactive", active, err)
	}
}

func TestServer_ReferenceTokenClientLifetime(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	code := env.saveCode(t, nil)

	client := env.client(t)
	client.AccessTokenLifetime = 5 * time.Minute

	grant, err := env.srv.RedeemAuthorizationCode(ctx, redeemRequest(client, code))
	if err != nil {
		t.Fatalf("RedeemAuthorizationCode() error = %v", err)
	}
	token, err := env.srv.IssueReferenceToken(ctx, grant)
	if err != nil {
		t.Fatalf("IssueReferenceToken() error = %v", err)
	}
	if token.ExpiresIn != 300 {
		t.Errorf("ExpiresIn = %d, want client lifetime 300", token.ExpiresIn)
	}

	if err := env.srv.RevokeReferenceToken(ctx, token.AccessToken); err != nil {
		t.Fatalf("RevokeReferenceToken() error = %v", err)
	}
	if active, _, _ := env.srv.ValidateReferenceToken(ctx, token.AccessToken); active {
		t.Error("revoked token should be inactive")
	}
}

func TestServer_ValidateReferenceToken_Unknown(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, handle := range []string{"", "unknown"} {
		active, claims, err := env.srv.ValidateReferenceToken(context.Background(), handle)
		if err != nil || active || claims != nil {
			t.Errorf("ValidateReferenceToken(%q) = %v, %v, %v; want inactive", handle, active, claims, err)
		}
	}
}

func TestServer_ReferenceTokensDisabled(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	srv, err := New(store, store, store, nil, nil, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := srv.IssueReferenceToken(context.Background(), &ValidatedGrant{}); !errors.Is(err, ErrReferenceTokensDisabled) {
		t.Errorf("IssueReferenceToken() error = %v, want ErrReferenceTokensDisabled", err)
	}
	if _, _, err := srv.ValidateReferenceToken(context.Background(), "x"); !errors.Is(err, ErrReferenceTokensDisabled) {
		t.Errorf("ValidateReferenceToken() error = %v, want ErrReferenceTokensDisabled", err)
	}
}
