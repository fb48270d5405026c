package oauth

import (
	"testing"

	"github.com/giantswarm/oauth-trust/instrumentation"
	"github.com/giantswarm/oauth-trust/internal/testutil"
	"github.com/giantswarm/oauth-trust/security"
	"github.com/giantswarm/oauth-trust/server"
	"github.com/giantswarm/oauth-trust/storage/memory"
)

func TestNewServer(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	inst := instrumentation.NewNoop()
	auditor := security.NewAuditor(testutil.DiscardLogger(), true)

	srv, err := NewServer(
		Stores{Clients: store, Codes: store, APIResources: store, Tokens: store},
		&server.Config{Issuer: "https://auth.example.com"},
		WithLogger(testutil.DiscardLogger()),
		WithAuditor(auditor),
		WithInstrumentation(inst),
		WithProfileService(server.AlwaysActiveProfileService{}),
	)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if srv.Auditor != auditor {
		t.Error("auditor not applied")
	}
	if srv.Instrumentation != inst {
		t.Error("instrumentation not applied")
	}
}

func TestNewServer_MissingStores(t *testing.T) {
	if _, err := NewServer(Stores{}, nil); err == nil {
		t.Error("NewServer() with no stores should fail")
	}
}

func TestNewServer_InvalidConfig(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	_, err := NewServer(
		Stores{Clients: store, Codes: store, APIResources: store},
		&server.Config{Issuer: "not a url"},
	)
	if err == nil {
		t.Error("NewServer() with an invalid issuer should fail")
	}
}
