package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/oauth-trust/storage"
)

// testStore connects to POSTGRES_TEST_DSN and resets the tables. Tests are
// skipped when the variable is not set.
func testStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("Skipping test: POSTGRES_TEST_DSN not set")
	}

	ctx := context.Background()
	s, err := New(ctx, dsn, nil)
	if err != nil {
		t.Skipf("Skipping test: could not connect to postgres: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if _, err := s.db.Exec(ctx, `TRUNCATE oauth_clients, oauth_api_resources, oauth_authorization_codes, oauth_reference_tokens;`); err != nil {
		t.Fatalf("truncate failed: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func testCode(handle string) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Handle:          handle,
		ClientID:        "client-1",
		Subject:         "user-1",
		CreatedAt:       time.Now(),
		Lifetime:        5 * time.Minute,
		RedirectURI:     "https://app.example.com/cb",
		RequestedScopes: []string{"openid"},
	}
}

func TestSchemaEmbedded(t *testing.T) {
	for _, table := range []string{"oauth_clients", "oauth_api_resources", "oauth_authorization_codes", "oauth_reference_tokens"} {
		if !strings.Contains(schema, table) {
			t.Errorf("schema does not create %s", table)
		}
	}
}

func TestNew_MissingDSN(t *testing.T) {
	if _, err := New(context.Background(), "", nil); err == nil {
		t.Error("expected error for empty dsn")
	}
}

func TestCodes_ConsumeOnce(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveAuthorizationCode(ctx, testCode("code-1")); err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}
	if err := s.SaveAuthorizationCode(ctx, testCode("code-1")); !errors.Is(err, storage.ErrAuthorizationCodeExists) {
		t.Errorf("duplicate save error = %v, want ErrAuthorizationCodeExists", err)
	}

	got, err := s.Consume(ctx, "code-1")
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if got.Subject != "user-1" {
		t.Errorf("Subject = %q", got.Subject)
	}
	if _, err := s.Consume(ctx, "code-1"); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("second Consume error = %v, want ErrAuthorizationCodeNotFound", err)
	}
}

func TestCodes_ConsumeConcurrent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveAuthorizationCode(ctx, testCode("race")); err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Consume(ctx, "race"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
}

func TestClientsAndAPIResources(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	client := &storage.Client{
		ClientID:   "client-1",
		Enabled:    true,
		GrantTypes: storage.MustGrantTypes(storage.GrantTypeAuthorizationCode),
	}
	if err := s.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}
	if _, err := s.FindEnabledClientByID(ctx, "client-1"); err != nil {
		t.Errorf("FindEnabledClientByID failed: %v", err)
	}

	client.Enabled = false
	if err := s.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}
	if _, err := s.FindEnabledClientByID(ctx, "client-1"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("disabled client error = %v, want ErrClientNotFound", err)
	}

	for _, api := range []*storage.APIResource{
		{Name: "https://orders", Enabled: true, Scopes: []string{"orders.read"}},
		{Name: "https://billing", Enabled: true, Scopes: []string{"billing.read"}},
	} {
		if err := s.SaveAPIResource(ctx, api); err != nil {
			t.Fatalf("SaveAPIResource failed: %v", err)
		}
	}
	got, err := s.FindAPIResourcesByScope(ctx, []string{"orders.read", "other"})
	if err != nil {
		t.Fatalf("FindAPIResourcesByScope failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "https://orders" {
		t.Errorf("unexpected resources: %+v", got)
	}
}

func TestTokens_AndDeleteExpired(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	live := &storage.Token{ClientID: "client-1", Scopes: []string{"api.read"}, CreatedAt: time.Now(), Lifetime: time.Hour}
	expired := &storage.Token{ClientID: "client-1", CreatedAt: time.Now().Add(-2 * time.Hour), Lifetime: time.Hour}

	if err := s.SaveToken(ctx, "live", live); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}
	if err := s.SaveToken(ctx, "expired", expired); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	n, err := s.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	if _, err := s.GetToken(ctx, "live"); err != nil {
		t.Errorf("GetToken(live) failed: %v", err)
	}
	if _, err := s.GetToken(ctx, "expired"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("GetToken(expired) error = %v, want ErrTokenNotFound", err)
	}
}
