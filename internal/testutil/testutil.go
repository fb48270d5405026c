package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-trust/storage"
)

// Fixture defaults
const (
	TestClientID     = "test-client-id"
	TestClientSecret = "secret"
	TestRedirectURI  = "https://example.com/callback"
	TestSubject      = "test-user-123"
	TestAPIName      = "https://api.example.com"
	TestAPIScope     = "api.read"
)

// MockTime provides a controllable time source for deterministic testing.
// It is safe for concurrent use.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// DiscardLogger returns a logger that drops everything
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testSecretHash is TestClientSecret hashed at the lowest bcrypt cost
var testSecretHash = func() string {
	hash, err := bcrypt.GenerateFromPassword([]byte(TestClientSecret), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(hash)
}()

// GenerateTestClient creates a confidential client allowed to use the
// authorization code grant with TestRedirectURI.
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID:               TestClientID,
		ClientName:             "Test Client",
		Enabled:                true,
		RequireClientSecret:    true,
		ClientSecretHash:       testSecretHash,
		GrantTypes:             storage.MustGrantTypes(storage.GrantTypesCode()...),
		RedirectURIs:           []string{TestRedirectURI},
		PostLogoutRedirectURIs: []string{"https://example.com/signed-out"},
		AllowedScopes:          []string{"openid", "profile", TestAPIScope},
		AccessTokenType:        storage.AccessTokenTypeReference,
		CreatedAt:              time.Now(),
	}
}

// GenerateTestAPIResource creates an API resource declaring TestAPIScope
func GenerateTestAPIResource() *storage.APIResource {
	return &storage.APIResource{
		Name:        TestAPIName,
		DisplayName: "Test API",
		Enabled:     true,
		SecretHash:  testSecretHash,
		Scopes:      []string{TestAPIScope, "api.write"},
	}
}

// GenerateTestAuthorizationCode creates a code for GenerateTestClient issued at createdAt
func GenerateTestAuthorizationCode(createdAt time.Time) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Handle:                      GenerateRandomString(43),
		ClientID:                    TestClientID,
		Subject:                     TestSubject,
		SessionID:                   "session-1",
		CreatedAt:                   createdAt,
		Lifetime:                    storage.DefaultAuthorizationCodeLifetime,
		RedirectURI:                 TestRedirectURI,
		RequestedScopes:             []string{"openid", TestAPIScope},
		RequestedResourceIndicators: []string{TestAPIName},
		IsOpenID:                    true,
	}
}

// GenerateRandomString generates a random base64url string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid S256 PKCE challenge and verifier pair.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = GenerateRandomString(50)
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return challenge, verifier
}

// HTTPRequest is a helper for making test HTTP requests
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// NewHTTPRequest creates a new HTTP request helper
func NewHTTPRequest(method, url string) *HTTPRequest {
	return &HTTPRequest{
		Method:  method,
		URL:     url,
		Headers: make(map[string]string),
	}
}

// WithHeader adds a header to the request
func (r *HTTPRequest) WithHeader(key, value string) *HTTPRequest {
	r.Headers[key] = value
	return r
}

// WithBody sets the request body
func (r *HTTPRequest) WithBody(body string) *HTTPRequest {
	r.Body = body
	return r
}

// WithForm sets a form-encoded body and content type
func (r *HTTPRequest) WithForm(form url.Values) *HTTPRequest {
	r.Body = form.Encode()
	r.Headers["Content-Type"] = "application/x-www-form-urlencoded"
	return r
}

// Build returns the *http.Request
func (r *HTTPRequest) Build() *http.Request {
	var body io.Reader
	if r.Body != "" {
		body = strings.NewReader(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.URL, body)
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	return req
}

// Do executes the HTTP request
func (r *HTTPRequest) Do(handler http.Handler) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, r.Build())
	return rr
}
