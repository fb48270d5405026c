package storage

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// AccessTokenType selects how access tokens for a client are issued.
type AccessTokenType string

const (
	// AccessTokenTypeJWT issues self-contained tokens.
	AccessTokenTypeJWT AccessTokenType = "jwt"
	// AccessTokenTypeReference issues opaque handles that must be introspected.
	AccessTokenTypeReference AccessTokenType = "reference"
)

// DefaultAuthorizationCodeLifetime is used when a client does not set one.
const DefaultAuthorizationCodeLifetime = 300 * time.Second

// ErrInvalidClientSecret is returned when a presented secret does not match.
var ErrInvalidClientSecret = errors.New("invalid client secret")

// Client is a registered relying party.
//
// Clients are created and updated by configuration and are read-only to the
// validators. GrantTypes can only hold a validated set; use SetGrantTypes to
// change it.
type Client struct {
	ClientID                  string          `json:"client_id" yaml:"client_id"`
	ClientName                string          `json:"client_name,omitempty" yaml:"client_name,omitempty"`
	Enabled                   bool            `json:"enabled" yaml:"enabled"`
	RequireClientSecret       bool            `json:"require_client_secret" yaml:"require_client_secret"`
	ClientSecretHash          string          `json:"client_secret_hash,omitempty" yaml:"client_secret_hash,omitempty"` // bcrypt hash
	GrantTypes                GrantTypes      `json:"grant_types" yaml:"grant_types"`
	RedirectURIs              []string        `json:"redirect_uris,omitempty" yaml:"redirect_uris,omitempty"`
	PostLogoutRedirectURIs    []string        `json:"post_logout_redirect_uris,omitempty" yaml:"post_logout_redirect_uris,omitempty"`
	AllowedScopes             []string        `json:"allowed_scopes,omitempty" yaml:"allowed_scopes,omitempty"`
	AccessTokenType           AccessTokenType `json:"access_token_type,omitempty" yaml:"access_token_type,omitempty"`
	AccessTokenLifetime       time.Duration   `json:"access_token_lifetime,omitempty" yaml:"access_token_lifetime,omitempty"`
	AuthorizationCodeLifetime time.Duration   `json:"authorization_code_lifetime,omitempty" yaml:"authorization_code_lifetime,omitempty"`
	RequireDPoP               bool            `json:"require_dpop,omitempty" yaml:"require_dpop,omitempty"`
	RequirePKCE               bool            `json:"require_pkce" yaml:"require_pkce"`
	CreatedAt                 time.Time       `json:"created_at" yaml:"-"`
}

// SetGrantTypes replaces the client's grant types with a newly validated set.
// On error the current set is left untouched.
func (c *Client) SetGrantTypes(types ...string) error {
	gt, err := NewGrantTypes(types...)
	if err != nil {
		return err
	}
	c.GrantTypes = gt
	return nil
}

// AllowsGrantType reports whether the client may use grantType.
func (c *Client) AllowsGrantType(grantType string) bool {
	return c.GrantTypes.Contains(grantType)
}

// CodeLifetime returns the authorization code lifetime, falling back to
// DefaultAuthorizationCodeLifetime.
func (c *Client) CodeLifetime() time.Duration {
	if c.AuthorizationCodeLifetime <= 0 {
		return DefaultAuthorizationCodeLifetime
	}
	return c.AuthorizationCodeLifetime
}

// Validate checks the structural invariants of a client record loaded from
// configuration or storage.
func (c *Client) Validate() error {
	if c.ClientID == "" {
		return errors.New("client_id is required")
	}
	if err := ValidateGrantTypes(c.GrantTypes.values); err != nil {
		return fmt.Errorf("client %q: %w", c.ClientID, err)
	}
	if c.RequireClientSecret && c.ClientSecretHash == "" {
		return fmt.Errorf("client %q: client secret required but none configured", c.ClientID)
	}
	return nil
}

// ValidateSecret compares a presented secret with the stored bcrypt hash.
func (c *Client) ValidateSecret(secret string) error {
	return compareSecret(c.ClientSecretHash, secret)
}

// APIResource is a protected API. API resources authenticate to the
// introspection endpoint with their own secret and only see the scopes they
// declare.
type APIResource struct {
	Name        string   `json:"name" yaml:"name"`
	DisplayName string   `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	SecretHash  string   `json:"secret_hash,omitempty" yaml:"secret_hash,omitempty"` // bcrypt hash
	Scopes      []string `json:"scopes" yaml:"scopes"`
}

// ValidateSecret compares a presented secret with the stored bcrypt hash.
func (a *APIResource) ValidateSecret(secret string) error {
	return compareSecret(a.SecretHash, secret)
}

// HashSecret returns the bcrypt hash of a client or API resource secret.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

func compareSecret(hash, secret string) error {
	if hash == "" || secret == "" {
		return ErrInvalidClientSecret
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return ErrInvalidClientSecret
	}
	return nil
}
