package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Validate(t *testing.T) {
	valid := &Client{
		ClientID:   "web",
		GrantTypes: MustGrantTypes(GrantTypeAuthorizationCode),
	}
	assert.NoError(t, valid.Validate())

	missingID := &Client{GrantTypes: MustGrantTypes(GrantTypeAuthorizationCode)}
	assert.Error(t, missingID.Validate())

	noGrants := &Client{ClientID: "web"}
	assert.ErrorIs(t, noGrants.Validate(), ErrGrantTypesEmpty)

	secretless := &Client{
		ClientID:            "web",
		GrantTypes:          MustGrantTypes(GrantTypeAuthorizationCode),
		RequireClientSecret: true,
	}
	assert.Error(t, secretless.Validate())
}

func TestClient_ValidateSecret(t *testing.T) {
	hash, err := HashSecret("s3cret")
	require.NoError(t, err)

	client := &Client{ClientID: "web", ClientSecretHash: hash}
	assert.NoError(t, client.ValidateSecret("s3cret"))
	assert.ErrorIs(t, client.ValidateSecret("wrong"), ErrInvalidClientSecret)
	assert.ErrorIs(t, client.ValidateSecret(""), ErrInvalidClientSecret)

	noHash := &Client{ClientID: "public"}
	assert.ErrorIs(t, noHash.ValidateSecret("anything"), ErrInvalidClientSecret)
}

func TestClient_CodeLifetime(t *testing.T) {
	client := &Client{}
	assert.Equal(t, DefaultAuthorizationCodeLifetime, client.CodeLifetime())

	client.AuthorizationCodeLifetime = 2 * time.Minute
	assert.Equal(t, 2*time.Minute, client.CodeLifetime())
}

func TestAuthorizationCode_IsExpired(t *testing.T) {
	created := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	code := &AuthorizationCode{CreatedAt: created, Lifetime: 5 * time.Minute}

	assert.False(t, code.IsExpired(created))
	assert.False(t, code.IsExpired(created.Add(5*time.Minute)))
	assert.True(t, code.IsExpired(created.Add(5*time.Minute+time.Second)))
}

func TestToken_ToClaims(t *testing.T) {
	created := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	token := &Token{
		Issuer:             "https://issuer",
		ClientID:           "web",
		Subject:            "alice",
		Scopes:             []string{"openid", "api1"},
		ResourceIndicators: []string{"urn:api1"},
		CreatedAt:          created,
		Lifetime:           time.Hour,
		Claims:             map[string]any{"custom": "value"},
	}

	claims := token.ToClaims()
	assert.Equal(t, "https://issuer", claims["iss"])
	assert.Equal(t, "web", claims["client_id"])
	assert.Equal(t, "alice", claims["sub"])
	assert.Equal(t, created.Add(time.Hour).Unix(), claims["exp"])
	assert.Equal(t, []string{"openid", "api1"}, claims["scope"])
	assert.Equal(t, []string{"urn:api1"}, claims["aud"])
	assert.Equal(t, "value", claims["custom"])
	assert.NotContains(t, claims, "sid")
}
