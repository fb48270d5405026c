package dpop

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ProofType is the typ header of a DPoP proof JWT
const ProofType = "dpop+jwt"

// ProofRequest describes the request a proof is created for.
type ProofRequest struct {
	Method      string
	URL         string
	AccessToken string
	Key         *Key
	// Nonce is a server-provided DPoP nonce, if any
	Nonce string
}

// Proof is a signed DPoP proof, sent in the DPoP header.
type Proof struct {
	Value string
}

// Signer creates DPoP proofs.
type Signer struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewSigner creates a Signer
func NewSigner(logger *slog.Logger) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{logger: logger, now: time.Now}
}

// SetClock overrides the time source used for iat. Used by tests.
func (s *Signer) SetClock(now func() time.Time) {
	s.now = now
}

// CreateProof signs a proof for req. A request without a key yields a nil
// proof, which tells the caller to fall back to bearer usage.
func (s *Signer) CreateProof(_ context.Context, req ProofRequest) (*Proof, error) {
	if req.Key == nil {
		return nil, nil
	}
	if req.Method == "" {
		return nil, fmt.Errorf("dpop proof requires an HTTP method")
	}

	htu, err := normalizeHTU(req.URL)
	if err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{
		"jti": uuid.NewString(),
		"htm": strings.ToUpper(req.Method),
		"htu": htu,
		"iat": s.now().Unix(),
	}
	if req.AccessToken != "" {
		claims["ath"] = AccessTokenHash(req.AccessToken)
	}
	if req.Nonce != "" {
		claims["nonce"] = req.Nonce
	}

	tk := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tk.Header["typ"] = ProofType
	tk.Header["jwk"] = req.Key.PublicJWK()

	signed, err := tk.SignedString(req.Key.PrivateKey())
	if err != nil {
		return nil, fmt.Errorf("failed to sign dpop proof: %w", err)
	}

	s.logger.Debug("Created DPoP proof", "htm", claims["htm"], "htu", htu)
	return &Proof{Value: signed}, nil
}

// AccessTokenHash returns the ath claim value: base64url(SHA-256(token)).
func AccessTokenHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// normalizeHTU strips query and fragment, which are not part of htu.
func normalizeHTU(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("dpop proof requires an absolute URL, got %q", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
