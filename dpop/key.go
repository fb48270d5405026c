package dpop

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

// curveByteLength is the coordinate size for P-256
const curveByteLength = 32

// ErrInvalidKey is returned when serialized key material cannot be used.
var ErrInvalidKey = errors.New("invalid dpop key")

// Key is a DPoP proof key: an EC P-256 private key and its public JWK.
type Key struct {
	private *ecdsa.PrivateKey
}

// jwk is the JSON Web Key form of a P-256 key. D is only set for private keys.
type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	D   string `json:"d,omitempty"`
}

// GenerateKey creates a new random P-256 key.
func GenerateKey() (*Key, error) {
	private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate dpop key: %w", err)
	}
	return &Key{private: private}, nil
}

// NewKey wraps an existing P-256 private key.
func NewKey(private *ecdsa.PrivateKey) (*Key, error) {
	if private == nil || private.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: P-256 private key required", ErrInvalidKey)
	}
	return &Key{private: private}, nil
}

// PrivateKey returns the signing key.
func (k *Key) PrivateKey() *ecdsa.PrivateKey {
	return k.private
}

// PublicJWK returns the public key as a JWK map, suitable for a JWT header.
func (k *Key) PublicJWK() map[string]any {
	pub := k.publicJWK()
	return map[string]any{
		"kty": pub.Kty,
		"crv": pub.Crv,
		"x":   pub.X,
		"y":   pub.Y,
	}
}

// Thumbprint returns the RFC 7638 JWK thumbprint, as used for dpop_jkt.
func (k *Key) Thumbprint() string {
	pub := k.publicJWK()
	// Required members in lexicographic order, no whitespace.
	canonical := fmt.Sprintf(`{"crv":"%s","kty":"%s","x":"%s","y":"%s"}`, pub.Crv, pub.Kty, pub.X, pub.Y)
	sum := sha256.Sum256([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// MarshalJSON encodes the private key as a JWK.
func (k *Key) MarshalJSON() ([]byte, error) {
	priv := k.publicJWK()
	priv.D = encodeCoordinate(k.private.D)
	return json.Marshal(priv)
}

// UnmarshalJSON decodes a private JWK produced by MarshalJSON.
func (k *Key) UnmarshalJSON(data []byte) error {
	var v jwk
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if v.Kty != "EC" || v.Crv != "P-256" || v.D == "" {
		return fmt.Errorf("%w: expected an EC P-256 private JWK", ErrInvalidKey)
	}

	x, err := decodeCoordinate(v.X)
	if err != nil {
		return err
	}
	y, err := decodeCoordinate(v.Y)
	if err != nil {
		return err
	}
	d, err := decodeCoordinate(v.D)
	if err != nil {
		return err
	}

	curve := elliptic.P256()
	if !curve.IsOnCurve(x, y) {
		return fmt.Errorf("%w: point is not on P-256", ErrInvalidKey)
	}

	k.private = &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}
	return nil
}

// ParseKey decodes a private JWK.
func ParseKey(data []byte) (*Key, error) {
	k := &Key{}
	if err := k.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *Key) publicJWK() jwk {
	return jwk{
		Kty: "EC",
		Crv: "P-256",
		X:   encodeCoordinate(k.private.X),
		Y:   encodeCoordinate(k.private.Y),
	}
}

func encodeCoordinate(n *big.Int) string {
	buf := make([]byte, curveByteLength)
	return base64.RawURLEncoding.EncodeToString(n.FillBytes(buf))
}

func decodeCoordinate(s string) (*big.Int, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(b) != curveByteLength {
		return nil, fmt.Errorf("%w: bad coordinate encoding", ErrInvalidKey)
	}
	return new(big.Int).SetBytes(b), nil
}
