package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Grant type tags a client may be allowed to use.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeImplicit          = "implicit"
	GrantTypeHybrid            = "hybrid"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypePassword          = "password"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantTypeCIBA              = "urn:openid:params:grant-type:ciba"
)

// Grant type validation errors. Errors returned by ValidateGrantTypes wrap
// one of these with the offending value.
var (
	ErrGrantTypesEmpty        = errors.New("grant types must not be empty")
	ErrGrantTypeContainsSpace = errors.New("grant type must not contain spaces")
	ErrGrantTypeDuplicate     = errors.New("grant type listed more than once")
	ErrGrantTypeCombination   = errors.New("grant type combination not allowed")
)

// disallowedCombinations lists grant type pairs that must never be allowed
// together on one client. Mixing a front-channel token flow with the code
// flow lets an attacker downgrade a client to the weaker flow.
var disallowedCombinations = [][2]string{
	{GrantTypeImplicit, GrantTypeAuthorizationCode},
	{GrantTypeImplicit, GrantTypeHybrid},
	{GrantTypeAuthorizationCode, GrantTypeHybrid},
}

// GrantTypes is an immutable, validated set of grant types.
//
// The only way to obtain a non-empty GrantTypes is NewGrantTypes, so a value
// held by a Client always satisfies the grant type invariant. Changing a
// client's grant types means replacing the whole value.
type GrantTypes struct {
	values []string
}

// NewGrantTypes validates types and returns them as a GrantTypes value.
func NewGrantTypes(types ...string) (GrantTypes, error) {
	if err := ValidateGrantTypes(types); err != nil {
		return GrantTypes{}, err
	}
	values := make([]string, len(types))
	copy(values, types)
	return GrantTypes{values: values}, nil
}

// MustGrantTypes is like NewGrantTypes but panics on invalid input.
// Intended for package-level fixtures and tests.
func MustGrantTypes(types ...string) GrantTypes {
	gt, err := NewGrantTypes(types...)
	if err != nil {
		panic(err)
	}
	return gt
}

// ValidateGrantTypes checks a candidate grant type set against the client
// invariants: non-empty, no spaces, no duplicates and no downgrade-prone
// combinations.
func ValidateGrantTypes(types []string) error {
	if len(types) == 0 {
		return ErrGrantTypesEmpty
	}

	seen := make(map[string]struct{}, len(types))
	for _, gt := range types {
		if strings.Contains(gt, " ") {
			return fmt.Errorf("%w: %q", ErrGrantTypeContainsSpace, gt)
		}
		if _, dup := seen[gt]; dup {
			return fmt.Errorf("%w: %q", ErrGrantTypeDuplicate, gt)
		}
		seen[gt] = struct{}{}
	}

	for _, pair := range disallowedCombinations {
		_, first := seen[pair[0]]
		_, second := seen[pair[1]]
		if first && second {
			return fmt.Errorf("%w: %s and %s", ErrGrantTypeCombination, pair[0], pair[1])
		}
	}

	return nil
}

// Contains reports whether grantType is in the set.
func (g GrantTypes) Contains(grantType string) bool {
	for _, v := range g.values {
		if v == grantType {
			return true
		}
	}
	return false
}

// Values returns a copy of the grant types.
func (g GrantTypes) Values() []string {
	out := make([]string, len(g.values))
	copy(out, g.values)
	return out
}

// Len returns the number of grant types.
func (g GrantTypes) Len() int {
	return len(g.values)
}

// IsZero reports whether the set has never been initialized.
func (g GrantTypes) IsZero() bool {
	return len(g.values) == 0
}

// String returns the space-delimited form, as used in discovery documents.
func (g GrantTypes) String() string {
	return strings.Join(g.values, " ")
}

// MarshalJSON encodes the set as a JSON array.
func (g GrantTypes) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Values())
}

// UnmarshalJSON decodes a JSON array and re-validates it.
func (g *GrantTypes) UnmarshalJSON(data []byte) error {
	var types []string
	if err := json.Unmarshal(data, &types); err != nil {
		return err
	}
	parsed, err := NewGrantTypes(types...)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// MarshalYAML encodes the set as a YAML sequence.
func (g GrantTypes) MarshalYAML() (any, error) {
	return g.Values(), nil
}

// UnmarshalYAML decodes a YAML sequence and re-validates it.
func (g *GrantTypes) UnmarshalYAML(node *yaml.Node) error {
	var types []string
	if err := node.Decode(&types); err != nil {
		return err
	}
	parsed, err := NewGrantTypes(types...)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*g = parsed
	return nil
}

// Common grant type sets.

// GrantTypesCode returns the authorization code grant only.
func GrantTypesCode() []string {
	return []string{GrantTypeAuthorizationCode}
}

// GrantTypesCodeAndClientCredentials returns the authorization code and client credentials grants.
func GrantTypesCodeAndClientCredentials() []string {
	return []string{GrantTypeAuthorizationCode, GrantTypeClientCredentials}
}

// GrantTypesClientCredentials returns the client credentials grant only.
func GrantTypesClientCredentials() []string {
	return []string{GrantTypeClientCredentials}
}

// GrantTypesImplicit returns the implicit grant only.
func GrantTypesImplicit() []string {
	return []string{GrantTypeImplicit}
}

// GrantTypesHybrid returns the hybrid grant only.
func GrantTypesHybrid() []string {
	return []string{GrantTypeHybrid}
}

// GrantTypesDeviceFlow returns the device authorization grant only.
func GrantTypesDeviceFlow() []string {
	return []string{GrantTypeDeviceCode}
}
