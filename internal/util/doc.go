// Package util provides small helpers shared across the oauth-trust packages.
//
// Key utilities:
//   - SafeTruncate: truncates credentials to a loggable prefix
//   - SplitScopes / JoinScopes: space-delimited scope conversion
//   - Intersect: order-preserving set intersection used for scope filtering
package util
