// Package testutil provides fixtures and a controllable clock for tests of
// the token endpoint, introspection and token attachment code.
package testutil
