// Package storage defines the data model and the persistence interfaces the
// trust-boundary core depends on.
//
// The core never owns persistent state. It reaches clients, authorization
// codes, API resources and reference tokens only through the narrow
// interfaces declared here:
//   - ClientStore: read access to enabled clients
//   - AuthorizationCodeStore: issuing and atomically consuming codes
//   - APIResourceStore: API resources that may call introspection
//   - TokenStore: reference (opaque) access tokens
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development and testing
//   - storage/valkey: Valkey/Redis-compatible distributed storage
//   - storage/postgres: PostgreSQL storage backed by pgx
//   - storage/cache: a caching decorator for any ClientStore
package storage
