// Package memory provides an in-memory implementation of the storage interfaces.
//
// Store implements ClientStore, AuthorizationCodeStore, APIResourceStore and
// TokenStore using maps guarded by a single mutex. Consume removes a code
// inside one critical section, so concurrent redemptions of the same code
// yield exactly one winner.
//
// It is suitable for development, testing, and single-instance deployments.
// For deployments with more than one instance use storage/valkey or
// storage/postgres.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, _ := server.New(store, store, store, store, config, logger)
package memory
