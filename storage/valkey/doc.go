// Package valkey provides a Valkey storage backend.
//
// Valkey is wire-compatible with Redis. The Store implements every storage
// interface and is suitable for deployments running more than one token
// endpoint replica, where code consumption must be atomic across processes.
//
// # Key Schema
//
// All keys share a configurable prefix (default "oauth:"):
//
//	{prefix}client:{clientID}      -> JSON(Client)
//	{prefix}api:{name}             -> JSON(APIResource)
//	{prefix}scope:{scope}          -> SET of API resource names declaring the scope
//	{prefix}code:{handle}          -> JSON(AuthorizationCode), TTL = code lifetime
//	{prefix}token:{handle}         -> JSON(Token), TTL = token lifetime
//
// # Atomic Consumption
//
// Consume uses GETDEL, so the read and the removal of a code happen in one
// server-side step. Of any number of concurrent callers presenting the same
// handle, exactly one receives the code. SaveAuthorizationCode uses SET NX
// and refuses to overwrite an outstanding code.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "oauth:",
//	})
//
// With TLS:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:  "valkey.example.com:6379",
//	    Password: os.Getenv("VALKEY_PASSWORD"),
//	    TLS:      &tls.Config{MinVersion: tls.VersionTLS12},
//	})
package valkey
