// Package server implements the trust-boundary core of the authorization
// server: token request validation for the authorization code grant,
// single-use code redemption, redirect URI validation, bearer token
// extraction and introspection response generation.
//
// The Server type owns no persistent state. Clients, codes, API resources
// and reference tokens are reached through the storage interfaces; subject
// activity and resource authorization are delegated to ProfileService and
// ResourceValidator.
//
// Every validation failure is returned as a *GrantError carrying one of the
// OAuth error codes; nothing panics across the package boundary.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := server.New(store, store, store, store, &server.Config{
//	    Issuer: "https://auth.example.com",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	req := server.TokenRequestFromForm(r.PostForm)
//	grant, err := srv.ValidateTokenRequest(ctx, req, client)
//	var gerr *server.GrantError
//	if errors.As(err, &gerr) {
//	    // write {"error": gerr.Code}
//	}
package server
