// Package bff is the token side of a backend-for-frontend: it proxies
// browser calls to APIs and attaches the access token each route needs.
//
// Tokens live in a server-side session (see package session). For every
// proxied request the Attacher asks an AccessTokenRetriever for a token and
// applies the result:
//
//   - BearerToken sets "Authorization: Bearer <token>".
//   - DPoPToken signs a proof for the outbound method and URL and sets
//     "DPoP: <proof>" and "Authorization: DPoP <token>". A ProofService that
//     returns no proof falls back to bearer usage.
//   - AccessTokenRetrievalError answers 401 without contacting the API. When
//     Options.RemoveSessionAfterRefreshTokenExpiration is set and the route
//     needs the user's token, the session is signed out first.
//   - NoAccessToken forwards the request unchanged.
//
// Wiring a route:
//
//	retriever, _ := bff.NewSessionTokenRetriever(sessions, bff.RetrieverConfig{OAuth2: oauthCfg}, logger)
//	attacher, _ := bff.NewAttacher(retriever, dpop.NewSigner(logger),
//		bff.NewCookieSessionSignOut(sessions, "", logger),
//		bff.Options{RemoveSessionAfterRefreshTokenExpiration: true}, logger)
//	proxy, _ := bff.NewProxy(bff.Route{
//		Name:        "orders",
//		PathPrefix:  "/api/orders",
//		Destination: "https://orders.internal",
//		TokenType:   bff.TokenTypeUser,
//	}, attacher, nil, logger)
//	router.Mount("/api/orders", proxy)
package bff
