// Package dpop creates DPoP proofs (RFC 9449) for outbound requests.
//
// A Key holds an EC P-256 private key and its public JWK. A Signer turns a
// ProofRequest (method, URL, access token, key) into a signed proof JWT with
// header typ "dpop+jwt" and the public JWK embedded, and claims jti, htm,
// htu, iat and ath.
//
// Example usage:
//
//	key, _ := dpop.GenerateKey()
//	signer := dpop.NewSigner(logger)
//	proof, err := signer.CreateProof(ctx, dpop.ProofRequest{
//	    Method:      http.MethodGet,
//	    URL:         "https://api.example.com/orders",
//	    AccessToken: accessToken,
//	    Key:         key,
//	})
//	req.Header.Set("DPoP", proof.Value)
package dpop
