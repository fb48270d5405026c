package security

import "net/http"

// SetNoStoreHeaders marks a response as uncacheable. Token and introspection
// responses carry credentials or claims and must never be cached.
func SetNoStoreHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// SetSecurityHeaders sets hardening headers for JSON API responses.
func SetSecurityHeaders(w http.ResponseWriter, https bool) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	if https {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
	SetNoStoreHeaders(w)
}
