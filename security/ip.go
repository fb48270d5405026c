package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIPConfig controls how the client address is derived from a request.
type ClientIPConfig struct {
	// TrustProxy enables X-Forwarded-For / X-Real-IP handling.
	// Only enable behind a reverse proxy that overwrites these headers.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies we control, counted from the
	// right of X-Forwarded-For. Zero means one.
	TrustedProxyCount int
}

// ClientIP extracts the client IP address from the request.
func (c ClientIPConfig) ClientIP(r *http.Request) string {
	if c.TrustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), c.TrustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return ipFromRemoteAddr(r.RemoteAddr)
}

// ipFromForwardedFor picks the address just left of the trusted proxies.
//
//	trustedProxyCount=2, X-Forwarded-For: "1.2.3.4, untrusted, proxy2"
//	=> ips[3-2-1] = "1.2.3.4"
func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	ips := strings.Split(xff, ",")

	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}
	idx := len(ips) - trustedProxyCount - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}

func ipFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
