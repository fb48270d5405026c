package bff

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
)

type transformContextKey struct{}

// Proxy forwards requests for one route to its upstream API, attaching the
// access token the route requires.
type Proxy struct {
	route    Route
	target   *url.URL
	attacher *Attacher
	reverse  *httputil.ReverseProxy
	logger   *slog.Logger
}

// NewProxy creates a proxy for route. transport may be nil to use
// http.DefaultTransport.
func NewProxy(route Route, attacher *Attacher, transport http.RoundTripper, logger *slog.Logger) (*Proxy, error) {
	if attacher == nil {
		return nil, fmt.Errorf("attacher is required")
	}
	if !route.TokenType.Valid() {
		return nil, fmt.Errorf("route %q: unknown token type %q", route.Name, route.TokenType)
	}
	target, err := url.Parse(route.Destination)
	if err != nil || !target.IsAbs() || target.Host == "" {
		return nil, fmt.Errorf("route %q: destination must be an absolute URL", route.Name)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Proxy{
		route:    route,
		target:   target,
		attacher: attacher,
		logger:   logger,
	}
	p.reverse = &httputil.ReverseProxy{
		Rewrite:      p.rewrite,
		Transport:    transport,
		ErrorHandler: p.handleError,
	}
	return p, nil
}

// Route returns the proxied route.
func (p *Proxy) Route() Route {
	return p.route
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tc := &TransformContext{
		Request:           r,
		Response:          w,
		Route:             p.route,
		DestinationPrefix: p.route.Destination,
		Path:              p.upstreamPath(r),
		Header:            make(http.Header),
	}

	decision, err := p.attacher.Apply(r.Context(), tc)
	if err != nil {
		p.handleError(w, r, err)
		return
	}
	if decision == DecisionShortCircuit {
		return
	}

	ctx := context.WithValue(r.Context(), transformContextKey{}, tc)
	p.reverse.ServeHTTP(w, r.WithContext(ctx))
}

func (p *Proxy) upstreamPath(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, p.route.PathPrefix)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	tc, _ := pr.In.Context().Value(transformContextKey{}).(*TransformContext)

	if tc != nil {
		pr.Out.URL.Path = tc.Path
		pr.Out.URL.RawPath = ""
	}
	pr.SetURL(p.target)
	pr.SetXForwarded()

	// Browser credentials never reach the API.
	pr.Out.Header.Del(HeaderAuthorization)
	pr.Out.Header.Del(HeaderDPoP)
	pr.Out.Header.Del("Cookie")

	if tc != nil {
		for name, values := range tc.Header {
			pr.Out.Header[name] = values
		}
	}
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.Error("Proxy request failed",
		"route", p.route.Name,
		"method", r.Method,
		"path", r.URL.Path,
		"error", err)
	w.WriteHeader(http.StatusBadGateway)
}
