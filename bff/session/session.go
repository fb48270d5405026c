// Package session holds the server-side BFF session: the user's upstream
// tokens and optional DPoP key, keyed by an opaque ID carried in a cookie.
package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-trust/dpop"
)

// DefaultCookieName is the session cookie used when none is configured.
const DefaultCookieName = "__Host-bff-session"

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Session is a signed-in user's server-side state.
type Session struct {
	ID        string
	Subject   string
	Token     *oauth2.Token
	DPoPKey   *dpop.Key
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the session lifetime has passed at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// TTL returns the remaining lifetime at now, or zero for sessions without
// an expiry.
func (s *Session) TTL(now time.Time) time.Duration {
	if s.ExpiresAt.IsZero() {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// Store persists sessions.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// NewID returns a fresh random session ID.
func NewID() string {
	return uuid.NewString()
}

// IDFromRequest returns the session ID carried in the named cookie.
func IDFromRequest(r *http.Request, cookieName string) (string, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// ExpireCookie writes a cookie that removes the session cookie from the browser.
func ExpireCookie(w http.ResponseWriter, cookieName string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func copySession(s *Session) *Session {
	cp := *s
	if s.Token != nil {
		tok := *s.Token
		cp.Token = &tok
	}
	return &cp
}
