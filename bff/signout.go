package bff

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/giantswarm/oauth-trust/bff/session"
	"github.com/giantswarm/oauth-trust/internal/util"
)

// CookieSessionSignOut removes the server-side session and expires the
// browser cookie.
type CookieSessionSignOut struct {
	sessions   session.Store
	cookieName string
	logger     *slog.Logger
}

// NewCookieSessionSignOut creates a sign-out over a session store.
func NewCookieSessionSignOut(sessions session.Store, cookieName string, logger *slog.Logger) *CookieSessionSignOut {
	if cookieName == "" {
		cookieName = session.DefaultCookieName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CookieSessionSignOut{sessions: sessions, cookieName: cookieName, logger: logger}
}

// SignOut implements SessionSignOut.
func (s *CookieSessionSignOut) SignOut(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	session.ExpireCookie(w, s.cookieName)

	id, ok := session.IDFromRequest(r, s.cookieName)
	if !ok {
		return nil
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.logger.Info("Signed out session", "session_prefix", util.SafeTruncate(id, 8))
	return nil
}
