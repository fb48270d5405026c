package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/giantswarm/oauth-trust/bff"
	"github.com/giantswarm/oauth-trust/bff/session"
	"github.com/giantswarm/oauth-trust/dpop"
	"github.com/giantswarm/oauth-trust/instrumentation"
	"github.com/giantswarm/oauth-trust/internal/config"
	"github.com/giantswarm/oauth-trust/security"
)

// openSessions creates the BFF session store. The returned func releases it.
func openSessions(ctx context.Context, cfg config.BFFConfig, logger *slog.Logger) (session.Store, func(), error) {
	switch cfg.Session.Driver {
	case config.SessionMemory:
		return session.NewMemoryStore(), func() {}, nil

	case config.SessionRedis:
		key, err := security.KeyFromBase64(cfg.Session.EncryptionKey)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid session encryption key: %w", err)
		}
		enc, err := security.NewEncryptor(key)
		if err != nil {
			return nil, nil, err
		}
		s, err := session.NewRedisStore(ctx, session.RedisConfig{
			Addr:     cfg.Session.Redis.Addr,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
			Prefix:   cfg.Session.Redis.Prefix,
		}, enc, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown session driver %q", cfg.Session.Driver)
	}
}

// mountBFF builds the attacher and mounts one proxy per configured route.
func mountBFF(r chi.Router, cfg config.BFFConfig, sessions session.Store, auditor *security.Auditor, inst *instrumentation.Instrumentation, logger *slog.Logger) error {
	endpoint := oauth2.Endpoint{
		AuthURL:   cfg.AuthURL,
		TokenURL:  cfg.TokenURL,
		AuthStyle: oauth2.AuthStyleInHeader,
	}
	rc := bff.RetrieverConfig{
		OAuth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		},
		CookieName: cfg.Session.CookieName,
	}
	if cfg.ClientSecret != "" {
		rc.ClientCredentials = &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
	}

	retriever, err := bff.NewSessionTokenRetriever(sessions, rc, logger)
	if err != nil {
		return err
	}

	var signOut bff.SessionSignOut
	if cfg.RemoveSessionAfterRefreshTokenExpiration {
		signOut = bff.NewCookieSessionSignOut(sessions, cfg.Session.CookieName, logger)
	}

	attacher, err := bff.NewAttacher(retriever, dpop.NewSigner(logger), signOut, bff.Options{
		RemoveSessionAfterRefreshTokenExpiration: cfg.RemoveSessionAfterRefreshTokenExpiration,
	}, logger)
	if err != nil {
		return err
	}
	attacher.SetAuditor(auditor)
	attacher.SetInstrumentation(inst)

	for _, rt := range cfg.Routes {
		proxy, err := bff.NewProxy(bff.Route{
			Name:        rt.Name,
			PathPrefix:  strings.TrimSuffix(rt.PathPrefix, "/"),
			Destination: rt.Destination,
			TokenType:   bff.RequiredTokenType(rt.TokenType),
		}, attacher, nil, logger)
		if err != nil {
			return err
		}
		prefix := proxy.Route().PathPrefix
		r.Handle(prefix, proxy)
		r.Handle(prefix+"/*", proxy)
		logger.Info("Mounted BFF route",
			"route", rt.Name,
			"prefix", prefix,
			"token_type", rt.TokenType)
	}
	return nil
}
