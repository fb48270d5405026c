package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	oauth "github.com/giantswarm/oauth-trust"
	"github.com/giantswarm/oauth-trust/instrumentation"
	"github.com/giantswarm/oauth-trust/internal/config"
	"github.com/giantswarm/oauth-trust/security"
	"github.com/giantswarm/oauth-trust/server"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the OAuth server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func newLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, hopts)), nil
}

func newInstrumentation(cfg *config.Config) (*instrumentation.Instrumentation, error) {
	if !cfg.Metrics.Enabled {
		return instrumentation.NewNoop(), nil
	}
	return instrumentation.New(instrumentation.Config{
		Enabled:         true,
		ServiceName:     cfg.Metrics.ServiceName,
		ServiceVersion:  version,
		MetricsExporter: "prometheus",
	})
}

// auditLog pairs the security auditor with the failure limiter it owns
type auditLog struct {
	*security.Auditor
	limiter *security.RateLimiter
}

func (a *auditLog) stop() {
	if a.limiter != nil {
		a.limiter.Stop()
	}
}

func newAuditLog(cfg *config.Config, logger *slog.Logger) *auditLog {
	a := &auditLog{Auditor: security.NewAuditor(logger, cfg.Log.Audit)}
	if cfg.Log.Audit && cfg.Log.AuditFailureRate > 0 {
		a.limiter = security.NewRateLimiter(cfg.Log.AuditFailureRate, cfg.Log.AuditFailureBurst, logger)
		a.Auditor.SetFailureRateLimiter(a.limiter)
	}
	return a
}

// app holds everything serve builds, so the router can be exercised
// without a listener.
type app struct {
	router  chi.Router
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config, inst *instrumentation.Instrumentation, logger *slog.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	stores, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStores)

	audit := newAuditLog(cfg, logger)
	a.closers = append(a.closers, audit.stop)
	srv, err := oauth.NewServer(stores, &server.Config{
		Issuer:                              cfg.OAuth.Issuer,
		AllowUnregisteredPushedRedirectURIs: cfg.OAuth.AllowUnregisteredPushedRedirectURIs,
		MaxAuthorizationCodeLength:          cfg.OAuth.MaxAuthorizationCodeLength,
		MaxResourceIndicatorLength:          cfg.OAuth.MaxResourceIndicatorLength,
		AccessTokenTTL:                      int64(cfg.OAuth.AccessTokenTTL.Seconds()),
		AllowPKCEPlain:                      cfg.OAuth.AllowPKCEPlain,
	},
		oauth.WithLogger(logger),
		oauth.WithAuditor(audit.Auditor),
		oauth.WithInstrumentation(inst),
	)
	if err != nil {
		return nil, err
	}

	handler, err := oauth.NewHandler(srv, oauth.Config{
		ClientIP: security.ClientIPConfig{
			TrustProxy:        cfg.Server.TrustProxy,
			TrustedProxyCount: cfg.Server.TrustedProxyCount,
		},
		HTTPS: cfg.Server.HTTPS,
		RateLimit: oauth.RateLimitConfig{
			Rate:  cfg.Server.RateLimit.Rate,
			Burst: cfg.Server.RateLimit.Burst,
		},
		Realm:  cfg.Server.Realm,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, handler.Stop)

	r := chi.NewRouter()
	r.Use(security.RequestIDMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/token", handler.ServeToken)
	r.Post("/introspect", handler.ServeTokenIntrospection)
	r.With(handler.ValidateToken).Get("/tokeninfo", serveTokenInfo)
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	if cfg.BFF.Enabled {
		sessions, closeSessions, err := openSessions(ctx, cfg.BFF, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeSessions)
		if err := mountBFF(r, cfg.BFF, sessions, audit.Auditor, inst, logger); err != nil {
			return nil, err
		}
	}

	a.router = r
	ok = true
	return a, nil
}

// serveTokenInfo echoes the validated token for debugging integrations.
func serveTokenInfo(w http.ResponseWriter, r *http.Request) {
	info, found := oauth.TokenInfoFromContext(r.Context())
	if !found {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	security.SetSecurityHeaders(w, false)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	inst, err := newInstrumentation(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Instrumentation shutdown failed", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg, inst, logger)
	if err != nil {
		return err
	}
	defer a.close()

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting OAuth server",
			"addr", cfg.Server.Addr,
			"storage", cfg.Storage.Driver,
			"bff", cfg.BFF.Enabled,
			"version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down OAuth server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
