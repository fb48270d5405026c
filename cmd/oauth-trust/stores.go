package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	oauth "github.com/giantswarm/oauth-trust"
	"github.com/giantswarm/oauth-trust/internal/config"
	"github.com/giantswarm/oauth-trust/storage"
	"github.com/giantswarm/oauth-trust/storage/cache"
	"github.com/giantswarm/oauth-trust/storage/memory"
	"github.com/giantswarm/oauth-trust/storage/postgres"
	"github.com/giantswarm/oauth-trust/storage/valkey"
)

// seeder is implemented by every store driver
type seeder interface {
	SaveClient(ctx context.Context, client *storage.Client) error
	SaveAPIResource(ctx context.Context, api *storage.APIResource) error
}

// backend is a store that implements every storage interface
type backend interface {
	seeder
	storage.ClientStore
	storage.AuthorizationCodeStore
	storage.APIResourceStore
	storage.TokenStore
}

// openStores opens the configured driver, seeds it with the configured
// clients and API resources, and wraps client lookups in the cache when
// enabled. The returned func releases the driver.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (oauth.Stores, func(), error) {
	var (
		b       backend
		closeFn func()
	)

	switch cfg.Storage.Driver {
	case config.StorageMemory:
		s := memory.NewWithInterval(cfg.Storage.CleanupInterval)
		s.SetLogger(logger)
		b, closeFn = s, s.Stop

	case config.StorageValkey:
		vc := valkey.Config{
			Address:   cfg.Storage.Valkey.Address,
			Password:  cfg.Storage.Valkey.Password,
			DB:        cfg.Storage.Valkey.DB,
			KeyPrefix: cfg.Storage.Valkey.KeyPrefix,
			Logger:    logger,
		}
		if cfg.Storage.Valkey.TLS {
			vc.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		s, err := valkey.New(vc)
		if err != nil {
			return oauth.Stores{}, nil, err
		}
		b, closeFn = s, s.Close

	case config.StoragePostgres:
		s, err := postgres.New(ctx, cfg.Storage.Postgres.DSN, logger)
		if err != nil {
			return oauth.Stores{}, nil, err
		}
		if cfg.Storage.Postgres.Migrate {
			if err := s.Migrate(ctx); err != nil {
				s.Close()
				return oauth.Stores{}, nil, err
			}
		}
		b, closeFn = s, s.Close

	default:
		return oauth.Stores{}, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if err := seed(ctx, b, cfg); err != nil {
		closeFn()
		return oauth.Stores{}, nil, err
	}

	stores := oauth.Stores{
		Clients:      b,
		Codes:        b,
		APIResources: b,
		Tokens:       b,
	}
	if cfg.Cache.Enabled {
		stores.Clients = cache.NewClientStore(b, cfg.Cache.TTL, logger)
	}
	return stores, closeFn, nil
}

func seed(ctx context.Context, s seeder, cfg *config.Config) error {
	for _, c := range cfg.Clients {
		if err := s.SaveClient(ctx, c); err != nil {
			return fmt.Errorf("failed to seed client %q: %w", c.ClientID, err)
		}
	}
	for _, api := range cfg.APIResources {
		if err := s.SaveAPIResource(ctx, api); err != nil {
			return fmt.Errorf("failed to seed API resource %q: %w", api.Name, err)
		}
	}
	return nil
}
