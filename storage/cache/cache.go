// Package cache wraps a ClientStore with a short-lived in-process cache.
//
// Client records change rarely and are read on every token and
// introspection request, so remote stores benefit from caching them.
// Only successful lookups are cached; a disabled or missing client is
// always re-checked against the backing store.
package cache

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/giantswarm/oauth-trust/instrumentation"
	"github.com/giantswarm/oauth-trust/storage"
)

// DefaultTTL is how long a client record is served from cache.
const DefaultTTL = 30 * time.Second

// ClientStore caches FindEnabledClientByID results of another ClientStore.
type ClientStore struct {
	next   storage.ClientStore
	cache  *gocache.Cache
	logger *slog.Logger

	instrumentation *instrumentation.Instrumentation
}

var _ storage.ClientStore = (*ClientStore)(nil)

// NewClientStore wraps next. A ttl of zero or less uses DefaultTTL.
func NewClientStore(next storage.ClientStore, ttl time.Duration, logger *slog.Logger) *ClientStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientStore{
		next:   next,
		cache:  gocache.New(ttl, 2*ttl),
		logger: logger,
	}
}

// SetInstrumentation enables cache hit/miss metrics.
func (c *ClientStore) SetInstrumentation(inst *instrumentation.Instrumentation) {
	c.instrumentation = inst
}

// FindEnabledClientByID implements storage.ClientStore.
func (c *ClientStore) FindEnabledClientByID(ctx context.Context, clientID string) (*storage.Client, error) {
	if v, ok := c.cache.Get(clientID); ok {
		c.recordLookup(ctx, true)
		clientCopy := *v.(*storage.Client)
		return &clientCopy, nil
	}
	c.recordLookup(ctx, false)

	client, err := c.next.FindEnabledClientByID(ctx, clientID)
	if err != nil {
		return nil, err
	}

	cached := *client
	c.cache.SetDefault(clientID, &cached)
	return client, nil
}

// Invalidate drops a client from the cache, for example after an update.
func (c *ClientStore) Invalidate(clientID string) {
	c.cache.Delete(clientID)
	c.logger.Debug("Invalidated cached client", "client_id", clientID)
}

// Flush drops every cached client.
func (c *ClientStore) Flush() {
	c.cache.Flush()
}

func (c *ClientStore) recordLookup(ctx context.Context, hit bool) {
	if c.instrumentation == nil {
		return
	}
	c.instrumentation.Metrics().RecordCacheLookup(ctx, "clients", hit)
}
