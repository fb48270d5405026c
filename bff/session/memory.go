package session

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultCleanupInterval is how often the memory store purges expired sessions.
const DefaultCleanupInterval = time.Minute

// MemoryStore keeps sessions in process memory. Sessions are lost on restart.
type MemoryStore struct {
	cache *cache.Cache
	now   func() time.Time
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: cache.New(cache.NoExpiration, DefaultCleanupInterval),
		now:   time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.now = now
}

// Get returns a copy of the session.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	s := v.(*Session)
	if s.IsExpired(m.now()) {
		m.cache.Delete(id)
		return nil, ErrNotFound
	}
	return copySession(s), nil
}

// Save stores a copy of s, expiring with the session.
func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.ID == "" {
		return errors.New("session ID is required")
	}
	ttl := cache.NoExpiration
	if !s.ExpiresAt.IsZero() {
		ttl = s.TTL(m.now())
		if ttl <= 0 {
			return errors.New("session already expired")
		}
	}
	m.cache.Set(s.ID, copySession(s), ttl)
	return nil
}

// Delete removes the session. Deleting a missing session is not an error.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.cache.Delete(id)
	return nil
}

// Count returns the number of stored sessions, including expired ones not
// yet purged.
func (m *MemoryStore) Count() int {
	return m.cache.ItemCount()
}
