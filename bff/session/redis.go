package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-trust/dpop"
	"github.com/giantswarm/oauth-trust/security"
)

// DefaultRedisPrefix namespaces session keys.
const DefaultRedisPrefix = "bff:session"

// RedisConfig configures the Redis session store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps sessions in Redis. Tokens and DPoP keys are sealed with
// the encryptor, bound to the session ID.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	encryptor *security.Encryptor
	logger    *slog.Logger
	now       func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, encryptor *security.Encryptor, logger *slog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreWithClient(rdb, cfg.Prefix, encryptor, logger), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, encryptor *security.Encryptor, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	if !encryptor.IsEnabled() {
		logger.Warn("Session encryption disabled, upstream tokens are stored in plaintext")
	}
	return &RedisStore{
		client:    client,
		prefix:    prefix,
		encryptor: encryptor,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (s *RedisStore) SetClock(now func() time.Time) {
	s.now = now
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":" + id
}

// Get loads and unseals a session.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	sess, err := decodeRecord(data, id, s.encryptor)
	if err != nil {
		return nil, err
	}
	if sess.IsExpired(s.now()) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Save seals and stores a session with the session's remaining lifetime as TTL.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return errors.New("session ID is required")
	}
	var ttl time.Duration
	if !sess.ExpiresAt.IsZero() {
		ttl = sess.TTL(s.now())
		if ttl <= 0 {
			return errors.New("session already expired")
		}
	}

	data, err := encodeRecord(sess, s.encryptor)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes a session.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// record is the stored form of a Session. Secret fields hold sealed values.
type record struct {
	Subject      string    `json:"sub"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	DPoPKey      string    `json:"dpop_key,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

func encodeRecord(sess *Session, enc *security.Encryptor) ([]byte, error) {
	rec := record{
		Subject:   sess.Subject,
		CreatedAt: sess.CreatedAt,
		ExpiresAt: sess.ExpiresAt,
	}

	var err error
	if sess.Token != nil {
		rec.TokenType = sess.Token.TokenType
		rec.Expiry = sess.Token.Expiry
		if rec.AccessToken, err = enc.Seal(sess.Token.AccessToken, sess.ID); err != nil {
			return nil, fmt.Errorf("failed to seal access token: %w", err)
		}
		if rec.RefreshToken, err = enc.Seal(sess.Token.RefreshToken, sess.ID); err != nil {
			return nil, fmt.Errorf("failed to seal refresh token: %w", err)
		}
	}
	if sess.DPoPKey != nil {
		keyJSON, err := json.Marshal(sess.DPoPKey)
		if err != nil {
			return nil, fmt.Errorf("failed to encode dpop key: %w", err)
		}
		if rec.DPoPKey, err = enc.Seal(string(keyJSON), sess.ID); err != nil {
			return nil, fmt.Errorf("failed to seal dpop key: %w", err)
		}
	}

	return json.Marshal(rec)
}

func decodeRecord(data []byte, id string, enc *security.Encryptor) (*Session, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	sess := &Session{
		ID:        id,
		Subject:   rec.Subject,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}

	if rec.AccessToken != "" || rec.RefreshToken != "" {
		access, err := enc.Open(rec.AccessToken, id)
		if err != nil {
			return nil, fmt.Errorf("failed to open access token: %w", err)
		}
		refresh, err := enc.Open(rec.RefreshToken, id)
		if err != nil {
			return nil, fmt.Errorf("failed to open refresh token: %w", err)
		}
		sess.Token = &oauth2.Token{
			AccessToken:  access,
			RefreshToken: refresh,
			TokenType:    rec.TokenType,
			Expiry:       rec.Expiry,
		}
	}

	if rec.DPoPKey != "" {
		keyJSON, err := enc.Open(rec.DPoPKey, id)
		if err != nil {
			return nil, fmt.Errorf("failed to open dpop key: %w", err)
		}
		key, err := dpop.ParseKey([]byte(keyJSON))
		if err != nil {
			return nil, err
		}
		sess.DPoPKey = key
	}

	return sess, nil
}
