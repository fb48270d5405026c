package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-trust/internal/util"
	"github.com/giantswarm/oauth-trust/storage"
)

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveToken stores a reference token until it expires.
func (s *Store) SaveToken(ctx context.Context, handle string, token *storage.Token) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_token")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "save_token", err, startTime)
	}()

	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}
	if err := validateHandle(handle); err != nil {
		return err
	}

	ttl := s.ttlUntil(token.ExpiresAt())
	if ttl <= 0 {
		return fmt.Errorf("token already expired")
	}

	data, err := marshalRecord(token)
	if err != nil {
		return err
	}

	if err := s.client.Do(ctx, s.client.B().Set().Key(s.tokenKey(handle)).Value(data).Ex(ttl).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	s.logger.Debug("Saved reference token",
		"token_prefix", util.SafeTruncate(handle, handleLogLength),
		"client_id", token.ClientID)
	return nil
}

// GetToken returns a reference token.
func (s *Store) GetToken(ctx context.Context, handle string) (_ *storage.Token, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_token")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "get_token", err, startTime)
	}()

	if handle == "" || len(handle) > MaxHandleLength {
		return nil, storage.ErrTokenNotFound
	}
	return getAndUnmarshal[storage.Token](ctx, s, s.tokenKey(handle), storage.ErrTokenNotFound)
}

// DeleteToken removes a reference token.
func (s *Store) DeleteToken(ctx context.Context, handle string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.tokenKey(handle)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
