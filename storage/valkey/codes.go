package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-trust/internal/util"
	"github.com/giantswarm/oauth-trust/storage"
)

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

// SaveAuthorizationCode stores a newly issued code with a TTL equal to its
// remaining lifetime. An outstanding code with the same handle is never
// overwritten.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if code == nil {
		return fmt.Errorf("invalid authorization code")
	}
	if err := validateHandle(code.Handle); err != nil {
		return err
	}

	ttl := s.ttlUntil(code.ExpiresAt())
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}

	data, err := marshalRecord(code)
	if err != nil {
		return err
	}

	err = s.client.Do(ctx,
		s.client.B().Set().Key(s.codeKey(code.Handle)).Value(data).Nx().Ex(ttl).Build(),
	).Error()
	if err != nil {
		if isNilError(err) {
			return storage.ErrAuthorizationCodeExists
		}
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Handle, handleLogLength),
		"client_id", code.ClientID)
	return nil
}

// Consume atomically reads and deletes a code with GETDEL. Codes past their
// lifetime that have not yet been evicted are still returned; the caller
// decides on expiry.
func (s *Store) Consume(ctx context.Context, handle string) (_ *storage.AuthorizationCode, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_authorization_code", err, startTime)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if handle == "" || len(handle) > MaxHandleLength {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(s.codeKey(handle)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	var code storage.AuthorizationCode
	if err := json.Unmarshal([]byte(data), &code); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(handle, handleLogLength))
	return &code, nil
}
