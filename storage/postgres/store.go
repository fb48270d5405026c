// Package postgres provides a PostgreSQL storage backend built on pgx.
//
// Records are stored as JSONB next to the columns the queries filter on.
// Consume is a single DELETE ... RETURNING statement, so a code can be
// redeemed at most once across any number of token endpoint replicas.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-trust/instrumentation"
	"github.com/giantswarm/oauth-trust/internal/util"
	"github.com/giantswarm/oauth-trust/storage"
)

//go:embed schema.sql
var schema string

const handleLogLength = 8

// DB is the subset of *pgxpool.Pool and pgx.Tx the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a PostgreSQL implementation of all storage interfaces.
type Store struct {
	db     DB
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore            = (*Store)(nil)
	_ storage.AuthorizationCodeStore = (*Store)(nil)
	_ storage.APIResourceStore       = (*Store)(nil)
	_ storage.TokenStore             = (*Store)(nil)
)

// New connects to the database at dsn and verifies the connection.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := NewWithDB(pool, logger)
	s.pool = pool
	s.logger.Info("Connected to PostgreSQL storage")
	return s, nil
}

// NewWithDB wraps an existing pool or transaction.
func NewWithDB(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, now: time.Now}
}

// Close releases the pool created by New.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// SetClock overrides the time source. Used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// SetInstrumentation enables storage spans and metrics.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient validates and upserts a client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil {
		return fmt.Errorf("invalid client")
	}
	if err := client.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	const q = `
INSERT INTO oauth_clients (client_id, enabled, data, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (client_id) DO UPDATE
SET enabled = EXCLUDED.enabled, data = EXCLUDED.data, updated_at = now();
`
	if _, err := s.db.Exec(ctx, q, client.ClientID, client.Enabled, data); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

// FindEnabledClientByID returns an enabled client or ErrClientNotFound.
func (s *Store) FindEnabledClientByID(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, span := s.startStorageSpan(ctx, "find_client")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "find_client", err, startTime)
	}()

	const q = `SELECT data FROM oauth_clients WHERE client_id = $1 AND enabled;`
	var client storage.Client
	if err := s.queryJSON(ctx, q, &client, storage.ErrClientNotFound, clientID); err != nil {
		return nil, err
	}
	return &client, nil
}

// ============================================================
// APIResourceStore Implementation
// ============================================================

// SaveAPIResource upserts an API resource.
func (s *Store) SaveAPIResource(ctx context.Context, api *storage.APIResource) error {
	if api == nil || api.Name == "" {
		return fmt.Errorf("invalid api resource")
	}
	data, err := json.Marshal(api)
	if err != nil {
		return fmt.Errorf("failed to marshal api resource: %w", err)
	}

	scopes := api.Scopes
	if scopes == nil {
		scopes = []string{}
	}

	const q = `
INSERT INTO oauth_api_resources (name, enabled, scopes, data, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (name) DO UPDATE
SET enabled = EXCLUDED.enabled, scopes = EXCLUDED.scopes, data = EXCLUDED.data, updated_at = now();
`
	if _, err := s.db.Exec(ctx, q, api.Name, api.Enabled, scopes, data); err != nil {
		return fmt.Errorf("failed to save api resource: %w", err)
	}
	return nil
}

// FindAPIResourceByName returns an enabled API resource or ErrAPIResourceNotFound.
func (s *Store) FindAPIResourceByName(ctx context.Context, name string) (_ *storage.APIResource, err error) {
	ctx, span := s.startStorageSpan(ctx, "find_api_resource")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "find_api_resource", err, startTime)
	}()

	const q = `SELECT data FROM oauth_api_resources WHERE name = $1 AND enabled;`
	var api storage.APIResource
	if err := s.queryJSON(ctx, q, &api, storage.ErrAPIResourceNotFound, name); err != nil {
		return nil, err
	}
	return &api, nil
}

// FindAPIResourcesByScope returns enabled API resources declaring any of scopes.
func (s *Store) FindAPIResourcesByScope(ctx context.Context, scopes []string) ([]*storage.APIResource, error) {
	if len(scopes) == 0 {
		return nil, nil
	}

	const q = `
SELECT data FROM oauth_api_resources
WHERE enabled AND scopes && $1::text[]
ORDER BY name ASC;
`
	rows, err := s.db.Query(ctx, q, scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to query api resources: %w", err)
	}
	defer rows.Close()

	var result []*storage.APIResource
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan api resource: %w", err)
		}
		var api storage.APIResource
		if err := json.Unmarshal(data, &api); err != nil {
			return nil, fmt.Errorf("failed to unmarshal api resource: %w", err)
		}
		result = append(result, &api)
	}
	return result, rows.Err()
}

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

// SaveAuthorizationCode inserts a code. An existing handle yields
// ErrAuthorizationCodeExists.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if code == nil || code.Handle == "" {
		return fmt.Errorf("invalid authorization code")
	}
	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	const q = `
INSERT INTO oauth_authorization_codes (handle, client_id, expires_at, data)
VALUES ($1, $2, $3, $4)
ON CONFLICT (handle) DO NOTHING;
`
	tag, err := s.db.Exec(ctx, q, code.Handle, code.ClientID, code.ExpiresAt(), data)
	if err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrAuthorizationCodeExists
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Handle, handleLogLength),
		"client_id", code.ClientID)
	return nil
}

// Consume deletes and returns a code in one statement.
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

	const q = `DELETE FROM oauth_authorization_codes WHERE handle = $1 RETURNING data;`
	var code storage.AuthorizationCode
	if err := s.queryJSON(ctx, q, &code, storage.ErrAuthorizationCodeNotFound, handle); err != nil {
		return nil, err
	}

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(handle, handleLogLength))
	return &code, nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveToken upserts a reference token.
func (s *Store) SaveToken(ctx context.Context, handle string, token *storage.Token) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_token")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "save_token", err, startTime)
	}()

	if handle == "" || token == nil {
		return fmt.Errorf("invalid token")
	}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	const q = `
INSERT INTO oauth_reference_tokens (handle, client_id, expires_at, data)
VALUES ($1, $2, $3, $4)
ON CONFLICT (handle) DO UPDATE
SET client_id = EXCLUDED.client_id, expires_at = EXCLUDED.expires_at, data = EXCLUDED.data;
`
	if _, err := s.db.Exec(ctx, q, handle, token.ClientID, token.ExpiresAt(), data); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// GetToken returns a reference token or ErrTokenNotFound.
func (s *Store) GetToken(ctx context.Context, handle string) (_ *storage.Token, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_token")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "get_token", err, startTime)
	}()

	const q = `SELECT data FROM oauth_reference_tokens WHERE handle = $1;`
	var token storage.Token
	if err := s.queryJSON(ctx, q, &token, storage.ErrTokenNotFound, handle); err != nil {
		return nil, err
	}
	return &token, nil
}

// DeleteToken removes a reference token.
func (s *Store) DeleteToken(ctx context.Context, handle string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM oauth_reference_tokens WHERE handle = $1;`, handle); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// DeleteExpired removes expired codes and tokens and returns how many rows
// were deleted.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	now := s.now()
	var total int64
	for _, q := range []string{
		`DELETE FROM oauth_authorization_codes WHERE expires_at < $1;`,
		`DELETE FROM oauth_reference_tokens WHERE expires_at < $1;`,
	} {
		tag, err := s.db.Exec(ctx, q, now)
		if err != nil {
			return total, fmt.Errorf("failed to delete expired rows: %w", err)
		}
		total += tag.RowsAffected()
	}
	if total > 0 {
		s.logger.Debug("Deleted expired rows", "count", total)
	}
	return total, nil
}

// ============================================================
// Helper methods
// ============================================================

// queryJSON runs a single-row query returning one JSONB column and decodes
// it into dst. No rows yields notFoundErr.
func (s *Store) queryJSON(ctx context.Context, q string, dst any, notFoundErr error, args ...any) error {
	var data []byte
	if err := s.db.QueryRow(ctx, q, args...).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFoundErr
		}
		return fmt.Errorf("query failed: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "postgres"),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
