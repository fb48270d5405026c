package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-trust/instrumentation"
	"github.com/giantswarm/oauth-trust/internal/util"
	"github.com/giantswarm/oauth-trust/storage"
)

// handleLogLength is the number of characters of a code or token handle
// included in logs
const handleLogLength = 8

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients      map[string]*storage.Client
	apiResources map[string]*storage.APIResource
	authCodes    map[string]*storage.AuthorizationCode
	tokens       map[string]*storage.Token

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	codesCountAtomic   atomic.Int64
	clientsCountAtomic atomic.Int64
	tokensCountAtomic  atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
	logger          *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore            = (*Store)(nil)
	_ storage.AuthorizationCodeStore = (*Store)(nil)
	_ storage.APIResourceStore       = (*Store)(nil)
	_ storage.TokenStore             = (*Store)(nil)
)

// New creates a new in-memory store with default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		apiResources:    make(map[string]*storage.APIResource),
		authCodes:       make(map[string]*storage.AuthorizationCode),
		tokens:          make(map[string]*storage.Token),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetClock overrides the time source used for expiry. Used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.codesCountAtomic.Store(int64(len(s.authCodes)))
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.tokensCountAtomic.Store(int64(len(s.tokens)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.codesCountAtomic.Load() },
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.tokensCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient validates and stores a client, replacing any client with the same ID
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil {
		return fmt.Errorf("client cannot be nil")
	}
	if err := client.Validate(); err != nil {
		return fmt.Errorf("invalid client: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.clients[client.ClientID]; !existed {
		s.clientsCountAtomic.Add(1)
	}
	stored := *client
	s.clients[client.ClientID] = &stored

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// FindEnabledClientByID returns a copy of an enabled client
func (s *Store) FindEnabledClientByID(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, span := s.startStorageSpan(ctx, "find_client")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "find_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok || !client.Enabled {
		return nil, storage.ErrClientNotFound
	}
	clientCopy := *client
	return &clientCopy, nil
}

// ListClients returns copies of all stored clients ordered by ID
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clientCopy := *client
		clients = append(clients, &clientCopy)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ClientID < clients[j].ClientID })
	return clients, nil
}

// ============================================================
// APIResourceStore Implementation
// ============================================================

// SaveAPIResource stores an API resource, replacing any resource with the same name
func (s *Store) SaveAPIResource(ctx context.Context, resource *storage.APIResource) error {
	if resource == nil || resource.Name == "" {
		return fmt.Errorf("invalid api resource")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *resource
	stored.Scopes = append([]string(nil), resource.Scopes...)
	s.apiResources[resource.Name] = &stored
	return nil
}

// FindAPIResourceByName returns a copy of an enabled API resource
func (s *Store) FindAPIResourceByName(ctx context.Context, name string) (*storage.APIResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.apiResources[name]
	if !ok || !res.Enabled {
		return nil, storage.ErrAPIResourceNotFound
	}
	resCopy := *res
	return &resCopy, nil
}

// FindAPIResourcesByScope returns enabled API resources declaring any of the scopes, ordered by name
func (s *Store) FindAPIResourcesByScope(ctx context.Context, scopes []string) ([]*storage.APIResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.APIResource
	for _, res := range s.apiResources {
		if !res.Enabled || len(util.Intersect(res.Scopes, scopes)) == 0 {
			continue
		}
		resCopy := *res
		out = append(out, &resCopy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

// SaveAuthorizationCode stores a newly issued code
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.authCodes[code.Handle]; exists {
		return storage.ErrAuthorizationCodeExists
	}
	stored := *code
	s.authCodes[code.Handle] = &stored
	s.codesCountAtomic.Add(1)

	s.logger.Debug("Saved authorization code",
		"client_id", code.ClientID,
		"code_prefix", util.SafeTruncate(code.Handle, handleLogLength))
	return nil
}

// Consume atomically removes and returns a code.
//
// SECURITY: lookup and delete happen under one write lock, so only one
// concurrent caller can receive a given code. Expiry is not checked here;
// an expired code is still returned (and removed) so the caller can report it.
func (s *Store) Consume(ctx context.Context, handle string) (_ *storage.AuthorizationCode, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()
	startTime := time.Now()
	defer func() {
		if errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			s.recordStorageOperation(ctx, span, "consume_authorization_code", nil, startTime)
			return
		}
		s.recordStorageOperation(ctx, span, "consume_authorization_code", err, startTime)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.authCodes[handle]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	delete(s.authCodes, handle)
	s.codesCountAtomic.Add(-1)

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(handle, handleLogLength))
	return code, nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveToken stores a reference token under its handle
func (s *Store) SaveToken(ctx context.Context, handle string, token *storage.Token) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_token")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "save_token", err, startTime)
	}()

	if handle == "" {
		return fmt.Errorf("handle cannot be empty")
	}
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.tokens[handle]; !existed {
		s.tokensCountAtomic.Add(1)
	}
	stored := *token
	s.tokens[handle] = &stored
	return nil
}

// GetToken returns a copy of a reference token
func (s *Store) GetToken(ctx context.Context, handle string) (_ *storage.Token, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_token")
	defer span.End()
	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "get_token", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[handle]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	tokenCopy := *token
	return &tokenCopy, nil
}

// DeleteToken removes a reference token
func (s *Store) DeleteToken(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[handle]; ok {
		delete(s.tokens, handle)
		s.tokensCountAtomic.Add(-1)
	}
	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes expired codes and tokens
func (s *Store) cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0

	for handle, code := range s.authCodes {
		if code.IsExpired(now) {
			delete(s.authCodes, handle)
			s.codesCountAtomic.Add(-1)
			cleaned++
		}
	}

	for handle, token := range s.tokens {
		if token.IsExpired(now) {
			delete(s.tokens, handle)
			s.tokensCountAtomic.Add(-1)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
	return cleaned
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
// Returns a context with the span attached and the span itself
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
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
