package oauth

import (
	"fmt"
	"log/slog"

	"github.com/giantswarm/oauth-trust/instrumentation"
	"github.com/giantswarm/oauth-trust/security"
	"github.com/giantswarm/oauth-trust/server"
	"github.com/giantswarm/oauth-trust/storage"
)

// Stores groups the storage backends read by the server. A single backend
// such as memory.Store usually fills every field.
type Stores struct {
	Clients      storage.ClientStore
	Codes        storage.AuthorizationCodeStore
	APIResources storage.APIResourceStore
	Tokens       storage.TokenStore
}

// ServerOption customizes NewServer
type ServerOption func(*serverOptions)

type serverOptions struct {
	logger          *slog.Logger
	auditor         *security.Auditor
	instrumentation *instrumentation.Instrumentation
	profiles        server.ProfileService
}

// WithLogger sets the logger used by the server
func WithLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) { o.logger = logger }
}

// WithAuditor enables security audit logging
func WithAuditor(aud *security.Auditor) ServerOption {
	return func(o *serverOptions) { o.auditor = aud }
}

// WithInstrumentation enables spans and metrics
func WithInstrumentation(inst *instrumentation.Instrumentation) ServerOption {
	return func(o *serverOptions) { o.instrumentation = inst }
}

// WithProfileService sets the service consulted for subject activity
func WithProfileService(ps server.ProfileService) ServerOption {
	return func(o *serverOptions) { o.profiles = ps }
}

// NewServer creates a server.Server over stores with the given options
// applied. Stores that also accept instrumentation receive it.
func NewServer(stores Stores, config *server.Config, opts ...ServerOption) (*server.Server, error) {
	o := &serverOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	srv, err := server.New(stores.Clients, stores.Codes, stores.APIResources, stores.Tokens, config, o.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	if o.auditor != nil {
		srv.SetAuditor(o.auditor)
	}
	if o.profiles != nil {
		srv.SetProfileService(o.profiles)
	}
	if o.instrumentation != nil {
		srv.SetInstrumentation(o.instrumentation)
		if o.auditor != nil {
			o.auditor.SetInstrumentation(o.instrumentation)
		}
		seen := make(map[any]bool, 4)
		for _, s := range []any{stores.Clients, stores.Codes, stores.APIResources, stores.Tokens} {
			if s == nil || seen[s] {
				continue
			}
			seen[s] = true
			if instrumented, ok := s.(interface {
				SetInstrumentation(*instrumentation.Instrumentation)
			}); ok {
				instrumented.SetInstrumentation(o.instrumentation)
			}
		}
	}

	return srv, nil
}
