package server

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-trust/instrumentation"
	"github.com/giantswarm/oauth-trust/security"
	"github.com/giantswarm/oauth-trust/storage"
)

// Server validates token endpoint requests, redeems authorization codes and
// answers introspection calls. It is safe for concurrent use once configured.
type Server struct {
	clientStore      storage.ClientStore
	codeStore        storage.AuthorizationCodeStore
	apiResourceStore storage.APIResourceStore
	tokenStore       storage.TokenStore

	RedirectURIValidator RedirectURIValidator
	ResourceValidator    ResourceValidator
	ProfileService       ProfileService
	Auditor              *security.Auditor
	Instrumentation      *instrumentation.Instrumentation
	Logger               *slog.Logger
	Config               *Config

	tracer trace.Tracer
	now    func() time.Time
}

// New creates a new Server. The token store may be nil when reference
// tokens are not used.
func New(
	clientStore storage.ClientStore,
	codeStore storage.AuthorizationCodeStore,
	apiResourceStore storage.APIResourceStore,
	tokenStore storage.TokenStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if codeStore == nil {
		return nil, fmt.Errorf("authorization code store is required")
	}
	if apiResourceStore == nil {
		return nil, fmt.Errorf("api resource store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	inst := instrumentation.NewNoop()

	return &Server{
		clientStore:          clientStore,
		codeStore:            codeStore,
		apiResourceStore:     apiResourceStore,
		tokenStore:           tokenStore,
		RedirectURIValidator: NewStrictRedirectURIValidator(config),
		ResourceValidator:    NewStoreResourceValidator(apiResourceStore),
		ProfileService:       AlwaysActiveProfileService{},
		Instrumentation:      inst,
		tracer:               inst.Tracer("server"),
		Logger:               logger,
		Config:               config,
		now:                  time.Now,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation replaces the instrumentation used for spans and metrics
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		inst = instrumentation.NewNoop()
	}
	s.Instrumentation = inst
	s.tracer = inst.Tracer("server")
}

// SetProfileService sets the service consulted for subject activity
func (s *Server) SetProfileService(ps ProfileService) {
	s.ProfileService = ps
}

// SetResourceValidator replaces the default scope and resource validator
func (s *Server) SetResourceValidator(rv ResourceValidator) {
	s.ResourceValidator = rv
}

// SetRedirectURIValidator replaces the default redirect URI validator
func (s *Server) SetRedirectURIValidator(v RedirectURIValidator) {
	s.RedirectURIValidator = v
}

// SetClock overrides the time source. Used by tests.
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
}

// ClientStore returns the client store the server reads from
func (s *Server) ClientStore() storage.ClientStore {
	return s.clientStore
}

// APIResourceStore returns the API resource store the server reads from
func (s *Server) APIResourceStore() storage.APIResourceStore {
	return s.apiResourceStore
}
