// Package config loads the oauth-trust binary configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/oauth-trust/bff"
	"github.com/giantswarm/oauth-trust/storage"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "OAUTH_TRUST_"

// Storage drivers
const (
	StorageMemory   = "memory"
	StorageValkey   = "valkey"
	StoragePostgres = "postgres"
)

// Session store drivers
const (
	SessionMemory = "memory"
	SessionRedis  = "redis"
)

// Config is the complete binary configuration
type Config struct {
	Server       ServerConfig           `yaml:"server"`
	Log          LogConfig              `yaml:"log"`
	Storage      StorageConfig          `yaml:"storage"`
	Cache        CacheConfig            `yaml:"cache"`
	OAuth        OAuthConfig            `yaml:"oauth"`
	BFF          BFFConfig              `yaml:"bff"`
	Metrics      MetricsConfig          `yaml:"metrics"`
	Clients      []*storage.Client      `yaml:"clients"`
	APIResources []*storage.APIResource `yaml:"api_resources"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	HTTPS             bool          `yaml:"https"`
	TrustProxy        bool          `yaml:"trust_proxy"`
	TrustedProxyCount int           `yaml:"trusted_proxy_count"`
	Realm             string        `yaml:"realm"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	RateLimit         struct {
		Rate  float64 `yaml:"rate"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
	Audit  bool   `yaml:"audit"`

	// AuditFailureRate throttles repeated failure audit events per client,
	// in events per second. Zero disables throttling.
	AuditFailureRate  float64 `yaml:"audit_failure_rate"`
	AuditFailureBurst int     `yaml:"audit_failure_burst"`
}

// StorageConfig selects and configures the OAuth store
type StorageConfig struct {
	Driver          string        `yaml:"driver"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Valkey          struct {
		Address   string `yaml:"address"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		KeyPrefix string `yaml:"key_prefix"`
		TLS       bool   `yaml:"tls"`
	} `yaml:"valkey"`
	Postgres struct {
		DSN     string `yaml:"dsn"`
		Migrate bool   `yaml:"migrate"`
	} `yaml:"postgres"`
}

// CacheConfig configures the client lookup cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// OAuthConfig maps onto server.Config
type OAuthConfig struct {
	Issuer                              string        `yaml:"issuer"`
	AllowUnregisteredPushedRedirectURIs bool          `yaml:"allow_unregistered_pushed_redirect_uris"`
	MaxAuthorizationCodeLength          int           `yaml:"max_authorization_code_length"`
	MaxResourceIndicatorLength          int           `yaml:"max_resource_indicator_length"`
	AccessTokenTTL                      time.Duration `yaml:"access_token_ttl"`
	AllowPKCEPlain                      bool          `yaml:"allow_pkce_plain"`
}

// BFFConfig configures the backend-for-frontend proxy
type BFFConfig struct {
	Enabled      bool     `yaml:"enabled"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`

	// RemoveSessionAfterRefreshTokenExpiration signs the user out when a
	// user token can no longer be refreshed.
	RemoveSessionAfterRefreshTokenExpiration bool `yaml:"remove_session_after_refresh_token_expiration"`

	Session struct {
		Driver        string `yaml:"driver"`
		CookieName    string `yaml:"cookie_name"`
		EncryptionKey string `yaml:"encryption_key"` // base64, 32 bytes
		Redis         struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"session"`

	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig is one proxied API route
type RouteConfig struct {
	Name        string `yaml:"name"`
	PathPrefix  string `yaml:"path_prefix"`
	Destination string `yaml:"destination"`
	TokenType   string `yaml:"token_type"`
}

// MetricsConfig configures OpenTelemetry metrics
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	ServiceName string `yaml:"service_name"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path, applies defaults and environment overrides and
// validates the result. An empty path loads only defaults and environment.
func Load(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	c.applyDefaults()
	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.AuditFailureRate > 0 && c.Log.AuditFailureBurst == 0 {
		c.Log.AuditFailureBurst = 10
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMemory
	}
	if c.Storage.CleanupInterval == 0 {
		c.Storage.CleanupInterval = time.Minute
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 30 * time.Second
	}
	if c.BFF.Session.Driver == "" {
		c.BFF.Session.Driver = SessionMemory
	}
	if c.BFF.Session.CookieName == "" {
		c.BFF.Session.CookieName = "__Host-bff-session"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.ServiceName == "" {
		c.Metrics.ServiceName = "oauth-trust"
	}
}

// applyEnvOverrides applies OAUTH_TRUST_* variables. Secrets are usually
// passed this way rather than written to the YAML file.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"SERVER_ADDR":            &c.Server.Addr,
		"LOG_LEVEL":              &c.Log.Level,
		"LOG_FORMAT":             &c.Log.Format,
		"STORAGE_DRIVER":         &c.Storage.Driver,
		"VALKEY_ADDRESS":         &c.Storage.Valkey.Address,
		"VALKEY_PASSWORD":        &c.Storage.Valkey.Password,
		"POSTGRES_DSN":           &c.Storage.Postgres.DSN,
		"ISSUER":                 &c.OAuth.Issuer,
		"BFF_CLIENT_ID":          &c.BFF.ClientID,
		"BFF_CLIENT_SECRET":      &c.BFF.ClientSecret,
		"BFF_TOKEN_URL":          &c.BFF.TokenURL,
		"SESSION_DRIVER":         &c.BFF.Session.Driver,
		"SESSION_REDIS_ADDR":     &c.BFF.Session.Redis.Addr,
		"SESSION_REDIS_PASSWORD": &c.BFF.Session.Redis.Password,
		"SESSION_ENCRYPTION_KEY": &c.BFF.Session.EncryptionKey,
		"METRICS_SERVICE_NAME":   &c.Metrics.ServiceName,
	}
	for key, dst := range strs {
		if v, ok := getEnvStr(EnvPrefix + key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"SERVER_HTTPS":       &c.Server.HTTPS,
		"SERVER_TRUST_PROXY": &c.Server.TrustProxy,
		"LOG_AUDIT":          &c.Log.Audit,
		"CACHE_ENABLED":      &c.Cache.Enabled,
		"BFF_ENABLED":        &c.BFF.Enabled,
		"METRICS_ENABLED":    &c.Metrics.Enabled,
		"POSTGRES_MIGRATE":   &c.Storage.Postgres.Migrate,
		"VALKEY_TLS":         &c.Storage.Valkey.TLS,
	}
	for key, dst := range bools {
		v, ok, err := getEnvBool(EnvPrefix + key)
		if err != nil {
			return err
		}
		if ok {
			*dst = v
		}
	}

	if v, ok, err := getEnvInt(EnvPrefix + "SERVER_TRUSTED_PROXY_COUNT"); err != nil {
		return err
	} else if ok {
		c.Server.TrustedProxyCount = v
	}
	if v, ok, err := getEnvDuration(EnvPrefix + "ACCESS_TOKEN_TTL"); err != nil {
		return err
	} else if ok {
		c.OAuth.AccessTokenTTL = v
	}
	return nil
}

// Validate checks that the configuration can be used to start the server
func (c *Config) Validate() error {
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	if c.Log.AuditFailureRate < 0 || c.Log.AuditFailureBurst < 0 {
		return fmt.Errorf("log.audit_failure_rate and log.audit_failure_burst must not be negative")
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StorageValkey:
		if c.Storage.Valkey.Address == "" {
			return fmt.Errorf("storage.valkey.address is required for the valkey driver")
		}
	case StoragePostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	if c.OAuth.AccessTokenTTL < 0 {
		return fmt.Errorf("oauth.access_token_ttl must not be negative")
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must not be negative")
	}

	seen := make(map[string]bool, len(c.Clients))
	for i, client := range c.Clients {
		if client == nil {
			return fmt.Errorf("clients[%d] is empty", i)
		}
		if err := client.Validate(); err != nil {
			return fmt.Errorf("clients[%d]: %w", i, err)
		}
		if seen[client.ClientID] {
			return fmt.Errorf("clients[%d]: duplicate client_id %q", i, client.ClientID)
		}
		seen[client.ClientID] = true
	}
	for i, api := range c.APIResources {
		if api == nil || api.Name == "" {
			return fmt.Errorf("api_resources[%d]: name is required", i)
		}
	}

	if c.BFF.Enabled {
		if err := c.BFF.validate(); err != nil {
			return fmt.Errorf("bff: %w", err)
		}
	}
	return nil
}

func (b *BFFConfig) validate() error {
	if b.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if err := requireAbsoluteURL("token_url", b.TokenURL); err != nil {
		return err
	}
	switch b.Session.Driver {
	case SessionMemory:
	case SessionRedis:
		if b.Session.Redis.Addr == "" {
			return fmt.Errorf("session.redis.addr is required for the redis session driver")
		}
	default:
		return fmt.Errorf("unknown session.driver %q", b.Session.Driver)
	}
	if len(b.Routes) == 0 {
		return fmt.Errorf("at least one route is required")
	}
	for i, r := range b.Routes {
		if !strings.HasPrefix(r.PathPrefix, "/") {
			return fmt.Errorf("routes[%d]: path_prefix must start with /", i)
		}
		if err := requireAbsoluteURL(fmt.Sprintf("routes[%d].destination", i), r.Destination); err != nil {
			return err
		}
		if !bff.RequiredTokenType(r.TokenType).Valid() {
			return fmt.Errorf("routes[%d]: unknown token_type %q", i, r.TokenType)
		}
	}
	return nil
}

// SlogLevel parses Log.Level
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q: %w", c.Log.Level, err)
	}
	return level, nil
}

func requireAbsoluteURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", field, raw)
	}
	return nil
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return i, true, nil
}

func getEnvBool(key string) (bool, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return b, true, nil
}

func getEnvDuration(key string) (time.Duration, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}
