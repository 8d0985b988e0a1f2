package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-invalidation/pkg/invalidation"
	"github.com/tendant/simple-invalidation/pkg/invalidation/auditlog/fs"
	"github.com/tendant/simple-invalidation/pkg/invalidation/auditlog/memory"
	auditpg "github.com/tendant/simple-invalidation/pkg/invalidation/auditlog/postgres"
	"github.com/tendant/simple-invalidation/pkg/invalidation/auth"
	"github.com/tendant/simple-invalidation/pkg/invalidation/metrics"
	"github.com/tendant/simple-invalidation/pkg/invalidation/provider/cloudfront"
	"github.com/tendant/simple-invalidation/pkg/invalidation/provider/gateway"
	memoryprovider "github.com/tendant/simple-invalidation/pkg/invalidation/provider/memory"
)

// Provider types
const (
	ProviderMemory     = "memory"
	ProviderGateway    = "gateway"
	ProviderCloudFront = "cloudfront"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	policy := invalidation.DefaultPathPolicy()
	return ServerConfig{
		Port:        "8080",
		Environment: "development",
		LogLevel:    "info",
		LogFormat:   "text",
		Auth: AuthConfig{
			Name:        "SEO Operator",
			Role:        "admin",
			TokenTTL:    auth.DefaultTokenTTL,
			Issuer:      auth.DefaultIssuer,
			BypassRoles: []string{"admin"},
		},
		Primary: ProviderConfig{
			Type: ProviderMemory,
		},
		EnableFallback:        true,
		ProviderTimeout:       invalidation.DefaultProviderTimeout,
		CallerReferencePrefix: invalidation.DefaultCallerReferencePrefix,
		AllowWildcard:         policy.AllowWildcard,
		RequireLeadingSlash:   policy.RequireLeadingSlash,
		MaxPaths:              policy.MaxPaths,
		AuditLogURL:           "file://./logs/invalidation.log",
		EnableMetrics:         true,
	}
}

// ServerConfig represents server configuration for the invalidation portal
type ServerConfig struct {
	Port        string   `yaml:"port" json:"port" env:"PORT" env-description:"HTTP listen port"`
	Environment string   `yaml:"environment" json:"environment" env:"ENVIRONMENT" env-description:"development, production, testing"`
	LogLevel    string   `yaml:"log_level" json:"log_level" env:"LOG_LEVEL" env-description:"debug, info, warn, error"`
	LogFormat   string   `yaml:"log_format" json:"log_format" env:"LOG_FORMAT" env-description:"text or json"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins" env:"CORS_ORIGINS" env-description:"Comma separated allowed origins (empty allows all)"`

	Auth AuthConfig `yaml:"auth" json:"auth"`

	// Providers
	Primary               ProviderConfig `yaml:"primary" json:"primary" env-prefix:"PRIMARY_"`
	Secondary             ProviderConfig `yaml:"secondary" json:"secondary" env-prefix:"SECONDARY_"`
	EnableFallback        bool           `yaml:"enable_fallback" json:"enable_fallback" env:"ENABLE_FALLBACK" env-description:"Retry once via the secondary provider"`
	ProviderTimeout       time.Duration  `yaml:"provider_timeout" json:"provider_timeout" env:"PROVIDER_TIMEOUT" env-description:"Bound on each provider call"`
	CallerReferencePrefix string         `yaml:"caller_reference_prefix" json:"caller_reference_prefix" env:"CALLER_REFERENCE_PREFIX"`

	// Path policy
	AllowWildcard       bool `yaml:"allow_wildcard" json:"allow_wildcard" env:"ALLOW_WILDCARD" env-description:"Permit trailing * in paths"`
	RequireLeadingSlash bool `yaml:"require_leading_slash" json:"require_leading_slash" env:"REQUIRE_LEADING_SLASH"`
	MaxPaths            int  `yaml:"max_paths" json:"max_paths" env:"MAX_PATHS" env-description:"Maximum paths per request (0 disables)"`

	// Audit log: memory://, file:///path/to/log or postgres://...
	AuditLogURL string `yaml:"audit_log_url" json:"audit_log_url" env:"AUDIT_LOG_URL" env-description:"memory://, file://<path> or postgres://..."`
	DBSchema    string `yaml:"db_schema" json:"db_schema" env:"AUDIT_DB_SCHEMA" env-description:"Postgres search_path for the audit table"`

	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics" env:"ENABLE_METRICS"`
}

// AuthConfig configures the login account and token signing
type AuthConfig struct {
	Email          string        `yaml:"email" json:"email" env:"AUTH_EMAIL"`
	Name           string        `yaml:"name" json:"name" env:"AUTH_NAME"`
	Role           string        `yaml:"role" json:"role" env:"AUTH_ROLE"`
	Password       string        `yaml:"password" json:"password" env:"AUTH_PASSWORD"`
	PasswordSHA256 string        `yaml:"password_sha256" json:"password_sha256" env:"AUTH_PASSWORD_SHA256"`
	Secret         string        `yaml:"secret" json:"secret" env:"JWT_SECRET"`
	TokenTTL       time.Duration `yaml:"token_ttl" json:"token_ttl" env:"JWT_TTL"`
	Issuer         string        `yaml:"issuer" json:"issuer" env:"JWT_ISSUER"`
	AccessWindow   string        `yaml:"access_window" json:"access_window" env:"ACCESS_WINDOW" env-description:"Daily slots such as 12:00-13:00,20:00-21:00 (empty disables)"`
	TimeZone       string        `yaml:"time_zone" json:"time_zone" env:"ACCESS_WINDOW_TZ"`
	BypassRoles    []string      `yaml:"bypass_roles" json:"bypass_roles" env:"ACCESS_WINDOW_BYPASS_ROLES"`
}

// ProviderConfig configures one invalidation provider
type ProviderConfig struct {
	Type            string `yaml:"type" json:"type" env:"PROVIDER" env-description:"memory, gateway or cloudfront (empty disables)"`
	Name            string `yaml:"name" json:"name" env:"NAME"`
	GatewayURL      string `yaml:"gateway_url" json:"gateway_url" env:"GATEWAY_URL"`
	DistributionID  string `yaml:"distribution_id" json:"distribution_id" env:"DISTRIBUTION_ID"`
	Region          string `yaml:"region" json:"region" env:"AWS_REGION"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	SessionToken    string `yaml:"session_token" json:"session_token" env:"AWS_SESSION_TOKEN"`
	Endpoint        string `yaml:"endpoint" json:"endpoint" env:"CLOUDFRONT_ENDPOINT"`
}

// Enabled reports whether the provider slot is configured
func (p ProviderConfig) Enabled() bool {
	return p.Type != ""
}

// PathPolicy returns the path policy described by the configuration
func (c *ServerConfig) PathPolicy() invalidation.PathPolicy {
	return invalidation.PathPolicy{
		AllowWildcard:       c.AllowWildcard,
		RequireLeadingSlash: c.RequireLeadingSlash,
		MaxPaths:            c.MaxPaths,
	}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if err := c.Auth.validate(); err != nil {
		return err
	}

	if err := c.Primary.validate("primary"); err != nil {
		return err
	}
	if !c.Primary.Enabled() {
		return errors.New("primary provider type is required")
	}
	if err := c.Secondary.validate("secondary"); err != nil {
		return err
	}

	if c.ProviderTimeout <= 0 {
		return errors.New("provider_timeout must be positive")
	}
	if c.MaxPaths < 0 {
		return errors.New("max_paths cannot be negative")
	}

	if _, _, err := parseAuditLogURL(c.AuditLogURL); err != nil {
		return err
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be 'text' or 'json', got: %s", c.LogFormat)
	}

	return nil
}

func (a AuthConfig) validate() error {
	if a.Secret == "" {
		return errors.New("jwt secret is required")
	}
	if a.Email == "" {
		return errors.New("auth email is required")
	}
	if a.Password == "" && a.PasswordSHA256 == "" {
		return errors.New("auth password or password_sha256 is required")
	}
	if a.TokenTTL < 0 {
		return errors.New("token_ttl cannot be negative")
	}
	if _, err := a.window(); err != nil {
		return err
	}
	return nil
}

func (p ProviderConfig) validate(slot string) error {
	switch p.Type {
	case "":
		return nil
	case ProviderMemory:
		return nil
	case ProviderGateway:
		if p.GatewayURL == "" {
			return fmt.Errorf("%s provider: gateway_url is required for gateway", slot)
		}
		return nil
	case ProviderCloudFront:
		if p.DistributionID == "" {
			return fmt.Errorf("%s provider: distribution_id is required for cloudfront", slot)
		}
		return nil
	default:
		return fmt.Errorf("%s provider: unsupported type %q (use memory, gateway or cloudfront)", slot, p.Type)
	}
}

func (a AuthConfig) window() (auth.AccessWindow, error) {
	if strings.TrimSpace(a.AccessWindow) == "" {
		return auth.AlwaysOpen{}, nil
	}
	slots, err := auth.ParseSlots(a.AccessWindow)
	if err != nil {
		return nil, err
	}
	loc := time.Local
	if a.TimeZone != "" {
		loc, err = time.LoadLocation(a.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("invalid access window time zone: %w", err)
		}
	}
	return auth.DailyWindow{Slots: slots, Location: loc}, nil
}

// Components is the object graph built from a ServerConfig
type Components struct {
	Service  invalidation.Service
	Gate     *auth.Gate
	AuditLog invalidation.AuditLog
	Metrics  *metrics.Recorder // nil when metrics are disabled

	closers []func()
}

// Close releases resources held by the components
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// Build creates the service, auth gate and supporting infrastructure
func (c *ServerConfig) Build(ctx context.Context, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}

	components := &Components{}

	gate, err := c.BuildGate()
	if err != nil {
		return nil, fmt.Errorf("failed to build auth gate: %w", err)
	}
	components.Gate = gate

	auditLog, closeLog, err := c.BuildAuditLog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build audit log: %w", err)
	}
	components.AuditLog = auditLog
	if closeLog != nil {
		components.closers = append(components.closers, closeLog)
	}

	options := []invalidation.Option{
		invalidation.WithLogger(logger),
		invalidation.WithAuditLog(auditLog),
	}

	if c.EnableMetrics {
		components.Metrics = metrics.NewRecorder(nil)
		options = append(options, invalidation.WithHooks(components.Metrics.Hooks()))
	}

	svc, err := c.BuildService(options...)
	if err != nil {
		components.Close()
		return nil, err
	}
	components.Service = svc

	return components, nil
}

// BuildService creates a Service from the provider and policy settings.
// opts must supply the audit log, see BuildAuditLog.
func (c *ServerConfig) BuildService(opts ...invalidation.Option) (invalidation.Service, error) {
	primary, err := c.BuildProvider(c.Primary)
	if err != nil {
		return nil, fmt.Errorf("failed to build primary provider: %w", err)
	}

	options := []invalidation.Option{
		invalidation.WithPrimaryProvider(primary),
		invalidation.WithFallback(c.EnableFallback),
		invalidation.WithProviderTimeout(c.ProviderTimeout),
		invalidation.WithPathPolicy(c.PathPolicy()),
	}
	if c.CallerReferencePrefix != "" {
		options = append(options, invalidation.WithCallerReferencePrefix(c.CallerReferencePrefix))
	}

	if c.Secondary.Enabled() {
		secondary, err := c.BuildProvider(c.Secondary)
		if err != nil {
			return nil, fmt.Errorf("failed to build secondary provider: %w", err)
		}
		options = append(options, invalidation.WithFallbackProvider(secondary))
	}

	return invalidation.New(append(options, opts...)...)
}

// BuildGate creates the auth gate
func (c *ServerConfig) BuildGate() (*auth.Gate, error) {
	window, err := c.Auth.window()
	if err != nil {
		return nil, err
	}
	return auth.New(auth.Config{
		Account: auth.Account{
			Email:          c.Auth.Email,
			Name:           c.Auth.Name,
			Role:           c.Auth.Role,
			Password:       c.Auth.Password,
			PasswordSHA256: c.Auth.PasswordSHA256,
		},
		Secret:      c.Auth.Secret,
		TokenTTL:    c.Auth.TokenTTL,
		Issuer:      c.Auth.Issuer,
		Window:      window,
		BypassRoles: c.Auth.BypassRoles,
	})
}

// BuildProvider creates a Provider based on the provider configuration
func (c *ServerConfig) BuildProvider(p ProviderConfig) (invalidation.Provider, error) {
	switch p.Type {
	case ProviderMemory:
		var opts []memoryprovider.Option
		if p.Name != "" {
			opts = append(opts, memoryprovider.WithName(p.Name))
		}
		return memoryprovider.New(opts...), nil

	case ProviderGateway:
		return gateway.New(gateway.Config{
			BaseURL:        p.GatewayURL,
			DistributionID: p.DistributionID,
			Name:           p.Name,
		})

	case ProviderCloudFront:
		return cloudfront.New(cloudfront.Config{
			DistributionID:  p.DistributionID,
			Region:          p.Region,
			AccessKeyID:     p.AccessKeyID,
			SecretAccessKey: p.SecretAccessKey,
			SessionToken:    p.SessionToken,
			Endpoint:        p.Endpoint,
			Name:            p.Name,
		})

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", p.Type)
	}
}

// BuildAuditLog creates the audit log named by AuditLogURL. The returned
// close function is nil when there is nothing to release.
func (c *ServerConfig) BuildAuditLog(ctx context.Context) (invalidation.AuditLog, func(), error) {
	kind, target, err := parseAuditLogURL(c.AuditLogURL)
	if err != nil {
		return nil, nil, err
	}

	switch kind {
	case "memory":
		return memory.New(), nil, nil
	case "file":
		log, err := fs.New(fs.Config{Path: target})
		if err != nil {
			return nil, nil, err
		}
		return log, nil, nil
	case "postgres":
		cfg, err := pgxpool.ParseConfig(target)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse audit database URL: %w", err)
		}
		// Optionally set search_path for the connection
		if schema := c.DBSchema; schema != "" {
			cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
				_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
				return err
			}
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		log := auditpg.NewWithPool(pool)
		if err := log.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return log, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported audit log type: %s", kind)
	}
}

// parseAuditLogURL splits an audit log URL into its kind and target.
func parseAuditLogURL(raw string) (string, string, error) {
	switch {
	case raw == "" || raw == "memory" || raw == "memory://":
		return "memory", "", nil
	case strings.HasPrefix(raw, "file://"):
		path := strings.TrimPrefix(raw, "file://")
		if path == "" {
			return "", "", errors.New("audit log path cannot be empty in AUDIT_LOG_URL")
		}
		return "file", path, nil
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return "postgres", raw, nil
	default:
		return "", "", fmt.Errorf("unsupported AUDIT_LOG_URL format: %s (use 'memory://', 'file://...' or 'postgres://...')", raw)
	}
}
