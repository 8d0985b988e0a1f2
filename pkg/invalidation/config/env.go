package config

import (
	"fmt"
	"io"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv applies environment variable overrides.
//
// Variables that are not set leave the current value untouched. The most
// common ones:
//
//	PORT, ENVIRONMENT, LOG_LEVEL, LOG_FORMAT, CORS_ORIGINS
//	AUTH_EMAIL, AUTH_PASSWORD (or AUTH_PASSWORD_SHA256), JWT_SECRET, JWT_TTL
//	ACCESS_WINDOW (e.g. "12:00-13:00,20:00-21:00"), ACCESS_WINDOW_TZ
//	PRIMARY_PROVIDER (memory, gateway, cloudfront), PRIMARY_GATEWAY_URL,
//	PRIMARY_DISTRIBUTION_ID, SECONDARY_PROVIDER, SECONDARY_DISTRIBUTION_ID
//	ENABLE_FALLBACK, PROVIDER_TIMEOUT, ALLOW_WILDCARD, MAX_PATHS
//	AUDIT_LOG_URL - "memory://", "file://./logs/invalidation.log" or "postgres://..."
//
// Run the server with -h for the full list.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// WithFile reads a YAML, JSON, TOML or .env file and then applies
// environment overrides on top of it.
func WithFile(path string) Option {
	return func(c *ServerConfig) error {
		if path == "" {
			return nil
		}
		if err := cleanenv.ReadConfig(path, c); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}
}

// Usage writes the environment variable reference to w
func Usage(w io.Writer) {
	var cfg ServerConfig
	cleanenv.FUsage(w, &cfg, nil)()
}
