package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithLogging sets the log level and format ("text" or "json")
func WithLogging(level, format string) Option {
	return func(c *ServerConfig) error {
		if _, err := parseLevel(level); err != nil {
			return err
		}
		if format != "text" && format != "json" {
			return fmt.Errorf("log format must be 'text' or 'json', got: %s", format)
		}
		c.LogLevel = level
		c.LogFormat = format
		return nil
	}
}

// WithAccount sets the single operator account allowed to log in
func WithAccount(email, name, role, password string) Option {
	return func(c *ServerConfig) error {
		if email == "" {
			return fmt.Errorf("account email cannot be empty")
		}
		if password == "" {
			return fmt.Errorf("account password cannot be empty")
		}
		c.Auth.Email = email
		c.Auth.Name = name
		c.Auth.Role = role
		c.Auth.Password = password
		return nil
	}
}

// WithTokenSecret sets the token signing secret and lifetime.
// A zero ttl keeps the current lifetime.
func WithTokenSecret(secret string, ttl time.Duration) Option {
	return func(c *ServerConfig) error {
		if secret == "" {
			return fmt.Errorf("token secret cannot be empty")
		}
		if ttl < 0 {
			return fmt.Errorf("token ttl cannot be negative, got: %s", ttl)
		}
		c.Auth.Secret = secret
		if ttl > 0 {
			c.Auth.TokenTTL = ttl
		}
		return nil
	}
}

// WithAccessWindow restricts logins to daily slots such as
// "12:00-13:00,20:00-21:00" in the given IANA time zone.
func WithAccessWindow(slots, timeZone string, bypassRoles ...string) Option {
	return func(c *ServerConfig) error {
		c.Auth.AccessWindow = slots
		c.Auth.TimeZone = timeZone
		if len(bypassRoles) > 0 {
			c.Auth.BypassRoles = bypassRoles
		}
		_, err := c.Auth.window()
		return err
	}
}

// WithMemoryProvider uses the simulated provider as primary
func WithMemoryProvider() Option {
	return func(c *ServerConfig) error {
		c.Primary = ProviderConfig{Type: ProviderMemory}
		return nil
	}
}

// WithGatewayProvider forwards invalidations to an HTTP gateway
func WithGatewayProvider(baseURL, distributionID string) Option {
	return func(c *ServerConfig) error {
		if baseURL == "" {
			return fmt.Errorf("gateway base URL cannot be empty")
		}
		c.Primary = ProviderConfig{
			Type:           ProviderGateway,
			GatewayURL:     baseURL,
			DistributionID: distributionID,
		}
		return nil
	}
}

// WithCloudFrontProvider calls CloudFront directly as primary
func WithCloudFrontProvider(distributionID, region string) Option {
	return func(c *ServerConfig) error {
		if distributionID == "" {
			return fmt.Errorf("distribution id cannot be empty")
		}
		c.Primary = ProviderConfig{
			Type:           ProviderCloudFront,
			DistributionID: distributionID,
			Region:         region,
		}
		return nil
	}
}

// WithSecondaryProvider sets the fallback provider
func WithSecondaryProvider(p ProviderConfig) Option {
	return func(c *ServerConfig) error {
		if err := p.validate("secondary"); err != nil {
			return err
		}
		c.Secondary = p
		return nil
	}
}

// WithFallback enables or disables the single fallback attempt
func WithFallback(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableFallback = enabled
		return nil
	}
}

// WithProviderTimeout bounds each provider call
func WithProviderTimeout(d time.Duration) Option {
	return func(c *ServerConfig) error {
		if d <= 0 {
			return fmt.Errorf("provider timeout must be positive, got: %s", d)
		}
		c.ProviderTimeout = d
		return nil
	}
}

// WithPathPolicy sets the path validation policy
func WithPathPolicy(allowWildcard, requireLeadingSlash bool, maxPaths int) Option {
	return func(c *ServerConfig) error {
		if maxPaths < 0 {
			return fmt.Errorf("max paths cannot be negative, got: %d", maxPaths)
		}
		c.AllowWildcard = allowWildcard
		c.RequireLeadingSlash = requireLeadingSlash
		c.MaxPaths = maxPaths
		return nil
	}
}

// WithAuditLogURL selects the audit log backend
func WithAuditLogURL(url string) Option {
	return func(c *ServerConfig) error {
		if _, _, err := parseAuditLogURL(url); err != nil {
			return err
		}
		c.AuditLogURL = url
		return nil
	}
}

// WithCORSOrigins sets the origins allowed to call the API from a browser
func WithCORSOrigins(origins ...string) Option {
	return func(c *ServerConfig) error {
		c.CORSOrigins = origins
		return nil
	}
}

// WithMetrics enables or disables the Prometheus recorder
func WithMetrics(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableMetrics = enabled
		return nil
	}
}
