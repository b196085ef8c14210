package config

import (
	"errors"
	"fmt"
)

// Validate checks the merged configuration and returns all problems
// joined into a single error.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port <= 0 {
		fail("server.port must be > 0, got %d", c.Server.Port)
	}
	if c.Session.DefaultTimeoutSeconds <= 0 {
		fail("session.default_timeout_seconds must be > 0, got %d", c.Session.DefaultTimeoutSeconds)
	}

	switch c.Provider.Mode {
	case "rest":
		if c.Provider.URL == "" {
			fail("provider.url is required for provider.mode %q", c.Provider.Mode)
		}
	case "kubernetes":
		if c.Provider.SandboxTemplate == "" {
			fail("provider.sandbox_template is required for provider.mode %q", c.Provider.Mode)
		}
	default:
		fail("provider.mode must be %q or %q, got %q", "rest", "kubernetes", c.Provider.Mode)
	}

	// Every sandbox server deployment runs with auth on, so the gateway
	// cannot reach one without a token.
	if c.Provider.Token == "" && c.Provider.TokenFile == "" {
		fail("provider.token or provider.token_file is required")
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			fail("storage.postgres.dsn or storage.postgres.dsn_file is required for storage.type %q", c.Storage.Type)
		}
	default:
		fail("storage.type must be %q or %q, got %q", "memory", "postgres", c.Storage.Type)
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			fail("auth.api_keys must not be empty for auth.type %q", c.Auth.Type)
		}
	case "jwt":
		if c.Auth.JWT.JWKSURL == "" {
			fail("auth.jwt.jwks_url is required for auth.type %q", c.Auth.Type)
		}
	default:
		fail("auth.type must be %q, %q, or %q, got %q", "none", "apikey", "jwt", c.Auth.Type)
	}

	return errors.Join(errs...)
}
