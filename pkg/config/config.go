// Package config loads the sandpit gateway configuration. Settings are
// layered: built-in defaults, then an optional YAML file, then SANDPIT_*
// environment variables, then *_file secret references, and finally
// validation over the merged result.
package config

import "time"

// Config is the merged gateway configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Session       SessionConfig       `yaml:"session"`
	Provider      ProviderConfig      `yaml:"provider"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	MCP           MCPConfig           `yaml:"mcp"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig controls the Prometheus endpoint, on at /metrics unless
// disabled.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ServerConfig covers the HTTP listener. Write timeout defaults to 300s
// because a batch can legitimately run for minutes.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxBodySize     int64         `yaml:"max_body_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SessionConfig sets the defaults applied to every sandbox session.
type SessionConfig struct {
	// DefaultTimeoutSeconds is the idle timeout a new session starts
	// with, 300 unless overridden.
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`

	// ListPath is the directory whose contents are reported at the end
	// of each batch, /home/user by default.
	ListPath string `yaml:"list_path"`

	// Persist keeps a handle's session open between batches so
	// filesystem and interpreter state carry over. On by default.
	Persist bool `yaml:"persist"`
}

// ProviderConfig selects and configures sandbox provisioning. Mode "rest"
// talks to one fixed sandbox server; mode "kubernetes" creates a
// SandboxClaim per session and waits for the pod.
type ProviderConfig struct {
	Mode string `yaml:"mode"`

	// URL is the sandbox server address, used by mode rest.
	URL string `yaml:"url"`

	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`

	// HTTPTimeout bounds each individual call to the sandbox server.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// SandboxTemplate names the SandboxTemplate CRD pods are stamped
	// from, and SandboxNamespace is where claims land.
	SandboxTemplate  string `yaml:"sandbox_template"`
	SandboxNamespace string `yaml:"sandbox_namespace"`

	// ProvisionTimeout caps the wait for a claimed pod to become ready.
	ProvisionTimeout time.Duration `yaml:"provision_timeout"`
}

// StorageConfig picks the session-record store, "memory" or "postgres".
type StorageConfig struct {
	Type     string         `yaml:"type"`
	MaxSize  int            `yaml:"max_size"` // memory store record cap
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`
	MaxConns       int32  `yaml:"max_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

// AuthConfig selects the verifier chain, "none", "apikey", or "jwt".
type AuthConfig struct {
	Type      string          `yaml:"type"`
	APIKeys   []APIKeyConfig  `yaml:"api_keys"`
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig is one static key entry. An empty Scopes list grants the
// key every scope.
type APIKeyConfig struct {
	Key         string   `yaml:"key"`
	KeyFile     string   `yaml:"key_file"`
	Subject     string   `yaml:"subject"`
	TenantID    string   `yaml:"tenant_id"`
	ServiceTier string   `yaml:"service_tier"`
	Scopes      []string `yaml:"scopes"`
}

// JWTConfig configures OIDC token validation. The claim names fall back
// to "sub", "tenant_id", and "scope" when unset.
type JWTConfig struct {
	Issuer      string `yaml:"issuer"`
	Audience    string `yaml:"audience"`
	JWKSURL     string `yaml:"jwks_url"`
	UserClaim   string `yaml:"user_claim"`
	TenantClaim string `yaml:"tenant_claim"`
	ScopesClaim string `yaml:"scopes_claim"`
}

// RateLimitConfig maps service tiers to requests-per-minute budgets.
// Callers whose tier is absent from Tiers get DefaultRPM.
type RateLimitConfig struct {
	Enabled    bool           `yaml:"enabled"`
	DefaultRPM int            `yaml:"default_rpm"`
	Tiers      map[string]int `yaml:"tiers"`
}

// MCPConfig exposes the gateway's session operations as MCP tools when
// enabled, mounted at Path (/mcp by default).
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns the configuration the gateway runs with when nothing
// else is supplied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    300 * time.Second,
			MaxBodySize:     10 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			DefaultTimeoutSeconds: 300,
			ListPath:              "/home/user",
			Persist:               true,
		},
		Provider: ProviderConfig{
			Mode:             "rest",
			SandboxNamespace: "default",
			ProvisionTimeout: 60 * time.Second,
		},
		Storage: StorageConfig{
			Type:     "memory",
			MaxSize:  10000,
			Postgres: PostgresConfig{MaxConns: 25},
		},
		Auth: AuthConfig{
			Type:      "none",
			RateLimit: RateLimitConfig{DefaultRPM: 60},
		},
		MCP: MCPConfig{Path: "/mcp"},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		},
	}
}
