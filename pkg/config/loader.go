package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load assembles the gateway configuration in layers: built-in
// defaults, then a YAML file if one is found, then flat SANDPIT_* env
// overrides, then secret resolution for *_file fields. The result is
// validated before it is returned.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if path := findConfigFile(configPath); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	overrideFromEnv(&cfg)

	if err := loadSecrets(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// findConfigFile picks the config file: the explicit argument wins,
// then SANDPIT_CONFIG, then config.yaml in the working directory, then
// the system location. Empty means run on defaults and env alone.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("SANDPIT_CONFIG"); p != "" {
		return p
	}
	for _, p := range []string{"config.yaml", "/etc/sandpit/config.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// overrideFromEnv applies the flat SANDPIT_* variable names used in
// container deployments where mounting a YAML file is inconvenient.
// Unparseable numeric values are ignored.
func overrideFromEnv(cfg *Config) {
	strs := map[string]*string{
		"SANDPIT_PROVIDER":          &cfg.Provider.Mode,
		"SANDPIT_SANDBOX_URL":       &cfg.Provider.URL,
		"SANDPIT_SANDBOX_TOKEN":     &cfg.Provider.Token,
		"SANDPIT_SANDBOX_TEMPLATE":  &cfg.Provider.SandboxTemplate,
		"SANDPIT_SANDBOX_NAMESPACE": &cfg.Provider.SandboxNamespace,
		"SANDPIT_LIST_PATH":         &cfg.Session.ListPath,
		"SANDPIT_STORAGE":           &cfg.Storage.Type,
		"SANDPIT_AUTH_TYPE":         &cfg.Auth.Type,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SANDPIT_PORT":            &cfg.Server.Port,
		"SANDPIT_SESSION_TIMEOUT": &cfg.Session.DefaultTimeoutSeconds,
		"SANDPIT_STORAGE_SIZE":    &cfg.Storage.MaxSize,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	// SANDPIT_API_KEYS carries a JSON array of key configs, matching
	// the auth.api_keys YAML shape.
	if v := os.Getenv("SANDPIT_API_KEYS"); v != "" {
		var keys []APIKeyConfig
		if err := json.Unmarshal([]byte(v), &keys); err == nil && len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}
}

// loadSecrets fills each secret field from its *_file companion when
// the field itself is empty. An explicitly configured value always
// wins over the file.
func loadSecrets(cfg *Config) error {
	if err := secretFromFile(&cfg.Provider.Token, cfg.Provider.TokenFile, "provider.token_file"); err != nil {
		return err
	}
	if err := secretFromFile(&cfg.Storage.Postgres.DSN, cfg.Storage.Postgres.DSNFile, "storage.postgres.dsn_file"); err != nil {
		return err
	}
	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		if err := secretFromFile(&k.Key, k.KeyFile, fmt.Sprintf("auth.api_keys[%d].key_file", i)); err != nil {
			return err
		}
	}
	return nil
}

// secretFromFile reads path into *dst with surrounding whitespace
// trimmed. It is a no-op when path is empty or *dst is already set.
func secretFromFile(dst *string, path, label string) error {
	if path == "" || *dst != "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	*dst = strings.TrimSpace(string(data))
	return nil
}
