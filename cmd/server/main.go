// Command server runs the sandpit sandbox session gateway.
//
// Configuration is loaded from a YAML file (see pkg/config for the
// discovery order) layered with SANDPIT_* environment variables:
//
//	SANDPIT_CONFIG        - Config file path
//	SANDPIT_SANDBOX_URL   - Sandbox server URL (provider mode "rest")
//	SANDPIT_SANDBOX_TOKEN - Sandbox server bearer token
//	SANDPIT_PORT          - Listen port (default: 8080)
//	SANDPIT_STORAGE       - Storage type: "memory" or "postgres"
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/sandpit-dev/sandpit/pkg/auth"
	"github.com/sandpit-dev/sandpit/pkg/auth/apikey"
	"github.com/sandpit-dev/sandpit/pkg/auth/jwt"
	"github.com/sandpit-dev/sandpit/pkg/config"
	"github.com/sandpit-dev/sandpit/pkg/debug"
	"github.com/sandpit-dev/sandpit/pkg/mcptool"
	"github.com/sandpit-dev/sandpit/pkg/observability"
	"github.com/sandpit-dev/sandpit/pkg/provider"
	"github.com/sandpit-dev/sandpit/pkg/provider/kubernetes"
	"github.com/sandpit-dev/sandpit/pkg/provider/rest"
	"github.com/sandpit-dev/sandpit/pkg/session"
	"github.com/sandpit-dev/sandpit/pkg/storage"
	"github.com/sandpit-dev/sandpit/pkg/storage/memory"
	"github.com/sandpit-dev/sandpit/pkg/storage/postgres"
	"github.com/sandpit-dev/sandpit/pkg/transport"
	transporthttp "github.com/sandpit-dev/sandpit/pkg/transport/http"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	debug.Init("", "")

	// Create provider.
	prov, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}

	// Create store.
	store, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	defer store.Close()

	// Create session registry with storage-backed audit records.
	registry := session.NewRegistry(prov, session.Config{
		IdleTimeoutSeconds: cfg.Session.DefaultTimeoutSeconds,
		ListPath:           cfg.Session.ListPath,
		Persist:            cfg.Session.Persist,
		Recorder:           storage.NewRecorder(store, slog.Default()),
	})

	srv := transporthttp.NewServer(registry, store, transporthttp.ServerConfig{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		MaxBodySize:  cfg.Server.MaxBodySize,
		DrainTimeout: cfg.Server.ShutdownTimeout,
		Wrap:         buildHTTPMiddleware(cfg, registry),
	})

	slog.Info("gateway starting",
		"port", cfg.Server.Port,
		"provider", cfg.Provider.Mode,
		"storage", cfg.Storage.Type,
		"auth", cfg.Auth.Type,
		"mcp", cfg.MCP.Enabled,
	)

	err = srv.Run()

	// Closing open sessions frees the remote sandboxes; records are
	// marked closed through the recorder.
	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	registry.CloseAll(closeCtx)

	return err
}

// buildProvider creates the sandbox provider selected by the config.
func buildProvider(cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider.Mode {
	case "rest":
		return rest.New(rest.Config{
			BaseURL:     cfg.Provider.URL,
			Token:       cfg.Provider.Token,
			HTTPTimeout: cfg.Provider.HTTPTimeout,
		})
	case "kubernetes":
		scheme, err := kubernetes.NewScheme()
		if err != nil {
			return nil, fmt.Errorf("building scheme: %w", err)
		}
		restCfg, err := ctrlconfig.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("loading kubeconfig: %w", err)
		}
		c, err := client.New(restCfg, client.Options{Scheme: scheme})
		if err != nil {
			return nil, fmt.Errorf("creating kubernetes client: %w", err)
		}
		return kubernetes.NewProvisioner(c, kubernetes.Config{
			Template:         cfg.Provider.SandboxTemplate,
			Namespace:        cfg.Provider.SandboxNamespace,
			Token:            cfg.Provider.Token,
			ProvisionTimeout: cfg.Provider.ProvisionTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown provider mode %q", cfg.Provider.Mode)
	}
}

// buildStore creates the session record store selected by the config.
func buildStore(cfg *config.Config) (transport.SessionStore, error) {
	switch cfg.Storage.Type {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("storage enabled", "type", "postgres")
		return store, nil
	default:
		slog.Info("storage enabled", "type", "memory", "max_size", cfg.Storage.MaxSize)
		return memory.New(cfg.Storage.MaxSize), nil
	}
}

// buildHTTPMiddleware composes the HTTP-level wrap applied around the
// transport adapter: extra endpoints (metrics, MCP), then authentication,
// then request metrics outermost.
func buildHTTPMiddleware(cfg *config.Config, registry *session.Registry) func(http.Handler) http.Handler {
	return func(inner http.Handler) http.Handler {
		mux := http.NewServeMux()
		mux.Handle("/", inner)

		bypass := []string{"/healthz"}
		if cfg.Observability.Metrics.Enabled {
			mux.Handle(cfg.Observability.Metrics.Path, promhttp.Handler())
			bypass = append(bypass, cfg.Observability.Metrics.Path)
		}
		if cfg.MCP.Enabled {
			mux.Handle(cfg.MCP.Path, mcptool.Handler(registry))
		}

		var handler http.Handler = mux
		if chain := buildVerifiers(cfg); chain != nil {
			handler = auth.Middleware(chain, buildLimiter(cfg), bypass)(handler)
		}
		if cfg.Observability.Metrics.Enabled {
			handler = observability.MetricsMiddleware(handler)
		}
		return handler
	}
}

// buildVerifiers creates the credential chain, or nil when auth is
// disabled.
func buildVerifiers(cfg *config.Config) *auth.Chain {
	switch cfg.Auth.Type {
	case "apikey":
		keys := make([]apikey.Key, 0, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			keys = append(keys, apikey.Key{
				Secret: k.Key,
				Caller: auth.Caller{
					Subject: k.Subject,
					Tenant:  k.TenantID,
					Tier:    k.ServiceTier,
					Scopes:  k.Scopes,
				},
			})
		}
		return &auth.Chain{Verifiers: []auth.Verifier{apikey.New(keys)}}
	case "jwt":
		return &auth.Chain{Verifiers: []auth.Verifier{jwt.New(jwt.Config{
			Issuer:       cfg.Auth.JWT.Issuer,
			Audience:     cfg.Auth.JWT.Audience,
			JWKSURL:      cfg.Auth.JWT.JWKSURL,
			SubjectClaim: cfg.Auth.JWT.UserClaim,
			TenantClaim:  cfg.Auth.JWT.TenantClaim,
			ScopesClaim:  cfg.Auth.JWT.ScopesClaim,
		})}}
	default:
		return nil
	}
}

// buildLimiter creates the per-tier limiter, or nil when disabled.
func buildLimiter(cfg *config.Config) auth.Limiter {
	if !cfg.Auth.RateLimit.Enabled {
		return nil
	}
	return auth.NewWindowLimiter(cfg.Auth.RateLimit.Tiers, cfg.Auth.RateLimit.DefaultRPM)
}
