// Command server runs the relaybridge OpenResponses gateway.
//
// Configuration can be provided via:
//   - YAML config file (--config flag, RELAYBRIDGE_CONFIG env, ./config.yaml, /etc/relaybridge/config.yaml)
//   - Environment variables with RELAYBRIDGE_ prefix (override config file values)
//   - Legacy env vars: RELAYBRIDGE_BACKEND_URL, RELAYBRIDGE_MODEL, RELAYBRIDGE_PORT, etc.
//
// See pkg/config for the available settings.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/relaybridge/relaybridge/pkg/auth"
	"github.com/relaybridge/relaybridge/pkg/auth/apikey"
	"github.com/relaybridge/relaybridge/pkg/auth/jwt"
	"github.com/relaybridge/relaybridge/pkg/auth/noop"
	"github.com/relaybridge/relaybridge/pkg/config"
	"github.com/relaybridge/relaybridge/pkg/engine"
	"github.com/relaybridge/relaybridge/pkg/observability"
	"github.com/relaybridge/relaybridge/pkg/provider"
	"github.com/relaybridge/relaybridge/pkg/provider/litellm"
	"github.com/relaybridge/relaybridge/pkg/provider/vllm"
	"github.com/relaybridge/relaybridge/pkg/storage/memory"
	"github.com/relaybridge/relaybridge/pkg/storage/postgres"
	"github.com/relaybridge/relaybridge/pkg/tools"
	"github.com/relaybridge/relaybridge/pkg/tools/builtins/codeinterpreter"
	ciKubernetes "github.com/relaybridge/relaybridge/pkg/tools/builtins/codeinterpreter/kubernetes"
	mcptools "github.com/relaybridge/relaybridge/pkg/tools/mcp"
	"github.com/relaybridge/relaybridge/pkg/tools/registry"
	"github.com/relaybridge/relaybridge/pkg/transport"
	transporthttp "github.com/relaybridge/relaybridge/pkg/transport/http"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse command-line flags.
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// Load configuration (YAML file + env overrides + defaults).
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// Create provider from config.
	prov, err := createProvider(cfg)
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}
	defer prov.Close()

	// Create storage from config.
	store, err := createStore(cfg)
	if err != nil {
		return fmt.Errorf("creating storage: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	// Create MCP registry if configured.
	var executors []tools.ToolExecutor
	mcpRegistry, err := createMCPRegistry(cfg)
	if err != nil {
		return fmt.Errorf("creating MCP registry: %w", err)
	}
	if mcpRegistry != nil {
		executors = append(executors, mcpRegistry)
		defer mcpRegistry.Close()
	}

	// Create the built-in sandboxed code execution registry if configured.
	sandboxRegistry, err := createSandboxRegistry(cfg)
	if err != nil {
		return fmt.Errorf("creating sandbox registry: %w", err)
	}
	if sandboxRegistry != nil {
		executors = append(executors, sandboxRegistry)
		defer sandboxRegistry.Close()
	}

	// Create engine.
	eng, err := engine.New(prov, store, engine.Config{
		DefaultModel: cfg.Engine.DefaultModel,
		IterationCap: cfg.Engine.MaxTurns,
		Executors:    executors,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	// Create HTTP adapter.
	adapter := transporthttp.NewAdapter(eng, store, transporthttp.DefaultConfig())

	// Build auth chain from config.
	authChain := buildAuthChain(cfg)

	// Build HTTP mux with health endpoint.
	mux := http.NewServeMux()
	mux.Handle("/", adapter.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	// Register Prometheus metrics endpoint if enabled.
	if cfg.Observability.Metrics.Enabled {
		metricsPath := cfg.Observability.Metrics.Path
		mux.Handle("GET "+metricsPath, promhttp.Handler())
		slog.Info("metrics endpoint enabled", "path", metricsPath)
	}

	// Wrap with CORS middleware (for browser-based compliance testing).
	var handler http.Handler = corsMiddleware(mux)

	// Wrap with metrics middleware (before auth so all requests are counted).
	if cfg.Observability.Metrics.Enabled {
		handler = observability.MetricsMiddleware(handler)
	}

	// Wrap with auth middleware.
	if authChain != nil {
		authMiddleware := auth.Middleware(authChain, nil, auth.DefaultBypassEndpoints)
		handler = authMiddleware(handler)
	}

	// Create server with configured timeouts.
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in background.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting",
			"port", cfg.Server.Port,
			"backend", cfg.Engine.BackendURL,
			"provider", cfg.Engine.Provider,
			"model", cfg.Engine.DefaultModel,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error.
	select {
	case <-ctx.Done():
		slog.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// createProvider creates a provider.Provider from the config.
func createProvider(cfg *config.Config) (provider.Provider, error) {
	switch cfg.Engine.Provider {
	case "vllm", "":
		return vllm.New(vllm.Config{
			BaseURL: cfg.Engine.BackendURL,
			APIKey:  cfg.Engine.APIKey,
			Timeout: cfg.Server.WriteTimeout,
		})

	case "litellm":
		return litellm.New(litellm.Config{
			BaseURL: cfg.Engine.BackendURL,
			APIKey:  cfg.Engine.APIKey,
			Timeout: cfg.Server.WriteTimeout,
		})

	default:
		return nil, fmt.Errorf("unknown provider type %q (supported: vllm, litellm)", cfg.Engine.Provider)
	}
}

// createStore creates a ResponseStore from the config.
func createStore(cfg *config.Config) (transport.ResponseStore, error) {
	switch cfg.Storage.Type {
	case "memory":
		store := memory.New(cfg.Storage.MaxSize)
		slog.Info("storage enabled", "type", "memory", "max_size", cfg.Storage.MaxSize)
		return store, nil

	case "postgres":
		store, err := postgres.New(context.Background(), postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres", "migrate_on_start", cfg.Storage.Postgres.MigrateOnStart)
		return store, nil

	default:
		slog.Info("storage disabled")
		return nil, nil
	}
}

// createMCPRegistry builds an MCP tool Registry from the config, connecting
// to every configured server and discovering its tools before returning.
// Returns nil if no MCP servers are configured.
func createMCPRegistry(cfg *config.Config) (*mcptools.Registry, error) {
	if len(cfg.MCP.Servers) == 0 {
		return nil, nil
	}

	servers := make([]mcptools.ServerConfig, 0, len(cfg.MCP.Servers))
	for _, serverCfg := range cfg.MCP.Servers {
		if serverCfg.Name == "" {
			return nil, fmt.Errorf("MCP server config missing 'name'")
		}
		if serverCfg.Transport != "stdio" && serverCfg.URL == "" {
			return nil, fmt.Errorf("MCP server %q missing 'url'", serverCfg.Name)
		}
		if serverCfg.Transport == "stdio" && serverCfg.Command == "" {
			return nil, fmt.Errorf("MCP server %q missing 'command'", serverCfg.Name)
		}

		servers = append(servers, mcptools.ServerConfig{
			Name:      serverCfg.Name,
			Transport: serverCfg.Transport,
			URL:       serverCfg.URL,
			Command:   serverCfg.Command,
			Args:      serverCfg.Args,
			Env:       serverCfg.Env,
			Headers:   serverCfg.Headers,
			Auth:      buildMCPAuthConfig(serverCfg.Auth),
		})
	}

	registry, err := mcptools.Load(context.Background(), servers)
	if err != nil {
		return nil, err
	}

	for _, s := range servers {
		authType := s.Auth.Type
		if authType == "" {
			authType = "none"
		}
		slog.Info("MCP server loaded", "name", s.Name, "transport", s.Transport, "auth", authType)
	}

	return registry, nil
}

// createSandboxRegistry builds a registry.FunctionRegistry wrapping the
// built-in sandboxed code execution tool (builtin::execute_code), if
// sandbox.enabled is set. In URL mode the sandbox server address is static;
// in template mode a Kubernetes client is built and sandboxes are acquired
// via SandboxClaim CRDs.
func createSandboxRegistry(cfg *config.Config) (*registry.FunctionRegistry, error) {
	if !cfg.Sandbox.Enabled {
		return nil, nil
	}

	switch {
	case cfg.Sandbox.URL != "":
		ciProvider, err := codeinterpreter.New(map[string]any{
			"sandbox_url":       cfg.Sandbox.URL,
			"execution_timeout": float64(cfg.Sandbox.ExecutionTimeout),
			"claim_timeout":     float64(cfg.Sandbox.ClaimTimeout),
		})
		if err != nil {
			return nil, err
		}
		reg := registry.New()
		reg.Register(ciProvider)
		slog.Info("sandbox tool enabled", "mode", "url", "url", cfg.Sandbox.URL)
		return reg, nil

	case cfg.Sandbox.Template != "":
		restCfg, err := ctrl.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("loading kubernetes config: %w", err)
		}
		scheme, err := ciKubernetes.NewScheme()
		if err != nil {
			return nil, err
		}
		k8sClient, err := client.New(restCfg, client.Options{Scheme: scheme})
		if err != nil {
			return nil, fmt.Errorf("creating kubernetes client: %w", err)
		}
		acquirer := ciKubernetes.NewClaimAcquirer(
			k8sClient,
			cfg.Sandbox.Template,
			cfg.Sandbox.Namespace,
			time.Duration(cfg.Sandbox.ClaimTimeout)*time.Second,
		)
		ciProvider := codeinterpreter.NewWithAcquirer(acquirer, codeinterpreter.Config{
			SandboxTemplate:  cfg.Sandbox.Template,
			SandboxNamespace: cfg.Sandbox.Namespace,
			ExecutionTimeout: cfg.Sandbox.ExecutionTimeout,
			ClaimTimeout:     cfg.Sandbox.ClaimTimeout,
		})
		reg := registry.New()
		reg.Register(ciProvider)
		slog.Info("sandbox tool enabled", "mode", "template", "template", cfg.Sandbox.Template, "namespace", cfg.Sandbox.Namespace)
		return reg, nil

	default:
		return nil, fmt.Errorf("sandbox.enabled is true but neither sandbox.url nor sandbox.template is set")
	}
}

// buildMCPAuthConfig converts a config.MCPAuthConfig to the MCP package's MCPAuthConfig.
func buildMCPAuthConfig(authCfg config.MCPAuthConfig) mcptools.MCPAuthConfig {
	return mcptools.MCPAuthConfig{
		Type:             authCfg.Type,
		TokenURL:         authCfg.TokenURL,
		ClientID:         authCfg.ClientID,
		ClientIDFile:     authCfg.ClientIDFile,
		ClientSecret:     authCfg.ClientSecret,
		ClientSecretFile: authCfg.ClientSecretFile,
		Scopes:           authCfg.Scopes,
	}
}

// buildAuthChain creates an auth chain from config.
// Returns nil when auth is disabled (type=none).
func buildAuthChain(cfg *config.Config) *auth.AuthChain {
	switch cfg.Auth.Type {
	case "apikey":
		keys := convertAPIKeys(cfg.Auth.APIKeys)
		if len(keys) == 0 {
			slog.Warn("auth.type=apikey but no api_keys configured")
			return nil
		}
		slog.Info("auth enabled", "type", "apikey", "keys", len(keys))
		return &auth.AuthChain{
			Authenticators:  []auth.Authenticator{apikey.New(keys)},
			DefaultDecision: auth.No,
		}

	case "jwt":
		if cfg.Auth.JWT.JWKSURL == "" {
			slog.Warn("auth.type=jwt but no jwks_url configured")
			return nil
		}
		slog.Info("auth enabled", "type", "jwt", "issuer", cfg.Auth.JWT.Issuer)
		return &auth.AuthChain{
			Authenticators: []auth.Authenticator{jwt.New(jwt.Config{
				Issuer:      cfg.Auth.JWT.Issuer,
				Audience:    cfg.Auth.JWT.Audience,
				JWKSURL:     cfg.Auth.JWT.JWKSURL,
				UserClaim:   cfg.Auth.JWT.UserClaim,
				TenantClaim: cfg.Auth.JWT.TenantClaim,
				ScopesClaim: cfg.Auth.JWT.ScopesClaim,
			})},
			DefaultDecision: auth.No,
		}

	case "none", "":
		// No auth (development mode).
		return nil

	default:
		slog.Warn("unknown auth type, auth disabled", "type", cfg.Auth.Type)
		return nil
	}
}

// convertAPIKeys converts config API key entries to the apikey package format.
func convertAPIKeys(keys []config.APIKeyConfig) []apikey.RawKeyEntry {
	var entries []apikey.RawKeyEntry
	for _, k := range keys {
		metadata := map[string]string{}
		if k.TenantID != "" {
			metadata["tenant_id"] = k.TenantID
		}
		entries = append(entries, apikey.RawKeyEntry{
			Key: k.Key,
			Identity: auth.Identity{
				Subject:     k.Subject,
				ServiceTier: k.ServiceTier,
				Metadata:    metadata,
			},
		})
	}
	return entries
}

// corsMiddleware adds CORS headers for browser-based compliance testing.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Ensure the noop authenticator satisfies auth.Authenticator.
var _ auth.Authenticator = (*noop.Authenticator)(nil)
