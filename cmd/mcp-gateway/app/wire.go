package app

import (
	"context"
	"fmt"

	"github.com/ethpandaops/mcp-gateway/internal/authmw"
	"github.com/ethpandaops/mcp-gateway/internal/authserver"
	"github.com/ethpandaops/mcp-gateway/internal/authstore"
	"github.com/ethpandaops/mcp-gateway/internal/config"
	"github.com/ethpandaops/mcp-gateway/internal/gateway"
	"github.com/ethpandaops/mcp-gateway/internal/idp"
	"github.com/ethpandaops/mcp-gateway/internal/observability"
	"github.com/ethpandaops/mcp-gateway/internal/sandbox"
	"github.com/ethpandaops/mcp-gateway/internal/tokens"
)

// components holds every long-lived object the serve and stdio commands
// assemble from configuration before dispatching to a transport.
type components struct {
	cfg        *config.Config
	store      authstore.Store
	metrics    *observability.Recorder
	toolHandler *gateway.ToolHandler
	authServer *authserver.Server // nil when auth is disabled
	middleware *authmw.Middleware // nil when auth is disabled
	backend    sandbox.Backend
}

// assemble wires every component named in spec.md's config table together,
// failing fast (the process refuses to serve) on any of the Fatal-kind
// startup errors §7 names: missing signing key, unreachable container
// engine on the required path.
func assemble(ctx context.Context, cfg *config.Config) (*components, error) {
	metrics := observability.New()

	backend, err := sandbox.DefaultRegistry.New(ctx, cfg.Sandbox.Backend, sandboxConfig(cfg), metrics)
	if err != nil {
		return nil, fmt.Errorf("constructing sandbox backend: %w", err)
	}

	c := &components{
		cfg:     cfg,
		metrics: metrics,
		backend: backend,
		toolHandler: &gateway.ToolHandler{
			Backend:        backend,
			CredentialEnv:  gateway.CredentialEnv{},
			Metrics:        metrics,
			DefaultTimeout: cfg.Sandbox.Timeout,
			RequireAuth:    cfg.Auth.Enabled,
		},
	}

	if !cfg.Auth.Enabled {
		return c, nil
	}

	store := authstore.NewMemory()
	c.store = store

	tokenManager, err := tokens.NewManager(tokens.Config{
		SecretKey:       []byte(cfg.Auth.Tokens.SecretKey),
		Issuer:          cfg.Auth.Tokens.Issuer,
		AccessTokenTTL:  cfg.Auth.Tokens.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.Tokens.RefreshTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing token manager: %w", err)
	}

	identityProvider := idp.New(idp.Config{
		ClientID:     cfg.Auth.IdP.ClientID,
		ClientSecret: cfg.Auth.IdP.ClientSecret,
		RedirectURI:  cfg.Server.BaseURL + authserver.PathGitHubCallback,
	})

	clients := make(map[string]authserver.ClientConfig, len(cfg.Auth.Clients))
	for _, cl := range cfg.Auth.Clients {
		clients[cl.ID] = authserver.ClientConfig{ID: cl.ID, RedirectURIs: cl.RedirectURIs}
	}

	authSrv, err := authserver.New(authserver.Config{
		BaseURL:          cfg.Server.BaseURL,
		Store:            store,
		Tokens:           tokenManager,
		IdentityProvider: identityProvider,
		AllowedOrgs:      cfg.Auth.AllowedOrgs,
		Clients:          clients,
		ScopesSupported:  []string{gateway.ScopeExecute},
		Metrics:          metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing authorization server: %w", err)
	}
	c.authServer = authSrv

	c.middleware = authmw.New(authmw.Config{
		Tokens:   tokenManager,
		Store:    store,
		Resource: cfg.Server.BaseURL,
		Metrics:  metrics,
		PublicPaths: map[string]struct{}{
			"/":                 {},
			gateway.PathHealth:  {},
			gateway.PathReady:   {},
			gateway.PathMetrics: {},
		},
		PublicPrefixes:      []string{"/auth/", "/.well-known/"},
		ResourceMetadataURL: cfg.Server.BaseURL + authserver.WellKnownProtectedResourcePath,
	})

	return c, nil
}

func sandboxConfig(cfg *config.Config) sandbox.Config {
	return sandbox.Config{
		Image:                   cfg.Sandbox.Image,
		Network:                 cfg.Sandbox.Network,
		MemoryLimitBytes:        cfg.Sandbox.MemoryLimit,
		CPULimit:                cfg.Sandbox.CPULimit,
		DefaultTimeout:          cfg.Sandbox.Timeout,
		MaxTimeout:              cfg.Sandbox.Timeout,
		MaxConcurrentExecutions: cfg.Sandbox.MaxConcurrent,
	}
}
