package authserver

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/mcp-gateway/internal/authstore"
	"github.com/ethpandaops/mcp-gateway/internal/idp"
	"github.com/ethpandaops/mcp-gateway/internal/observability"
	"github.com/ethpandaops/mcp-gateway/internal/tokens"
)

// ClientConfig describes one registered public OAuth client. Clients are
// always public: PKCE is the only client authentication this server
// performs (see DESIGN.md for the reasoning behind advertising
// token_endpoint_auth_methods_supported=["none"]).
type ClientConfig struct {
	ID           string
	RedirectURIs []string
}

// Config configures a Server.
type Config struct {
	// BaseURL is this server's own externally reachable origin, with no
	// trailing slash. It is the issuer advertised in the discovery
	// documents and the audience this server requires on refresh tokens and
	// on userinfo access tokens. The iss claim of minted tokens comes from
	// the token manager's own configuration, not from BaseURL.
	BaseURL string

	Store            authstore.Store
	Tokens           *tokens.Manager
	IdentityProvider *idp.Client
	AllowedOrgs      []string
	Clients          map[string]ClientConfig

	// Metrics, if set, records an outcome for every token issuance, refresh,
	// and userinfo bearer-token check this server performs.
	Metrics *observability.Recorder

	// ScopesSupported is advertised verbatim in both discovery documents'
	// scopes_supported fields. The authorization server does not itself
	// interpret scope strings beyond passing them through to issued
	// tokens; the tool surface (internal/gateway) defines their meaning.
	ScopesSupported []string

	AuthorizationCodeTTL time.Duration
	SessionTTL           time.Duration

	// ResourceMetadataPath, when set, points the protected-resource
	// document's resource_metadata field at this path. Defaults to
	// WellKnownProtectedResourcePath.
	ResourceMetadataPath string
}

func (c *Config) applyDefaults() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.AuthorizationCodeTTL <= 0 {
		c.AuthorizationCodeTTL = 10 * time.Minute
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * 24 * time.Hour
	}
	if c.ResourceMetadataPath == "" {
		c.ResourceMetadataPath = WellKnownProtectedResourcePath
	}
}

// Validate checks that the configuration is complete enough to serve
// requests, returning a descriptive error for the first problem found.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("authserver: base URL is required")
	}
	if c.Store == nil {
		return fmt.Errorf("authserver: store is required")
	}
	if c.Tokens == nil {
		return fmt.Errorf("authserver: token manager is required")
	}
	if c.IdentityProvider == nil {
		return fmt.Errorf("authserver: identity provider client is required")
	}
	if len(c.Clients) == 0 {
		return fmt.Errorf("authserver: at least one client must be registered")
	}
	for id, cl := range c.Clients {
		if cl.ID == "" {
			return fmt.Errorf("authserver: client %q missing id", id)
		}
		if len(cl.RedirectURIs) == 0 {
			return fmt.Errorf("authserver: client %q must register at least one redirect_uri", id)
		}
	}
	return nil
}
