// Package config loads and validates the gateway's runtime configuration
// from flags, environment variables, and an optional config file, via
// viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ethpandaops/mcp-gateway/internal/sandbox"
)

// AuthTokens configures the gateway's own access/refresh token issuance.
type AuthTokens struct {
	SecretKey       string        `mapstructure:"secret_key"`
	Issuer          string        `mapstructure:"issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// AuthIdP configures the upstream identity provider OAuth App.
type AuthIdP struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// ClientEntry registers one public OAuth client permitted to use this
// authorization server. Not part of spec.md's config table, but required
// to construct authserver.Config: at least one client must exist for the
// server to authorize anything against.
type ClientEntry struct {
	ID           string   `mapstructure:"id"`
	RedirectURIs []string `mapstructure:"redirect_uris"`
}

// Auth configures the authorization server and its middleware.
type Auth struct {
	Enabled     bool          `mapstructure:"enabled"`
	AllowedOrgs []string      `mapstructure:"allowed_orgs"`
	Tokens      AuthTokens    `mapstructure:"tokens"`
	IdP         AuthIdP       `mapstructure:"idp"`
	Clients     []ClientEntry `mapstructure:"clients"`
}

// Server configures the gateway's own externally reachable origin.
type Server struct {
	BaseURL string `mapstructure:"base_url"`
	Addr    string `mapstructure:"addr"`
}

// Sandbox configures the code-execution backend.
type Sandbox struct {
	Backend       string        `mapstructure:"backend"`
	Image         string        `mapstructure:"image"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MemoryLimit   int64         `mapstructure:"memory_limit"`
	CPULimit      float64       `mapstructure:"cpu_limit"`
	Network       string        `mapstructure:"network"`
	MaxConcurrent int64         `mapstructure:"max_concurrent"`
}

// Config is the gateway's complete runtime configuration, assembled from
// defaults, an optional config file, environment variables prefixed
// MCP_GATEWAY_, and command-line flags, in ascending order of precedence.
type Config struct {
	Auth    Auth    `mapstructure:"auth"`
	Server  Server  `mapstructure:"server"`
	Sandbox Sandbox `mapstructure:"sandbox"`
}

// envPrefix is the environment-variable prefix viper binds every key
// under, so auth.tokens.secret_key becomes MCP_GATEWAY_AUTH_TOKENS_SECRET_KEY.
const envPrefix = "MCP_GATEWAY"

// New constructs a viper instance with defaults applied and environment
// binding configured, ready for flag binding by the caller before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.tokens.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.tokens.refresh_token_ttl", 30*24*time.Hour)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("sandbox.backend", sandbox.Generic)
	v.SetDefault("sandbox.timeout", 30*time.Second)
	v.SetDefault("sandbox.memory_limit", 512*1024*1024)
	v.SetDefault("sandbox.cpu_limit", 1.0)
	v.SetDefault("sandbox.network", "none")
	v.SetDefault("sandbox.max_concurrent", 8)

	return v
}

// Load reads the config file set on v (if any) and unmarshals the result
// into a Config, then validates it.
func Load(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() != "" || v.GetString("config") != "" {
		if path := v.GetString("config"); path != "" {
			v.SetConfigFile(path)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration is complete enough to start serving,
// returning a descriptive error for the first problem found. Startup
// fatal errors (missing signing key among them) are caught here rather
// than surfacing mid-request.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("config: server.base_url is required")
	}
	if c.Auth.Enabled {
		if c.Auth.Tokens.SecretKey == "" {
			return fmt.Errorf("config: auth.tokens.secret_key is required when auth is enabled")
		}
		if c.Auth.IdP.ClientID == "" || c.Auth.IdP.ClientSecret == "" {
			return fmt.Errorf("config: auth.idp.client_id and auth.idp.client_secret are required when auth is enabled")
		}
		if len(c.Auth.Clients) == 0 {
			return fmt.Errorf("config: at least one entry under auth.clients is required when auth is enabled")
		}
	}
	switch c.Sandbox.Backend {
	case sandbox.Generic, sandbox.Hardened:
	default:
		return fmt.Errorf("config: sandbox.backend must be %q or %q, got %q", sandbox.Generic, sandbox.Hardened, c.Sandbox.Backend)
	}
	if c.Sandbox.Image == "" {
		return fmt.Errorf("config: sandbox.image is required")
	}
	return nil
}
