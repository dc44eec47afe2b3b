// Package idp wraps the upstream identity provider: GitHub OAuth App code
// exchange and profile/organization retrieval. GitHub's OAuth
// implementation does not itself support PKCE, so PKCE is enforced
// entirely at the gateway's own authorization-server layer; this client
// only ever speaks GitHub's plain authorization-code flow.
package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/ethpandaops/mcp-gateway/internal/authdomain"
)

const (
	authorizeURL = "https://github.com/login/oauth/authorize"
	tokenURL     = "https://github.com/login/oauth/access_token"
	apiURL       = "https://api.github.com"

	// DefaultScope requests the minimum needed to check org membership.
	DefaultScope = "read:user read:org"

	maxResponseSize = 64 * 1024

	userAgent = "mcp-gateway/1.0"

	// rateLimitRPS and rateLimitBurst bound local request volume against
	// GitHub's API, so a gateway bug or a burst of logins is throttled
	// locally before it reaches GitHub.
	rateLimitRPS   = 10
	rateLimitBurst = 20
)

// Error wraps a failed response from the upstream provider: a non-2xx
// status, or a token-exchange 200 response whose body carries an OAuth
// error or no access token.
type Error struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("github %s failed: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Config configures a GitHub OAuth App client.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scope        string
}

// Client exchanges authorization codes and fetches profile data from
// GitHub's REST API.
type Client struct {
	cfg         Config
	httpClient  *http.Client
	oauth2Cfg   oauth2.Config
	rateLimiter *rate.Limiter

	// authorizeURL, tokenURL, and apiURL default to github.com's endpoints.
	// Tests override them to point at a local fixture server.
	authorizeURL string
	tokenURL     string
	apiURL       string
}

// Option customizes a Client constructed by New. The zero set of options
// talks to github.com; callers (tests, primarily) point a Client at a
// fixture server by overriding one or more endpoints.
type Option func(*Client)

// WithEndpoints overrides the authorize, token, and API base URLs. An
// empty string leaves the corresponding default in place.
func WithEndpoints(authorize, token, api string) Option {
	return func(c *Client) {
		if authorize != "" {
			c.authorizeURL = authorize
		}
		if token != "" {
			c.tokenURL = token
		}
		if api != "" {
			c.apiURL = api
		}
	}
}

// New constructs a Client from cfg.
func New(cfg Config, opts ...Option) *Client {
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	c := &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		rateLimiter:  rate.NewLimiter(rateLimitRPS, rateLimitBurst),
		authorizeURL: authorizeURL,
		tokenURL:     tokenURL,
		apiURL:       apiURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.oauth2Cfg = oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURI,
		Scopes:       strings.Split(c.cfg.Scope, " "),
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.authorizeURL,
			TokenURL: c.tokenURL,
		},
	}
	return c
}

// BuildAuthURL builds the URL to redirect the user agent to in order to
// begin the upstream GitHub authorization flow, bound to state.
func (c *Client) BuildAuthURL(state string) string {
	return c.oauth2Cfg.AuthCodeURL(state)
}

// ExchangeCode exchanges a GitHub authorization code for an access token.
//
// This does not use oauth2.Config.Exchange: GitHub's token endpoint returns
// OAuth errors ("bad_verification_code" and similar) as HTTP 200 with an
// "error" field in the JSON body rather than a non-2xx status, a
// long-standing GitHub-specific quirk, so the error path is checked
// explicitly against the decoded body instead of the response status.
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	body, status, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &Error{Op: "token exchange", StatusCode: status, Body: string(body)}
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		Scope       string `json:"scope"`
		Error       string `json:"error"`
		ErrorDesc   string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode token exchange response: %w", err)
	}
	if resp.Error != "" {
		return "", &Error{Op: "token exchange", StatusCode: status, Body: resp.Error + ": " + resp.ErrorDesc}
	}
	if resp.AccessToken == "" {
		return "", &Error{Op: "token exchange", StatusCode: status, Body: "empty access_token in response"}
	}
	return resp.AccessToken, nil
}

// GetProfile fetches the user's profile and organization memberships with
// the given GitHub access token.
func (c *Client) GetProfile(ctx context.Context, accessToken string) (authdomain.GitHubProfile, error) {
	var user struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := c.getJSON(ctx, "/user", accessToken, &user); err != nil {
		return authdomain.GitHubProfile{}, err
	}

	orgs, err := c.getOrganizations(ctx, accessToken)
	if err != nil {
		return authdomain.GitHubProfile{}, err
	}

	return authdomain.GitHubProfile{
		ID:            user.ID,
		Login:         user.Login,
		Name:          user.Name,
		Email:         user.Email,
		AvatarURL:     user.AvatarURL,
		Organizations: orgs,
	}, nil
}

// RefreshOrganizations re-fetches only the organization memberships for an
// already-known user. The authorization server's refresh grant does not
// call it.
func (c *Client) RefreshOrganizations(ctx context.Context, accessToken string) ([]string, error) {
	return c.getOrganizations(ctx, accessToken)
}

func (c *Client) getOrganizations(ctx context.Context, accessToken string) ([]string, error) {
	var orgs []struct {
		Login string `json:"login"`
	}
	if err := c.getJSON(ctx, "/user/orgs", accessToken, &orgs); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, o.Login)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path, accessToken string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)

	body, status, err := c.do(req)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &Error{Op: path, StatusCode: status, Body: string(body)}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response for %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	if err := c.rateLimiter.Wait(req.Context()); err != nil {
		return nil, 0, fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
