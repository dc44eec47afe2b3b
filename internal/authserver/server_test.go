package authserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/mcp-gateway/internal/authstore"
	"github.com/ethpandaops/mcp-gateway/internal/idp"
	"github.com/ethpandaops/mcp-gateway/internal/pkce"
	"github.com/ethpandaops/mcp-gateway/internal/tokens"
)

const testResource = "https://mcp.example.com"

type fixture struct {
	authServer *httptest.Server
	github     *httptest.Server
	client     *http.Client
}

func newFixture(t *testing.T, allowedOrgs []string, githubOrgs []string) *fixture {
	t.Helper()

	github := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "gh-token-1", "token_type": "bearer"})
		case "/user":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 99, "login": "octocat", "name": "The Octocat"})
		case "/user/orgs":
			orgs := make([]map[string]string, 0, len(githubOrgs))
			for _, o := range githubOrgs {
				orgs = append(orgs, map[string]string{"login": o})
			}
			_ = json.NewEncoder(w).Encode(orgs)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(github.Close)

	idpClient := idp.New(idp.Config{ClientID: "gh-client", ClientSecret: "gh-secret"},
		idp.WithEndpoints(github.URL+"/authorize", github.URL+"/token", github.URL))

	tm, err := tokens.NewManager(tokens.Config{SecretKey: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)

	store := authstore.NewMemory()

	var authHTTP *httptest.Server
	srv, err := New(Config{
		BaseURL:          testResource,
		Store:            store,
		Tokens:           tm,
		IdentityProvider: idpClient,
		AllowedOrgs:      allowedOrgs,
		Clients: map[string]ClientConfig{
			"cli-tool": {ID: "cli-tool", RedirectURIs: []string{"http://127.0.0.1:9999/callback"}},
		},
	})
	require.NoError(t, err)

	authHTTP = httptest.NewServer(srv.Routes())
	t.Cleanup(authHTTP.Close)

	client := &http.Client{
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error { return http.ErrUseLastResponse },
	}

	return &fixture{authServer: authHTTP, github: github, client: client}
}

func (f *fixture) authorize(t *testing.T, redirectURI string, challenge pkce.Params) *url.URL {
	t.Helper()
	q := url.Values{}
	q.Set("client_id", "cli-tool")
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "tools:run")
	q.Set("state", "client-state-1")
	q.Set("code_challenge", challenge.CodeChallenge)
	q.Set("code_challenge_method", pkce.MethodS256)
	q.Set("resource", testResource)

	resp, err := f.client.Get(f.authServer.URL + PathAuthorize + "?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := resp.Location()
	require.NoError(t, err)
	return loc
}

func (f *fixture) githubCallback(t *testing.T, upstreamState string) *url.URL {
	t.Helper()
	q := url.Values{}
	q.Set("state", upstreamState)
	q.Set("code", "gh-code-1")

	resp, err := f.client.Get(f.authServer.URL + PathGitHubCallback + "?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("access denied: %s", body)
	}
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := resp.Location()
	require.NoError(t, err)
	return loc
}

func (f *fixture) exchangeToken(t *testing.T, form url.Values) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.PostForm(f.authServer.URL+PathToken, form)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestFullAuthorizationCodeFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []string{"octo-org"}, []string{"octo-org"})

	challenge, err := pkce.Generate()
	require.NoError(t, err)

	redirectURI := "http://127.0.0.1:5555/callback"
	authorizeLoc := f.authorize(t, redirectURI, challenge)
	upstreamState := authorizeLoc.Query().Get("state")
	assert.NotEmpty(t, upstreamState)

	clientLoc := f.githubCallback(t, upstreamState)
	assert.Equal(t, "client-state-1", clientLoc.Query().Get("state"))
	code := clientLoc.Query().Get("code")
	require.NotEmpty(t, code)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", "cli-tool")
	form.Set("code_verifier", challenge.CodeVerifier)
	form.Set("resource", testResource)

	resp, body := f.exchangeToken(t, form)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accessToken, _ := body["access_token"].(string)
	refreshToken, _ := body["refresh_token"].(string)
	require.NotEmpty(t, accessToken)
	require.NotEmpty(t, refreshToken)

	// Replaying the same code must fail.
	resp2, body2 := f.exchangeToken(t, form)
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	assert.Equal(t, "invalid_grant", body2["error"])

	// userinfo works with the access token.
	req, err := http.NewRequest(http.MethodGet, f.authServer.URL+PathUserinfo, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	uiResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer uiResp.Body.Close()
	assert.Equal(t, http.StatusOK, uiResp.StatusCode)
	var ui map[string]any
	require.NoError(t, json.NewDecoder(uiResp.Body).Decode(&ui))
	assert.Equal(t, "octocat", ui["preferred_username"])

	// Refresh rotates the token pair; the old refresh token stops working.
	refreshForm := url.Values{}
	refreshForm.Set("grant_type", "refresh_token")
	refreshForm.Set("refresh_token", refreshToken)
	refreshResp, refreshBody := f.exchangeToken(t, refreshForm)
	require.Equal(t, http.StatusOK, refreshResp.StatusCode)
	newAccess, _ := refreshBody["access_token"].(string)
	assert.NotEqual(t, accessToken, newAccess)

	staleResp, staleBody := f.exchangeToken(t, refreshForm)
	assert.Equal(t, http.StatusBadRequest, staleResp.StatusCode)
	assert.Equal(t, "invalid_grant", staleBody["error"])

	// Revocation always reports success.
	revokeResp, err := http.PostForm(f.authServer.URL+PathRevoke, url.Values{"token": {newAccess}})
	require.NoError(t, err)
	defer revokeResp.Body.Close()
	assert.Equal(t, http.StatusOK, revokeResp.StatusCode)
}

func TestOrgPolicyDeniesNonMembers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []string{"allowed-org"}, []string{"some-other-org"})

	challenge, err := pkce.Generate()
	require.NoError(t, err)
	redirectURI := "http://127.0.0.1:5555/callback"
	authorizeLoc := f.authorize(t, redirectURI, challenge)

	q := url.Values{}
	q.Set("state", authorizeLoc.Query().Get("state"))
	q.Set("code", "gh-code-1")
	resp, err := f.client.Get(f.authServer.URL + PathGitHubCallback + "?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestResourceMismatchRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, []string{"octo-org"})

	challenge, err := pkce.Generate()
	require.NoError(t, err)
	redirectURI := "http://127.0.0.1:5555/callback"
	authorizeLoc := f.authorize(t, redirectURI, challenge)
	clientLoc := f.githubCallback(t, authorizeLoc.Query().Get("state"))
	code := clientLoc.Query().Get("code")

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", "cli-tool")
	form.Set("code_verifier", challenge.CodeVerifier)
	form.Set("resource", "https://different-resource.example.com")

	resp, body := f.exchangeToken(t, form)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_target", body["error"])
}

func TestDiscoveryDocuments(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)

	resp, err := http.Get(f.authServer.URL + WellKnownAuthorizationServerPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	var meta map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
	assert.Equal(t, []any{"none"}, meta["token_endpoint_auth_methods_supported"])

	resp2, err := http.Get(f.authServer.URL + WellKnownProtectedResourcePath)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, "max-age=3600", resp2.Header.Get("Cache-Control"))
}

var _ = time.Second
