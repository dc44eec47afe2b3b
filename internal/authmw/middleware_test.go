package authmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/mcp-gateway/internal/authdomain"
	"github.com/ethpandaops/mcp-gateway/internal/authstore"
	"github.com/ethpandaops/mcp-gateway/internal/tokens"
)

func newTestMiddleware(t *testing.T) (*Middleware, *tokens.Manager, authstore.Store) {
	t.Helper()
	tm, err := tokens.NewManager(tokens.Config{SecretKey: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)
	store := authstore.NewMemory()
	store.SaveUser(authdomain.User{ID: "user-1", GitHubLogin: "octocat"})

	mw := New(Config{
		Tokens:               tm,
		Store:                store,
		Resource:             "https://gateway.example.com",
		PublicPaths:          map[string]struct{}{"/health": {}},
		PublicPrefixes:       []string{"/.well-known/"},
		ResourceMetadataURL:  "https://gateway.example.com/.well-known/oauth-protected-resource",
	})
	return mw, tm, store
}

func TestMiddlewareAllowsPublicPaths(t *testing.T) {
	t.Parallel()
	mw, _, _ := newTestMiddleware(t)
	called := false
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	t.Parallel()
	mw, _, _ := newTestMiddleware(t)
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "resource_metadata=")
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	t.Parallel()
	mw, tm, store := newTestMiddleware(t)
	access, accessJTI, _, refreshJTI, err := tm.IssuePair("user-1", "client-1", "tools:run", "https://gateway.example.com", time.Now())
	require.NoError(t, err)
	store.SaveSession(authdomain.Session{
		ID:              "session-1",
		UserID:          "user-1",
		AccessTokenJTI:  accessJTI,
		RefreshTokenJTI: refreshJTI,
		ClientID:        "client-1",
		Scope:           "tools:run",
		Resource:        "https://gateway.example.com",
		ExpiresAt:       time.Now().Add(time.Hour),
	})

	var gotIdentity Identity
	var hasScope bool
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		require.True(t, ok)
		gotIdentity = id
		hasScope = RequireScope(r.Context(), "tools:run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "octocat", gotIdentity.User.GitHubLogin)
	assert.True(t, hasScope)
}
