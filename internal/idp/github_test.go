package idp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAuthURL(t *testing.T) {
	t.Parallel()
	c := New(Config{ClientID: "cid", RedirectURI: "https://gateway.example.com/auth/github/callback"})
	u := c.BuildAuthURL("state-123")
	assert.Contains(t, u, "client_id=cid")
	assert.Contains(t, u, "state=state-123")
	assert.Contains(t, u, "read%3Auser+read%3Aorg")
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()
	err := &Error{Op: "token exchange", StatusCode: 400, Body: "bad_verification_code"}
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "bad_verification_code")
}

func TestExchangeCodeSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": "gho_abc123",
			"token_type":   "bearer",
			"scope":        "read:user,read:org",
		})
	}))
	defer srv.Close()

	c := New(Config{ClientID: "cid", ClientSecret: "secret"}, WithEndpoints("", srv.URL, ""))

	token, err := c.ExchangeCode(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "gho_abc123", token)
}

func TestExchangeCodeErrorBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "bad_verification_code",
			"error_description": "The code passed is incorrect or expired.",
		})
	}))
	defer srv.Close()

	c := New(Config{ClientID: "cid", ClientSecret: "secret"}, WithEndpoints("", srv.URL, ""))

	_, err := c.ExchangeCode(context.Background(), "bad-code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad_verification_code")
}

func TestGetProfile(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/user":
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 1, "login": "octocat"})
		case "/user/orgs":
			_ = json.NewEncoder(w).Encode([]map[string]string{{"login": "octo-org"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(Config{}, WithEndpoints("", "", srv.URL))

	profile, err := c.GetProfile(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, "octocat", profile.Login)
	assert.Equal(t, []string{"octo-org"}, profile.Organizations)
	assert.True(t, profile.IsMemberOf([]string{"octo-org"}))
	assert.False(t, profile.IsMemberOf([]string{"other-org"}))
}
