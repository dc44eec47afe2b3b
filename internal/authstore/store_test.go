package authstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/mcp-gateway/internal/authdomain"
)

func TestUserRoundTrip(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	now := time.Now()
	u := authdomain.NewUserFromProfile("user-1", authdomain.GitHubProfile{ID: 42, Login: "octocat"}, now)
	s.SaveUser(u)

	got, ok := s.GetUser("user-1")
	require.True(t, ok)
	assert.Equal(t, int64(42), got.GitHubID)

	got2, ok := s.GetUserByGitHubID(42)
	require.True(t, ok)
	assert.Equal(t, "user-1", got2.ID)

	_, ok = s.GetUser("missing")
	assert.False(t, ok)
}

func TestSessionRotationIsAtomic(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	now := time.Now()
	sess := authdomain.Session{
		ID: "sess-1", UserID: "user-1",
		AccessTokenJTI: "jti-a1", RefreshTokenJTI: "jti-r1",
		ExpiresAt: now.Add(time.Hour),
	}
	s.SaveSession(sess)

	_, ok := s.GetSessionByAccessJTI("jti-a1")
	require.True(t, ok)

	s.UpdateSessionTokens("sess-1", "jti-a2", "jti-r2", now)

	_, ok = s.GetSessionByAccessJTI("jti-a1")
	assert.False(t, ok, "old access jti must no longer resolve")
	_, ok = s.GetSessionByRefreshJTI("jti-r1")
	assert.False(t, ok, "old refresh jti must no longer resolve")

	got, ok := s.GetSessionByAccessJTI("jti-a2")
	require.True(t, ok)
	assert.Equal(t, "sess-1", got.ID)
}

func TestAuthorizationCodeLifecycle(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	now := time.Now()
	code := authdomain.AuthorizationCode{Code: "abc", ExpiresAt: now.Add(time.Minute)}
	s.SaveAuthorizationCode(code)

	got, ok := s.GetAuthorizationCode("abc")
	require.True(t, ok)
	assert.True(t, got.IsValid(now))

	s.MarkAuthorizationCodeUsed("abc")
	got, ok = s.GetAuthorizationCode("abc")
	require.True(t, ok)
	assert.False(t, got.IsValid(now))

	s.DeleteAuthorizationCode("abc")
	_, ok = s.GetAuthorizationCode("abc")
	assert.False(t, ok)
}

func TestSweepRemovesExpiredCodesAndSessions(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	now := time.Now()

	s.SaveAuthorizationCode(authdomain.AuthorizationCode{Code: "expired", ExpiresAt: now.Add(-time.Second)})
	s.SaveAuthorizationCode(authdomain.AuthorizationCode{Code: "fresh", ExpiresAt: now.Add(time.Hour)})

	s.SaveSession(authdomain.Session{ID: "old", AccessTokenJTI: "a-old", RefreshTokenJTI: "r-old", ExpiresAt: now.Add(-time.Second)})
	s.SaveSession(authdomain.Session{ID: "new", AccessTokenJTI: "a-new", RefreshTokenJTI: "r-new", ExpiresAt: now.Add(time.Hour)})

	remaining := s.Sweep(now)
	assert.Equal(t, 1, remaining)

	_, ok := s.GetAuthorizationCode("expired")
	assert.False(t, ok)
	_, ok = s.GetAuthorizationCode("fresh")
	assert.True(t, ok)

	_, ok = s.GetSession("old")
	assert.False(t, ok)
	_, ok = s.GetSessionByAccessJTI("a-old")
	assert.False(t, ok)
	_, ok = s.GetSession("new")
	assert.True(t, ok)
}

func TestPendingAuthorizationRoundTrip(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	p := authdomain.PendingAuthorization{ClientID: "client-1"}
	s.SavePendingAuthorization("state-1", p)

	got, ok := s.GetPendingAuthorization("state-1")
	require.True(t, ok)
	assert.Equal(t, "client-1", got.ClientID)

	s.DeletePendingAuthorization("state-1")
	_, ok = s.GetPendingAuthorization("state-1")
	assert.False(t, ok)
}
