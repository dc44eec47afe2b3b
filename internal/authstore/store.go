// Package authstore is the single mutation point for every piece of
// authorization state: users, sessions, authorization codes, and pending
// authorizations. All of it lives in-memory, guarded by one lock, and is
// swept periodically for expired entries.
package authstore

import (
	"context"
	"sync"
	"time"

	"github.com/ethpandaops/mcp-gateway/internal/authdomain"
	"github.com/ethpandaops/mcp-gateway/internal/logging"
)

// UserRepo manages User records.
type UserRepo interface {
	GetUser(id string) (authdomain.User, bool)
	GetUserByGitHubID(githubID int64) (authdomain.User, bool)
	SaveUser(u authdomain.User)
	UpdateUserOrgs(userID string, orgs []string, now time.Time)
}

// SessionRepo manages Session records and their jti reverse indices.
type SessionRepo interface {
	GetSession(id string) (authdomain.Session, bool)
	GetSessionByAccessJTI(jti string) (authdomain.Session, bool)
	GetSessionByRefreshJTI(jti string) (authdomain.Session, bool)
	SaveSession(s authdomain.Session)
	RevokeSession(id string)
	UpdateSessionTokens(sessionID, accessJTI, refreshJTI string, now time.Time)
}

// CodeRepo manages single-use authorization codes.
type CodeRepo interface {
	GetAuthorizationCode(code string) (authdomain.AuthorizationCode, bool)
	SaveAuthorizationCode(c authdomain.AuthorizationCode)
	MarkAuthorizationCodeUsed(code string)
	DeleteAuthorizationCode(code string)
}

// PendingRepo manages in-flight authorize requests, keyed by the state
// value minted for the upstream IdP redirect.
type PendingRepo interface {
	SavePendingAuthorization(state string, p authdomain.PendingAuthorization)
	GetPendingAuthorization(state string) (authdomain.PendingAuthorization, bool)
	DeletePendingAuthorization(state string)
}

// Store is the full authorization data-access surface.
type Store interface {
	UserRepo
	SessionRepo
	CodeRepo
	PendingRepo
	// Sweep removes expired authorization codes and sessions, returning the
	// number of sessions still active afterward.
	Sweep(now time.Time) int
}

// Memory is the in-process Store implementation. A single RWMutex guards
// every map: readers (token validation, lookups) take the shared lock,
// writers (code consumption, session rotation, revocation) take the
// exclusive lock, so rotation and consumption can never interleave.
type Memory struct {
	mu sync.RWMutex

	users           map[string]authdomain.User
	usersByGitHubID map[int64]string

	sessions             map[string]authdomain.Session
	sessionsByAccessJTI  map[string]string
	sessionsByRefreshJTI map[string]string

	codes   map[string]authdomain.AuthorizationCode
	pending map[string]authdomain.PendingAuthorization
}

// NewMemory constructs an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		users:                make(map[string]authdomain.User),
		usersByGitHubID:      make(map[int64]string),
		sessions:             make(map[string]authdomain.Session),
		sessionsByAccessJTI:  make(map[string]string),
		sessionsByRefreshJTI: make(map[string]string),
		codes:                make(map[string]authdomain.AuthorizationCode),
		pending:              make(map[string]authdomain.PendingAuthorization),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) GetUser(id string) (authdomain.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok
}

func (m *Memory) GetUserByGitHubID(githubID int64) (authdomain.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usersByGitHubID[githubID]
	if !ok {
		return authdomain.User{}, false
	}
	u, ok := m.users[id]
	return u, ok
}

func (m *Memory) SaveUser(u authdomain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.usersByGitHubID[u.GitHubID] = u.ID
}

func (m *Memory) UpdateUserOrgs(userID string, orgs []string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return
	}
	u.Organizations = orgs
	u.UpdatedAt = now
	m.users[userID] = u
}

func (m *Memory) GetSession(id string) (authdomain.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Memory) GetSessionByAccessJTI(jti string) (authdomain.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sessionsByAccessJTI[jti]
	if !ok {
		return authdomain.Session{}, false
	}
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Memory) GetSessionByRefreshJTI(jti string) (authdomain.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sessionsByRefreshJTI[jti]
	if !ok {
		return authdomain.Session{}, false
	}
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Memory) SaveSession(s authdomain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	m.sessionsByAccessJTI[s.AccessTokenJTI] = s.ID
	m.sessionsByRefreshJTI[s.RefreshTokenJTI] = s.ID
}

func (m *Memory) RevokeSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.Revoked = true
	m.sessions[id] = s
}

// UpdateSessionTokens rotates a session onto a new access/refresh jti pair.
// The old jti->session mappings are removed before the new ones are
// installed, so a lookup never observes both the old and new jti pointing
// at a live session simultaneously.
func (m *Memory) UpdateSessionTokens(sessionID, accessJTI, refreshJTI string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	delete(m.sessionsByAccessJTI, s.AccessTokenJTI)
	delete(m.sessionsByRefreshJTI, s.RefreshTokenJTI)

	s.AccessTokenJTI = accessJTI
	s.RefreshTokenJTI = refreshJTI
	s.LastUsedAt = now
	m.sessions[sessionID] = s

	m.sessionsByAccessJTI[accessJTI] = sessionID
	m.sessionsByRefreshJTI[refreshJTI] = sessionID
}

func (m *Memory) GetAuthorizationCode(code string) (authdomain.AuthorizationCode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.codes[code]
	return c, ok
}

func (m *Memory) SaveAuthorizationCode(c authdomain.AuthorizationCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[c.Code] = c
}

func (m *Memory) MarkAuthorizationCodeUsed(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return
	}
	c.Used = true
	m.codes[code] = c
}

func (m *Memory) DeleteAuthorizationCode(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, code)
}

func (m *Memory) SavePendingAuthorization(state string, p authdomain.PendingAuthorization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[state] = p
}

func (m *Memory) GetPendingAuthorization(state string) (authdomain.PendingAuthorization, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pending[state]
	return p, ok
}

func (m *Memory) DeletePendingAuthorization(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, state)
}

// Sweep removes expired authorization codes and sessions, along with the
// session jti reverse-index entries they leave behind, and returns the
// number of sessions still active (unexpired and not revoked) afterward.
func (m *Memory) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	for code, c := range m.codes {
		if c.IsExpired(now) {
			delete(m.codes, code)
		}
	}

	active := 0
	for id, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessionsByAccessJTI, s.AccessTokenJTI)
			delete(m.sessionsByRefreshJTI, s.RefreshTokenJTI)
			delete(m.sessions, id)
			continue
		}
		if !s.Revoked {
			active++
		}
	}

	return active
}

// SessionGauge receives the active-session count after each sweep, typically
// observability.Recorder.SetActiveSessions.
type SessionGauge interface {
	SetActiveSessions(n int)
}

// RunSweeper starts a background goroutine that sweeps the store on every
// tick until ctx is cancelled, reporting the post-sweep active-session count
// to gauge if non-nil.
func RunSweeper(ctx context.Context, store Store, interval time.Duration, gauge SessionGauge) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n := store.Sweep(time.Now())
				if gauge != nil {
					gauge.SetActiveSessions(n)
				}
				logging.Debug("authstore: swept expired codes and sessions")
			}
		}
	}()
}
