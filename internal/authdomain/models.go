// Package authdomain holds the data model shared by the token manager,
// auth store, authorization server, and auth middleware: users, sessions,
// authorization codes, pending authorizations, and the claim set minted
// into access and refresh tokens.
package authdomain

import "time"

// GitHubProfile is the identity information retrieved from the upstream
// identity provider during the authorize callback. The refresh grant does
// not contact the provider: it re-checks the organizations recorded on the
// User at its last login.
type GitHubProfile struct {
	ID            int64
	Login         string
	Name          string
	Email         string
	AvatarURL     string
	Organizations []string
}

// IsMemberOf reports whether the profile belongs to at least one of the
// allowed organizations. An empty allow-list means every profile passes.
func (p GitHubProfile) IsMemberOf(allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, org := range p.Organizations {
		for _, want := range allowed {
			if org == want {
				return true
			}
		}
	}
	return false
}

// User is an authenticated principal, minted the first time a GitHub
// profile clears the organization policy check.
type User struct {
	ID            string
	GitHubID      int64
	GitHubLogin   string
	Name          string
	Email         string
	AvatarURL     string
	Organizations []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewUserFromProfile creates a User from a freshly retrieved GitHub profile.
func NewUserFromProfile(id string, p GitHubProfile, now time.Time) User {
	return User{
		ID:            id,
		GitHubID:      p.ID,
		GitHubLogin:   p.Login,
		Name:          p.Name,
		Email:         p.Email,
		AvatarURL:     p.AvatarURL,
		Organizations: p.Organizations,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Session tracks the lifetime of a token pair issued to a client on behalf
// of a user, indexed by both of its current token jtis so rotation and
// revocation can find it in O(1).
type Session struct {
	ID             string
	UserID         string
	AccessTokenJTI string
	RefreshTokenJTI string
	ClientID       string
	Scope          string
	Resource       string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastUsedAt     time.Time
	Revoked        bool
}

// IsValid reports whether the session may still be used to authenticate a
// request or refresh.
func (s Session) IsValid(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// AuthorizationCode is a single-use code exchanged for a token pair.
type AuthorizationCode struct {
	Code      string
	ClientID  string
	RedirectURI string
	Scope     string
	Resource  string
	UserID    string
	Challenge PKCEChallenge
	State     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// IsExpired reports whether the code has passed its TTL.
func (c AuthorizationCode) IsExpired(now time.Time) bool { return now.After(c.ExpiresAt) }

// IsValid reports whether the code is still usable: unused and unexpired.
func (c AuthorizationCode) IsValid(now time.Time) bool { return !c.Used && !c.IsExpired(now) }

// PendingAuthorization records the state of an in-flight authorize request
// between the redirect to the upstream identity provider and the callback
// that completes it. It is keyed by the state value minted for the
// upstream leg, which is distinct from the client's own state parameter.
type PendingAuthorization struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	Resource            string
	ClientState         string
	Challenge           PKCEChallenge
	UpstreamRedirectURI string
	CreatedAt           time.Time
}

// PKCEChallenge is the code_challenge presented at /authorize, verified
// against the code_verifier presented at /token.
type PKCEChallenge struct {
	ChallengeMethod string
	Challenge       string
}

// TokenClaims is the decoded, validated claim set carried by an access or
// refresh token.
type TokenClaims struct {
	JTI       string
	Subject   string
	Audience  string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Scope     string
	ClientID  string
	TokenType string
}
