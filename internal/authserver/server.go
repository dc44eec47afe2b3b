// Package authserver implements the gateway's own OAuth 2.1 authorization
// server: the authorize/callback/token/revoke/userinfo endpoints and the
// discovery documents clients use to find them, fronting a GitHub OAuth
// App as the external identity provider and enforcing an organization
// allow-list before minting the gateway's own audience-bound tokens.
package authserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ethpandaops/mcp-gateway/internal/authdomain"
	"github.com/ethpandaops/mcp-gateway/internal/logging"
	"github.com/ethpandaops/mcp-gateway/internal/pkce"
	"github.com/ethpandaops/mcp-gateway/internal/tokens"
)

// Route paths exposed by this server.
const (
	PathAuthorize      = "/auth/authorize"
	PathGitHubCallback = "/auth/github/callback"
	PathToken          = "/auth/token"
	PathRevoke         = "/auth/revoke"
	PathUserinfo       = "/auth/userinfo"
	PathLogin          = "/auth/login"
)

// Server serves the authorization server's HTTP surface.
type Server struct {
	cfg Config

	// resourceDoc and serverDoc are immutable once constructed: cfg never
	// changes after New returns, so there is nothing to invalidate by
	// recomputing them on every discovery request.
	resourceDoc protectedResourceMetadata
	serverDoc   authorizationServerMetadata
}

// New constructs a Server, validating cfg and applying its defaults.
func New(cfg Config) (*Server, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg}
	s.resourceDoc = s.buildResourceMetadata()
	s.serverDoc = s.buildServerMetadata()
	return s, nil
}

// recordAttempt records an authentication attempt's outcome, if cfg.Metrics
// is configured.
func (s *Server) recordAttempt(outcome string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordAuthAttempt(outcome)
	}
}

// Routes returns the HTTP handler serving this server's well-known
// discovery documents and OAuth endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get(WellKnownProtectedResourcePath, s.handleProtectedResourceMetadata)
	r.Options(WellKnownProtectedResourcePath, s.handleProtectedResourceMetadata)
	r.Get(WellKnownAuthorizationServerPath, s.handleAuthorizationServerMetadata)
	r.Get(WellKnownOpenIDConfigurationPath, s.handleOpenIDConfiguration)

	r.Get(PathAuthorize, s.handleAuthorize)
	r.Get(PathGitHubCallback, s.handleGitHubCallback)
	r.Post(PathToken, s.handleToken)
	r.Post(PathRevoke, s.handleRevoke)
	r.Get(PathUserinfo, s.handleUserinfo)
	r.Get(PathLogin, s.handleLogin)
	return r
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	responseType := q.Get("response_type")
	scope := q.Get("scope")
	clientState := q.Get("state")
	codeChallenge := q.Get("code_challenge")
	codeChallengeMethod := q.Get("code_challenge_method")
	resource := q.Get("resource")

	client, ok := s.cfg.Clients[clientID]
	if !ok {
		writeBadRequest(w, "invalid_client", "unknown client_id")
		return
	}
	if !matchesRedirectURI(client.RedirectURIs, redirectURI) {
		writeBadRequest(w, "invalid_request", "redirect_uri is not registered for this client")
		return
	}
	if !validRedirectURIScheme(redirectURI) {
		writeBadRequest(w, "invalid_request", "redirect_uri must be localhost or HTTPS")
		return
	}
	if responseType != "code" {
		writeBadRequest(w, "unsupported_response_type", "only the authorization code grant is supported")
		return
	}
	if codeChallengeMethod != pkce.MethodS256 {
		writeBadRequest(w, "invalid_request", "code_challenge_method must be S256")
		return
	}
	if codeChallenge == "" {
		writeBadRequest(w, "invalid_request", "code_challenge is required")
		return
	}
	if resource == "" {
		writeBadRequest(w, "invalid_request", "resource parameter is required (RFC 8707)")
		return
	}

	upstreamState, err := pkce.GenerateState()
	if err != nil {
		logging.Errorw("generate upstream state", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.cfg.Store.SavePendingAuthorization(upstreamState, authdomain.PendingAuthorization{
		ClientID:    clientID,
		RedirectURI: redirectURI,
		Scope:       scope,
		Resource:    resource,
		ClientState: clientState,
		Challenge: authdomain.PKCEChallenge{
			ChallengeMethod: codeChallengeMethod,
			Challenge:       codeChallenge,
		},
		CreatedAt: time.Now(),
	})

	http.Redirect(w, r, s.cfg.IdentityProvider.BuildAuthURL(upstreamState), http.StatusFound)
}

func (s *Server) handleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	upstreamState := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	pending, ok := s.cfg.Store.GetPendingAuthorization(upstreamState)
	if !ok {
		writeBadRequest(w, "invalid_request", "unknown or expired authorization state")
		return
	}
	s.cfg.Store.DeletePendingAuthorization(upstreamState)

	if code == "" {
		s.redirectWithError(w, r, pending, "access_denied", "no code returned by identity provider")
		return
	}

	accessToken, err := s.cfg.IdentityProvider.ExchangeCode(ctx, code)
	if err != nil {
		logging.Warnw("github code exchange failed", "error", err)
		s.redirectWithError(w, r, pending, "server_error", "failed to exchange code with identity provider")
		return
	}

	profile, err := s.cfg.IdentityProvider.GetProfile(ctx, accessToken)
	if err != nil {
		logging.Warnw("github profile fetch failed", "error", err)
		s.redirectWithError(w, r, pending, "server_error", "failed to fetch identity provider profile")
		return
	}

	if !profile.IsMemberOf(s.cfg.AllowedOrgs) {
		s.recordAttempt("policy_denied")
		s.writeAccessDenied(w)
		return
	}

	now := time.Now()
	user, ok := s.cfg.Store.GetUserByGitHubID(profile.ID)
	if !ok {
		user = authdomain.NewUserFromProfile(newID(), profile, now)
	} else {
		user.Organizations = profile.Organizations
		user.UpdatedAt = now
	}
	s.cfg.Store.SaveUser(user)

	authCode := authdomain.AuthorizationCode{
		Code:        newID(),
		ClientID:    pending.ClientID,
		RedirectURI: pending.RedirectURI,
		Scope:       pending.Scope,
		Resource:    pending.Resource,
		UserID:      user.ID,
		Challenge:   pending.Challenge,
		State:       pending.ClientState,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.AuthorizationCodeTTL),
	}
	s.cfg.Store.SaveAuthorizationCode(authCode)

	dest := appendQuery(pending.RedirectURI, map[string]string{
		"code":  authCode.Code,
		"state": pending.ClientState,
	})
	http.Redirect(w, r, dest, http.StatusFound)
}

// writeAccessDenied renders a generic, non-revealing denial page: it never
// names which organization check failed, so it cannot be used to probe
// the allow-list.
func (s *Server) writeAccessDenied(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`<!DOCTYPE html><html><head><title>Access Denied</title></head>
<body><h1>Access Denied</h1><p>You are not authorized to access this application. Please contact your administrator.</p></body></html>`))
}

func (s *Server) redirectWithError(w http.ResponseWriter, r *http.Request, pending authdomain.PendingAuthorization, code, description string) {
	dest := appendQuery(pending.RedirectURI, map[string]string{
		"error":             code,
		"error_description": description,
		"state":             pending.ClientState,
	})
	http.Redirect(w, r, dest, http.StatusFound)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeBadRequest(w, "invalid_request", "could not parse form body")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.handleAuthorizationCodeGrant(w, r)
	case "refresh_token":
		s.handleRefreshTokenGrant(w, r)
	default:
		writeBadRequest(w, "unsupported_grant_type", "grant_type must be authorization_code or refresh_token")
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

func (s *Server) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	form := r.PostForm
	code := form.Get("code")
	redirectURI := form.Get("redirect_uri")
	clientID := form.Get("client_id")
	verifier := form.Get("code_verifier")
	resource := form.Get("resource")

	if code == "" || redirectURI == "" || clientID == "" || verifier == "" || resource == "" {
		writeBadRequest(w, "invalid_request", "code, redirect_uri, client_id, code_verifier, and resource are all required")
		return
	}

	authCode, ok := s.cfg.Store.GetAuthorizationCode(code)
	now := time.Now()
	if !ok || !authCode.IsValid(now) {
		if ok {
			s.cfg.Store.DeleteAuthorizationCode(code)
		}
		s.recordAttempt("invalid_grant")
		writeBadRequest(w, "invalid_grant", "authorization code is invalid, expired, or already used")
		return
	}

	if authCode.ClientID != clientID || authCode.RedirectURI != redirectURI {
		s.recordAttempt("invalid_grant")
		writeBadRequest(w, "invalid_grant", "client_id or redirect_uri does not match the authorization request")
		return
	}
	if authCode.Resource != resource {
		s.recordAttempt("invalid_target")
		writeBadRequest(w, "invalid_target", "resource does not match the authorization request")
		return
	}
	if !pkce.Verify(authCode.Challenge.ChallengeMethod, authCode.Challenge.Challenge, verifier) {
		s.recordAttempt("invalid_grant")
		writeBadRequest(w, "invalid_grant", "code_verifier does not match the original code_challenge")
		return
	}

	s.cfg.Store.MarkAuthorizationCodeUsed(code)

	access, accessJTI, refresh, refreshJTI, err := s.cfg.Tokens.IssuePair(authCode.UserID, clientID, authCode.Scope, resource, now)
	if err != nil {
		logging.Errorw("issue token pair", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.cfg.Store.SaveSession(authdomain.Session{
		ID:              newID(),
		UserID:          authCode.UserID,
		AccessTokenJTI:  accessJTI,
		RefreshTokenJTI: refreshJTI,
		ClientID:        clientID,
		Scope:           authCode.Scope,
		Resource:        resource,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.cfg.SessionTTL),
		LastUsedAt:      now,
	})

	s.recordAttempt("success")
	writeTokenResponse(w, access, refresh, authCode.Scope, int(s.cfg.Tokens.AccessTokenTTL().Seconds()))
}

func (s *Server) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	refreshToken := r.PostForm.Get("refresh_token")
	if refreshToken == "" {
		writeBadRequest(w, "invalid_request", "refresh_token is required")
		return
	}

	claims, err := s.cfg.Tokens.Validate(refreshToken, s.cfg.BaseURL, tokens.TypeRefresh)
	if err != nil {
		s.recordAttempt("invalid_grant")
		writeBadRequest(w, "invalid_grant", "refresh token is invalid or expired")
		return
	}

	session, ok := s.cfg.Store.GetSessionByRefreshJTI(claims.JTI)
	now := time.Now()
	if !ok || !session.IsValid(now) {
		s.recordAttempt("invalid_grant")
		writeBadRequest(w, "invalid_grant", "session is no longer valid")
		return
	}

	user, ok := s.cfg.Store.GetUser(session.UserID)
	if !ok {
		s.recordAttempt("invalid_grant")
		writeBadRequest(w, "invalid_grant", "user no longer exists")
		return
	}

	profile := authdomain.GitHubProfile{ID: user.GitHubID, Organizations: user.Organizations}
	if !profile.IsMemberOf(s.cfg.AllowedOrgs) {
		s.cfg.Store.RevokeSession(session.ID)
		s.recordAttempt("policy_denied")
		writeBadRequest(w, "invalid_grant", "user no longer meets access policy")
		return
	}

	access, accessJTI, refresh, refreshJTI, err := s.cfg.Tokens.IssuePair(user.ID, session.ClientID, session.Scope, session.Resource, now)
	if err != nil {
		logging.Errorw("issue refreshed token pair", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.cfg.Store.UpdateSessionTokens(session.ID, accessJTI, refreshJTI, now)

	s.recordAttempt("success")
	writeTokenResponse(w, access, refresh, session.Scope, int(s.cfg.Tokens.AccessTokenTTL().Seconds()))
}

func writeTokenResponse(w http.ResponseWriter, access, refresh, scope string, expiresIn int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSONBody(w, tokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: refresh,
		Scope:        scope,
	})
}

// handleRevoke implements RFC 7009. Revocation is best-effort and always
// reports success, so that a caller can never use this endpoint's
// response to probe whether a token it doesn't own exists.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	defer func() {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{}"))
	}()

	if err := r.ParseForm(); err != nil {
		return
	}
	token := r.PostForm.Get("token")
	if token == "" {
		return
	}

	claims, err := tokens.DecodeUnsafe(token)
	if err != nil {
		return
	}
	if session, ok := s.cfg.Store.GetSessionByAccessJTI(claims.JTI); ok {
		s.cfg.Store.RevokeSession(session.ID)
		return
	}
	if session, ok := s.cfg.Store.GetSessionByRefreshJTI(claims.JTI); ok {
		s.cfg.Store.RevokeSession(session.ID)
	}
}

func (s *Server) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		s.recordAttempt("invalid_token")
		w.Header().Set("WWW-Authenticate", s.buildWWWAuthenticate("invalid_token", "missing bearer token"))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	claims, err := s.cfg.Tokens.Validate(token, s.cfg.BaseURL, tokens.TypeAccess)
	if err != nil {
		s.recordAttempt("invalid_token")
		w.Header().Set("WWW-Authenticate", s.buildWWWAuthenticate("invalid_token", "access token is invalid or expired"))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	user, ok := s.cfg.Store.GetUser(claims.Subject)
	if !ok {
		s.recordAttempt("invalid_token")
		w.Header().Set("WWW-Authenticate", s.buildWWWAuthenticate("invalid_token", "subject no longer exists"))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	s.recordAttempt("success")
	writeJSONBody(w, map[string]any{
		"sub":                user.ID,
		"name":               user.Name,
		"preferred_username": user.GitHubLogin,
		"email":              user.Email,
		"picture":            user.AvatarURL,
		"organizations":      user.Organizations,
	})
}
