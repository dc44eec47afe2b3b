// Package authmw protects the gateway's MCP transport surface, validating
// bearer tokens against the resource's own audience and attaching the
// resulting identity to the request context for downstream scope checks.
package authmw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethpandaops/mcp-gateway/internal/authdomain"
	"github.com/ethpandaops/mcp-gateway/internal/authstore"
	"github.com/ethpandaops/mcp-gateway/internal/observability"
	"github.com/ethpandaops/mcp-gateway/internal/tokens"
)

type identityContextKey struct{}

// Identity is the authenticated principal attached to a request's context.
type Identity struct {
	User    authdomain.User
	Session authdomain.Session
	Claims  authdomain.TokenClaims
}

// FromContext retrieves the Identity attached by Middleware, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

// ContextWithIdentity attaches id to ctx the same way Wrap does. Exported
// for transports that authenticate outside of an http.Handler chain (none
// currently) and for tests exercising scope checks without a live request.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// RequireScope reports whether the identity in ctx carries scope among its
// space-separated token scopes.
func RequireScope(ctx context.Context, scope string) bool {
	id, ok := FromContext(ctx)
	if !ok {
		return false
	}
	for _, s := range strings.Fields(id.Claims.Scope) {
		if s == scope {
			return true
		}
	}
	return false
}

// Config configures Middleware.
type Config struct {
	Tokens   *tokens.Manager
	Store    authstore.Store
	Resource string // audience every access token must carry

	// Metrics, if set, records an outcome for every bearer-token validation
	// this middleware performs.
	Metrics *observability.Recorder

	// PublicPaths are exact paths served without authentication (health
	// checks, discovery documents). PublicPrefixes are prefix-matched.
	PublicPaths    map[string]struct{}
	PublicPrefixes []string

	// ResourceMetadataURL is this resource's protected-resource metadata document,
	// referenced from the WWW-Authenticate challenge.
	ResourceMetadataURL string
}

// Middleware wraps an http.Handler, rejecting requests to protected paths
// that do not carry a valid bearer token bound to Config.Resource.
type Middleware struct {
	cfg Config
}

// New constructs a Middleware.
func New(cfg Config) *Middleware {
	return &Middleware{cfg: cfg}
}

// Wrap returns next guarded by this middleware.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			m.recordAttempt("invalid_token")
			m.challenge(w, "invalid_token", "missing bearer token")
			return
		}

		claims, err := m.cfg.Tokens.Validate(token, m.cfg.Resource, tokens.TypeAccess)
		if err != nil {
			m.recordAttempt(validationOutcome(err))
			m.challenge(w, "invalid_token", "access token is invalid or expired")
			return
		}

		session, ok := m.cfg.Store.GetSessionByAccessJTI(claims.JTI)
		if !ok || !session.IsValid(time.Now()) {
			m.recordAttempt("invalid_token")
			m.challenge(w, "invalid_token", "session is no longer valid")
			return
		}

		user, ok := m.cfg.Store.GetUser(claims.Subject)
		if !ok {
			m.recordAttempt("invalid_token")
			m.challenge(w, "invalid_token", "subject no longer exists")
			return
		}

		m.recordAttempt("success")
		ctx := context.WithValue(r.Context(), identityContextKey{}, Identity{User: user, Session: session, Claims: claims})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) isPublic(path string) bool {
	if _, ok := m.cfg.PublicPaths[path]; ok {
		return true
	}
	for _, prefix := range m.cfg.PublicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// recordAttempt records an authentication attempt's outcome, if Metrics is
// configured.
func (m *Middleware) recordAttempt(outcome string) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordAuthAttempt(outcome)
	}
}

// validationOutcome maps a tokens.Validate error to an auth-attempt outcome
// label.
func validationOutcome(err error) string {
	switch {
	case errors.Is(err, tokens.ErrExpired):
		return "expired"
	case errors.Is(err, tokens.ErrAudienceMismatch):
		return "audience_mismatch"
	default:
		return "invalid_token"
	}
}

func (m *Middleware) challenge(w http.ResponseWriter, code, description string) {
	w.Header().Set("WWW-Authenticate", buildWWWAuthenticate(m.cfg.ResourceMetadataURL, code, description))
	w.WriteHeader(http.StatusUnauthorized)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func buildWWWAuthenticate(resourceMetadataURL, code, description string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Bearer resource_metadata="%s"`, escapeQuotes(resourceMetadataURL))
	if code != "" {
		fmt.Fprintf(&b, `, error="%s"`, escapeQuotes(code))
		if description != "" {
			fmt.Fprintf(&b, `, error_description="%s"`, escapeQuotes(description))
		}
	}
	return b.String()
}

func escapeQuotes(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
