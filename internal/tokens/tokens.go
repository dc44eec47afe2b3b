// Package tokens mints and validates the access and refresh tokens issued
// by the authorization server: HS256 JWTs carrying an RFC 8707 audience
// bound to the resource the client requested.
package tokens

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ethpandaops/mcp-gateway/internal/authdomain"
)

const (
	// TypeAccess marks a token minted for resource access.
	TypeAccess = "access"
	// TypeRefresh marks a token minted for session refresh.
	TypeRefresh = "refresh"

	algorithm = "HS256"

	// MinSecretLength is the smallest HMAC secret this manager will accept.
	MinSecretLength = 32
)

// Sentinel errors distinguishing why a token failed validation.
var (
	ErrExpired          = errors.New("token expired")
	ErrInvalid          = errors.New("token invalid")
	ErrAudienceMismatch = errors.New("token audience mismatch")
	ErrMissingAudience  = errors.New("expected audience must not be empty")
	ErrInvalidIssuer    = errors.New("token issuer mismatch")
)

// canonicalAudience strips a trailing slash so that "https://gw.example" and
// "https://gw.example/" are treated as the same resource indicator.
func canonicalAudience(aud string) string {
	return strings.TrimRight(aud, "/")
}

// Config configures a Manager.
type Config struct {
	SecretKey         []byte
	Issuer            string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
}

// Manager issues and validates the gateway's own access/refresh tokens.
type Manager struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	refreshTTL time.Duration
}

// NewManager constructs a Manager, rejecting secrets too short to provide a
// meaningful HMAC.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.SecretKey) < MinSecretLength {
		return nil, fmt.Errorf("secret key must be at least %d bytes (try a fresh random token)", MinSecretLength)
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &Manager{
		secret:     cfg.SecretKey,
		issuer:     cfg.Issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// AccessTokenTTL returns the configured access token lifetime.
func (m *Manager) AccessTokenTTL() time.Duration { return m.accessTTL }

// RefreshTokenTTL returns the configured refresh token lifetime.
func (m *Manager) RefreshTokenTTL() time.Duration { return m.refreshTTL }

func (m *Manager) issue(tokenType, userID, clientID, scope, resource string, ttl time.Duration, now time.Time) (string, string, error) {
	jti := uuid.NewString()
	claims := jwt.MapClaims{
		"jti":        jti,
		"sub":        userID,
		"aud":        resource,
		"iss":        m.issuer,
		"iat":        jwt.NewNumericDate(now),
		"exp":        jwt.NewNumericDate(now.Add(ttl)),
		"scope":      scope,
		"client_id":  clientID,
		"token_type": tokenType,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(m.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, jti, nil
}

// IssuePair mints a fresh access/refresh token pair bound to resource, for
// a grant issued to clientID on behalf of userID with the given scope.
func (m *Manager) IssuePair(userID, clientID, scope, resource string, now time.Time) (accessToken, accessJTI, refreshToken, refreshJTI string, err error) {
	accessToken, accessJTI, err = m.issue(TypeAccess, userID, clientID, scope, resource, m.accessTTL, now)
	if err != nil {
		return "", "", "", "", err
	}
	refreshToken, refreshJTI, err = m.issue(TypeRefresh, userID, clientID, scope, resource, m.refreshTTL, now)
	if err != nil {
		return "", "", "", "", err
	}
	return accessToken, accessJTI, refreshToken, refreshJTI, nil
}

// Validate parses and verifies token, checking its signature, expiry,
// token_type, and audience against expectedAudience. expectedAudience is
// mandatory: callers must always bind validation to the resource the
// token is presented to, per RFC 8707.
func (m *Manager) Validate(token, expectedAudience, expectedType string) (authdomain.TokenClaims, error) {
	if expectedAudience == "" {
		return authdomain.TokenClaims{}, ErrMissingAudience
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{algorithm}))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return authdomain.TokenClaims{}, ErrExpired
		default:
			return authdomain.TokenClaims{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if !parsed.Valid {
		return authdomain.TokenClaims{}, ErrInvalid
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return authdomain.TokenClaims{}, ErrInvalid
	}

	tc, err := claimsFromMap(claims)
	if err != nil {
		return authdomain.TokenClaims{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if tc.TokenType != expectedType {
		return authdomain.TokenClaims{}, fmt.Errorf("%w: expected token_type %q, got %q", ErrInvalid, expectedType, tc.TokenType)
	}
	if tc.Issuer != m.issuer {
		return authdomain.TokenClaims{}, ErrInvalidIssuer
	}
	if canonicalAudience(tc.Audience) != canonicalAudience(expectedAudience) {
		return authdomain.TokenClaims{}, ErrAudienceMismatch
	}

	return tc, nil
}

// DecodeUnsafe parses token's claims without verifying its signature.
// Debug-only: never use the result to make an authorization decision.
func DecodeUnsafe(token string) (authdomain.TokenClaims, error) {
	parser := jwt.NewParser()
	var claims jwt.MapClaims
	_, _, err := parser.ParseUnverified(token, &claims)
	if err != nil {
		return authdomain.TokenClaims{}, fmt.Errorf("decode token: %w", err)
	}
	return claimsFromMap(claims)
}

func claimsFromMap(claims jwt.MapClaims) (authdomain.TokenClaims, error) {
	var tc authdomain.TokenClaims

	sub, _ := claims["sub"].(string)
	aud, _ := claims["aud"].(string)
	iss, _ := claims["iss"].(string)
	jti, _ := claims["jti"].(string)
	scope, _ := claims["scope"].(string)
	clientID, _ := claims["client_id"].(string)
	tokenType, _ := claims["token_type"].(string)

	tc.Subject = sub
	tc.Audience = aud
	tc.Issuer = iss
	tc.JTI = jti
	tc.Scope = scope
	tc.ClientID = clientID
	tc.TokenType = tokenType

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		tc.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		tc.IssuedAt = iat.Time
	}

	return tc, nil
}
