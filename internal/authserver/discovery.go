package authserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Well-known paths this server serves, per RFC 8414, RFC 9728, and the
// OIDC Discovery 1.0 mirror clients commonly probe for first.
const (
	WellKnownProtectedResourcePath = "/.well-known/oauth-protected-resource"
	WellKnownAuthorizationServerPath = "/.well-known/oauth-authorization-server"
	WellKnownOpenIDConfigurationPath = "/.well-known/openid-configuration"
)

// protectedResourceMetadata is the RFC 9728 document advertised at
// WellKnownProtectedResourcePath.
type protectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	ResourceDocumentation  string   `json:"resource_documentation,omitempty"`
}

// authorizationServerMetadata is the RFC 8414 document, mirrored at the
// OIDC discovery path as well since many clients only know to look there.
type authorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	// ClientIDMetadataDocumentSupported tells clients whether they may
	// register themselves by URL (a client ID metadata document) rather
	// than through a pre-provisioned Config.Clients entry. This server
	// only implements the pre-provisioned path, so it always sends false.
	ClientIDMetadataDocumentSupported bool `json:"client_id_metadata_document_supported"`
}

func (s *Server) buildResourceMetadata() protectedResourceMetadata {
	return protectedResourceMetadata{
		Resource:               s.cfg.BaseURL,
		AuthorizationServers:   []string{s.cfg.BaseURL},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        s.cfg.ScopesSupported,
	}
}

func (s *Server) buildServerMetadata() authorizationServerMetadata {
	return authorizationServerMetadata{
		Issuer:                        s.cfg.BaseURL,
		AuthorizationEndpoint:         s.cfg.BaseURL + PathAuthorize,
		TokenEndpoint:                 s.cfg.BaseURL + PathToken,
		RevocationEndpoint:            s.cfg.BaseURL + PathRevoke,
		UserinfoEndpoint:              s.cfg.BaseURL + PathUserinfo,
		ResponseTypesSupported:        []string{"code"},
		GrantTypesSupported:           []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported: []string{"S256"},
		// Clients authenticate solely via PKCE; no client secret is ever
		// required at the token endpoint (see DESIGN.md).
		TokenEndpointAuthMethodsSupported: []string{"none"},
		ScopesSupported:                   s.cfg.ScopesSupported,
		ClientIDMetadataDocumentSupported: false,
	}
}

func writeJSONCached(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSONCached(w, s.resourceDoc)
}

func (s *Server) handleAuthorizationServerMetadata(w http.ResponseWriter, _ *http.Request) {
	writeJSONCached(w, s.serverDoc)
}

func (s *Server) handleOpenIDConfiguration(w http.ResponseWriter, _ *http.Request) {
	writeJSONCached(w, s.serverDoc)
}

// buildWWWAuthenticate renders an RFC 6750 challenge header pointing the
// client at this resource's protected-resource metadata document.
func (s *Server) buildWWWAuthenticate(errCode, errDescription string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Bearer realm="%s", resource_metadata="%s%s"`, s.cfg.BaseURL, s.cfg.BaseURL, s.cfg.ResourceMetadataPath)
	if errCode != "" {
		fmt.Fprintf(&b, `, error="%s"`, escapeQuotes(errCode))
		if errDescription != "" {
			fmt.Fprintf(&b, `, error_description="%s"`, escapeQuotes(errDescription))
		}
	}
	return b.String()
}

func escapeQuotes(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
