package authserver

import (
	"html/template"
	"net/http"

	"github.com/ethpandaops/mcp-gateway/internal/logging"
)

// loginPageTemplate renders the login affordance's PKCE-generation script.
// The base URL is interpolated through html/template, which recognizes the
// <script> context and JS-string-escapes the value automatically — unlike
// a raw string substitution, this cannot be used to break out of the
// string literal no matter what characters BaseURL contains.
var loginPageTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
  <h1>Sign in with GitHub</h1>
  <p>Continue to authorize this application.</p>
  <script>
    (async function () {
      const baseURL = "{{.BaseURL}}";

      function randomVerifier() {
        const bytes = new Uint8Array(32);
        crypto.getRandomValues(bytes);
        return base64url(bytes);
      }

      function base64url(bytes) {
        let str = btoa(String.fromCharCode(...bytes));
        return str.replace(/\+/g, "-").replace(/\//g, "_").replace(/=+$/, "");
      }

      async function challengeFor(verifier) {
        const data = new TextEncoder().encode(verifier);
        const digest = await crypto.subtle.digest("SHA-256", data);
        return base64url(new Uint8Array(digest));
      }

      const verifier = randomVerifier();
      const challenge = await challengeFor(verifier);
      sessionStorage.setItem("pkce_verifier", verifier);

      const params = new URLSearchParams(window.location.search);
      params.set("code_challenge", challenge);
      params.set("code_challenge_method", "S256");

      window.location.href = baseURL + "{{.AuthorizePath}}" + "?" + params.toString();
    })();
  </script>
</body>
</html>`))

type loginPageData struct {
	BaseURL       string
	AuthorizePath string
}

func (s *Server) handleLogin(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := loginPageData{BaseURL: s.cfg.BaseURL, AuthorizePath: PathAuthorize}
	if err := loginPageTemplate.Execute(w, data); err != nil {
		logging.Errorw("render login page", "error", err)
	}
}
