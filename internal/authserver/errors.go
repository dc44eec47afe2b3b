package authserver

import (
	"encoding/json"
	"net/http"
)

// oauthError is an RFC 6749 §5.2 error response body.
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(oauthError{Error: code, ErrorDescription: description})
}

func writeBadRequest(w http.ResponseWriter, code, description string) {
	writeOAuthError(w, http.StatusBadRequest, code, description)
}
