package authserver

import (
	"net"
	"net/url"
	"strings"
)

// IsLoopbackHost reports whether hostname is "localhost" or a loopback IP
// literal, per RFC 8252 §7.3.
func IsLoopbackHost(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}

// matchesRedirectURI reports whether candidate satisfies one of a client's
// registered redirect URIs. A registered http loopback URI matches an http
// loopback candidate on any port, per RFC 8252 §7.3, since native apps
// cannot predict which ephemeral port their local listener will bind.
// Every other URI, https loopback included, must match byte-for-byte.
func matchesRedirectURI(registered []string, candidate string) bool {
	for _, r := range registered {
		if r == candidate {
			return true
		}
		if matchesAsLoopback(r, candidate) {
			return true
		}
	}
	return false
}

func matchesAsLoopback(registered, candidate string) bool {
	r, err := url.Parse(registered)
	if err != nil {
		return false
	}
	c, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	if r.Scheme != "http" || c.Scheme != "http" {
		return false
	}
	if !IsLoopbackHost(r.Hostname()) || !IsLoopbackHost(c.Hostname()) {
		return false
	}
	if r.Path != c.Path || r.RawQuery != c.RawQuery {
		return false
	}
	return true
}

// validRedirectURIScheme reports whether uri is acceptable as an
// authorization-request redirect_uri: a loopback address with any scheme,
// or any https address with a host.
func validRedirectURIScheme(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return false
	}
	if IsLoopbackHost(u.Hostname()) {
		return true
	}
	return u.Scheme == "https"
}
