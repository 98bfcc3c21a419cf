package artifact

import (
	"net"
	"net/url"
	"strings"
)

// NormalizeURL adds a scheme when missing, drops default ports, a bare "/" path and the fragment.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	if !hasScheme(trimmed) {
		trimmed = "http://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	host := parsed.Hostname()
	port := parsed.Port()
	if (parsed.Scheme == "http" && port == "80") || (parsed.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		parsed.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		parsed.Host = "[" + host + "]"
	} else {
		parsed.Host = host
	}

	if parsed.Path == "/" {
		parsed.Path = ""
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.Host = strings.ToLower(parsed.Host)

	return parsed.String()
}

// hasScheme reports whether raw starts with a scheme such as "HTTPS://", in any case.
func hasScheme(raw string) bool {
	scheme, _, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" {
		return false
	}
	for i, r := range scheme {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

// Hostname returns the lower-cased host of a URL artifact identifier, or "" when it has none.
func Hostname(raw string) string {
	parsed, err := url.Parse(NormalizeURL(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
