package service

import (
	"net"
	"net/url"
	"strings"
)

const MaxURLLength = 2048

var blockedHosts = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"0.0.0.0":   {},
	"::1":       {},
}

// NormalizeURL validates a destination and returns its canonical form:
// lower-case scheme and host, port, path and query kept, fragment dropped.
// Two inputs that normalize identically are still stored as separate links.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalidInput("url is required")
	}
	if len(raw) > MaxURLLength {
		return "", invalidInput("url is too long (max %d characters)", MaxURLLength)
	}
	if strings.ContainsAny(raw, "<>\" \t\r\n") {
		return "", invalidInput("url contains forbidden characters")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", invalidInput("url is malformed")
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", invalidInput("url scheme must be http or https")
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", invalidInput("url must have a host")
	}
	if _, blocked := blockedHosts[host]; blocked {
		return "", invalidInput("url host %q is not allowed", host)
	}

	u.Scheme = scheme
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}
	u.Fragment = ""
	u.RawFragment = ""

	normalized := u.String()
	if len(normalized) > MaxURLLength {
		return "", invalidInput("url is too long (max %d characters)", MaxURLLength)
	}
	return normalized, nil
}

// URLCheck is the outcome of a dry-run destination check.
type URLCheck struct {
	Valid      bool
	Normalized string
	Errors     []string
	Warnings   []string
}

// CheckURL runs the destination rules without creating anything.
func CheckURL(raw string) URLCheck {
	check := URLCheck{Errors: []string{}, Warnings: []string{}}

	normalized, err := NormalizeURL(raw)
	if err != nil {
		check.Errors = append(check.Errors, strings.TrimPrefix(err.Error(), ErrInvalidInput.Error()+": "))
		return check
	}

	check.Valid = true
	check.Normalized = normalized
	if strings.HasPrefix(normalized, "http://") {
		check.Warnings = append(check.Warnings, "http urls are less secure than https")
	}
	return check
}
