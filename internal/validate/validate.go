// Package validate contains simple input validation helpers.
package validate

import (
	"errors"
	"net"
	"net/mail"
	"regexp"
	"strings"
)

// MinPasswordLen is the shortest password accepted at registration.
const MinPasswordLen = 6

// hostRe accepts DNS names. IP literals are checked with net.ParseIP.
var hostRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._-]{0,252}[a-zA-Z0-9.])?$`)

// Email normalizes and validates an email address.
func Email(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", errors.New("invalid email format")
	}
	a, err := mail.ParseAddress(s)
	if err != nil || a.Address != s || !strings.Contains(s, "@") {
		return "", errors.New("invalid email format")
	}
	return s, nil
}

// Password checks the registration password policy.
func Password(s string) error {
	if len(s) < MinPasswordLen {
		return errors.New("password must be at least 6 characters")
	}
	return nil
}

// MachineName validates a display name.
func MachineName(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("name is required")
	}
	if len(s) > 200 {
		return "", errors.New("name is too long")
	}
	return s, nil
}

// Host validates a VNC host name or IP literal.
func Host(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("host is required")
	}
	if net.ParseIP(s) == nil && !hostRe.MatchString(s) {
		return "", errors.New("invalid host")
	}
	return s, nil
}

// Port validates a TCP port number.
func Port(p int) error {
	if p < 1 || p > 65535 {
		return errors.New("port must be an integer between 1 and 65535")
	}
	return nil
}

// Labels trims, drops empty entries and de-duplicates tags or groups while
// keeping their order.
func Labels(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if len(v) > 64 {
			return nil, errors.New("label is too long")
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}
