package httpapi

import (
	"errors"
	"net"
	"net/http"
	"strings"
)

// clientIP extracts the remote IP without a port. Forwarding headers are
// ignored; run behind a proxy that rewrites RemoteAddr if needed.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// parseCIDRorIP parses either a CIDR string or a single IP address.
func parseCIDRorIP(s string) (*net.IPNet, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty")
	}
	if strings.Contains(s, "/") {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil, err
		}
		return n, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, errors.New("invalid ip")
	}
	bits := 128
	if v4 := ip.To4(); v4 != nil {
		bits = 32
		ip = v4
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

// adminAllowed checks the caller against the configured admin networks.
// An empty list allows every address; loopback is always allowed.
func (s *Server) adminAllowed(r *http.Request) bool {
	if len(s.adminAllow) == 0 {
		return true
	}
	ip := net.ParseIP(clientIP(r))
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	for _, n := range s.adminAllow {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
