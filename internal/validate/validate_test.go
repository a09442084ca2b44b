// Package validate tests cover input normalization.
package validate

import "testing"

// TestEmail normalizes case and rejects malformed input.
func TestEmail(t *testing.T) {
	got, err := Email("  Alice@Example.COM ")
	if err != nil {
		t.Fatalf("Email: %v", err)
	}
	if got != "alice@example.com" {
		t.Fatalf("got %q", got)
	}
	for _, bad := range []string{"", "alice", "Alice <alice@example.com>", "@example.com"} {
		if _, err := Email(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

// TestPort enforces the 1..65535 range.
func TestPort(t *testing.T) {
	for _, ok := range []int{1, 5900, 65535} {
		if err := Port(ok); err != nil {
			t.Fatalf("port %d: %v", ok, err)
		}
	}
	for _, bad := range []int{0, -1, 65536} {
		if err := Port(bad); err == nil {
			t.Fatalf("expected port %d to be rejected", bad)
		}
	}
}

// TestHost accepts names and IP literals.
func TestHost(t *testing.T) {
	for _, ok := range []string{"10.0.0.5", "db1.internal", "fe80::1", "::1", "::ffff:10.0.0.5", "2001:db8::5900", "localhost"} {
		if _, err := Host(ok); err != nil {
			t.Fatalf("host %q: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "  ", "http://x", "a b", "host:5900", ":::1", "[::1]"} {
		if _, err := Host(bad); err == nil {
			t.Fatalf("expected host %q to be rejected", bad)
		}
	}
}

// TestLabels trims and de-duplicates.
func TestLabels(t *testing.T) {
	got, err := Labels([]string{" prod ", "", "prod", "lab"})
	if err != nil {
		t.Fatalf("Labels: %v", err)
	}
	if len(got) != 2 || got[0] != "prod" || got[1] != "lab" {
		t.Fatalf("got %v", got)
	}
}
