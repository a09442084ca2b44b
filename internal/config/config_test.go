package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "managervnc.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

// TestLoadAppliesDefaults confirms defaults are applied on load.
func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv(EnvJWTSecret, "")
	t.Setenv(EnvDBDSN, "")
	c, err := Load(writeConfig(t, "db:\n  path: ./x.db\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.HTTP.Port != 4000 {
		t.Fatalf("expected default http.port 4000, got %d", c.HTTP.Port)
	}
	if c.DB.Driver != "sqlite" || c.DB.Path != "./x.db" {
		t.Fatalf("unexpected db config %+v", c.DB)
	}
	if c.Auth.TokenTTL != 7*24*time.Hour {
		t.Fatalf("expected 7d token ttl, got %s", c.Auth.TokenTTL)
	}
	if c.Activity.Retention() != 90*24*time.Hour {
		t.Fatalf("expected 90d retention, got %s", c.Activity.Retention())
	}
	if c.Viewer.Port != 6080 || c.Viewer.Scheme != "http" {
		t.Fatalf("unexpected viewer defaults %+v", c.Viewer)
	}
	if c.Policy.AdminOverridesPersonal {
		t.Fatalf("admin override must default off")
	}
	if len(c.HTTP.CORSOrigins) != 1 {
		t.Fatalf("expected default cors origin, got %v", c.HTTP.CORSOrigins)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	t.Setenv(EnvJWTSecret, "")
	t.Setenv(EnvDBDSN, "")
	c, err := Load(writeConfig(t, `
http:
  login_rate_limit: {max: 3, window: 30s}
auth:
  token_ttl: 12h
activity:
  prune_interval: 15m
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.HTTP.LoginRateLimit.Window != 30*time.Second || c.HTTP.LoginRateLimit.Max != 3 {
		t.Fatalf("unexpected rate limit %+v", c.HTTP.LoginRateLimit)
	}
	if c.Auth.TokenTTL != 12*time.Hour {
		t.Fatalf("unexpected ttl %s", c.Auth.TokenTTL)
	}
	if c.Activity.PruneInterval != 15*time.Minute {
		t.Fatalf("unexpected prune interval %s", c.Activity.PruneInterval)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv(EnvJWTSecret, strings.Repeat("s", 40))
	t.Setenv(EnvDBDSN, "postgres://u:p@localhost/vnc")
	c, err := Load(writeConfig(t, "auth:\n  jwt_secret: "+strings.Repeat("f", 32)+"\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Auth.JWTSecret != strings.Repeat("s", 40) {
		t.Fatalf("env secret did not win")
	}
	if c.DB.Driver != "postgres" || c.DB.Target() != "postgres://u:p@localhost/vnc" {
		t.Fatalf("unexpected db %+v", c.DB)
	}
}

func TestDotEnvBesideConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvJWTSecret, "")
	t.Setenv(EnvDBDSN, "")
	os.Unsetenv(EnvJWTSecret)
	secret := strings.Repeat("d", 32)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(EnvJWTSecret+"="+secret+"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p := filepath.Join(dir, "managervnc.yaml")
	if err := os.WriteFile(p, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Auth.JWTSecret != secret {
		t.Fatalf("expected secret from .env, got %q", c.Auth.JWTSecret)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Setenv(EnvJWTSecret, "")
	t.Setenv(EnvDBDSN, "")
	cases := map[string]string{
		"bad port":        "http:\n  port: 70000\n",
		"half tls":        "http:\n  tls:\n    cert_path: a.crt\n",
		"bad cidr":        "http:\n  admin_allow_cidrs: [\"10.0.0.0/33\"]\n",
		"short secret":    "auth:\n  jwt_secret: short\n",
		"pg without dsn":  "db:\n  driver: postgres\n",
		"unknown driver":  "db:\n  driver: mysql\n",
		"viewer scheme":   "viewer:\n  scheme: ftp\n",
		"limits inverted": "activity:\n  default_limit: 50\n  max_limit: 10\n",
		"neg retention":   "activity:\n  retention_days: -1\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestZeroRetentionDisablesPruning(t *testing.T) {
	t.Setenv(EnvJWTSecret, "")
	t.Setenv(EnvDBDSN, "")
	c, err := Load(writeConfig(t, "activity:\n  retention_days: 0\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Activity.Retention() != 0 {
		t.Fatalf("expected retention disabled, got %s", c.Activity.Retention())
	}

	c, err = Load(writeConfig(t, "activity:\n  retention_days: 7\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Activity.Retention() != 7*24*time.Hour {
		t.Fatalf("expected 7d retention, got %s", c.Activity.Retention())
	}
}

func TestWriteRoundTrip(t *testing.T) {
	t.Setenv(EnvJWTSecret, "")
	t.Setenv(EnvDBDSN, "")
	p := filepath.Join(t.TempDir(), "conf", "managervnc.yaml")
	c := Default()
	c.HTTP.Port = 4100
	c.Seal.IdentityPath = "/tmp/seal.key"
	if err := Write(p, c); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.HTTP.Port != 4100 || got.Seal.IdentityPath != "/tmp/seal.key" {
		t.Fatalf("round trip lost values: %+v", got)
	}
}

func TestResolvePaths(t *testing.T) {
	c := Default()
	c.DB.Path = "data/x.db"
	c.Seal.IdentityPath = "/abs/seal.key"
	c.ResolvePaths("/etc/managervnc")
	if c.DB.Path != "/etc/managervnc/data/x.db" {
		t.Fatalf("db path %q", c.DB.Path)
	}
	if c.DataDir != "/etc/managervnc/data" {
		t.Fatalf("data dir %q", c.DataDir)
	}
	if c.Seal.IdentityPath != "/abs/seal.key" {
		t.Fatalf("absolute path changed: %q", c.Seal.IdentityPath)
	}
	if c.HTTP.TLS.CertPath != "" {
		t.Fatalf("empty path should stay empty")
	}
}
