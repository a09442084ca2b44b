// Package config loads and validates the managervnc YAML configuration.
// Defaults are applied so callers can rely on fully populated values;
// secrets may be supplied through the environment or a .env file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment overrides. They win over the file.
const (
	EnvJWTSecret     = "MANAGERVNC_JWT_SECRET"
	EnvDBDSN         = "MANAGERVNC_DB_DSN"
	EnvAdminPassword = "MANAGERVNC_ADMIN_PASSWORD"
)

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DBConfig selects the store. Path is used for sqlite, DSN for postgres.
type DBConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// Target returns the path or DSN for the configured driver.
func (c DBConfig) Target() string {
	if c.Driver == "postgres" {
		return c.DSN
	}
	return c.Path
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

// RateLimit is a fixed-window attempt limit.
type RateLimit struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	Bind            string    `yaml:"bind"`
	Port            int       `yaml:"port"`
	TLS             TLSConfig `yaml:"tls"`
	CORSOrigins     []string  `yaml:"cors_origins"`
	AdminAllowCIDRs []string  `yaml:"admin_allow_cidrs"`
	LoginRateLimit  RateLimit `yaml:"login_rate_limit"`
}

// AuthConfig holds token settings. An empty JWTSecret falls back to the
// secret stored by setup.
type AuthConfig struct {
	TokenTTL  time.Duration `yaml:"token_ttl"`
	JWTSecret string        `yaml:"jwt_secret"`
}

// ViewerConfig locates the noVNC web viewer used by the console.
type ViewerConfig struct {
	Scheme string `yaml:"scheme"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
}

// PolicyConfig tunes authorization.
type PolicyConfig struct {
	AdminOverridesPersonal bool `yaml:"admin_overrides_personal"`
}

// ActivityConfig bounds the activity log.
type ActivityConfig struct {
	RetentionDays *int          `yaml:"retention_days"`
	PruneInterval time.Duration `yaml:"prune_interval"`
	DefaultLimit  int           `yaml:"default_limit"`
	MaxLimit      int           `yaml:"max_limit"`
}

// Retention is RetentionDays as a duration. Zero keeps rows forever.
func (c ActivityConfig) Retention() time.Duration {
	if c.RetentionDays == nil {
		return 0
	}
	return time.Duration(*c.RetentionDays) * 24 * time.Hour
}

// SealConfig points at the age identity that seals machine passwords.
// Empty stores passwords unsealed.
type SealConfig struct {
	IdentityPath string `yaml:"identity_path"`
}

// Config mirrors the managervnc.yaml schema.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	DB       DBConfig       `yaml:"db"`
	DataDir  string         `yaml:"data_dir"`
	HTTP     HTTPConfig     `yaml:"http"`
	Auth     AuthConfig     `yaml:"auth"`
	Viewer   ViewerConfig   `yaml:"viewer"`
	Policy   PolicyConfig   `yaml:"policy"`
	Activity ActivityConfig `yaml:"activity"`
	Seal     SealConfig     `yaml:"seal"`
}

// Default returns a config with every default applied.
func Default() Config {
	var c Config
	applyDefaults(&c)
	return c
}

// Load reads a YAML config file, overlays the environment (after loading
// a .env file beside it, if any), applies defaults and validates.
func Load(path string) (Config, error) {
	var c Config
	if path == "" {
		return c, errors.New("config path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := LoadEnvFile(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return c, err
	}
	applyEnv(&c)
	applyDefaults(&c)
	normalize(&c)
	if err := validate(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadEnvFile loads KEY=value pairs into the process environment without
// overriding variables that are already set. A missing file is ignored.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvJWTSecret)); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDBDSN)); v != "" {
		c.DB.DSN = v
		if c.DB.Driver == "" {
			c.DB.Driver = "postgres"
		}
	}
}

func applyDefaults(c *Config) {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.DB.Path == "" {
		c.DB.Path = filepath.Join(c.DataDir, "managervnc.db")
	}
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "127.0.0.1"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 4000
	}
	if c.HTTP.CORSOrigins == nil {
		c.HTTP.CORSOrigins = []string{"http://localhost:3000"}
	}
	if c.HTTP.LoginRateLimit.Max == 0 {
		c.HTTP.LoginRateLimit.Max = 10
	}
	if c.HTTP.LoginRateLimit.Window == 0 {
		c.HTTP.LoginRateLimit.Window = time.Minute
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 7 * 24 * time.Hour
	}
	if c.Viewer.Scheme == "" {
		c.Viewer.Scheme = "http"
	}
	if c.Viewer.Port == 0 {
		c.Viewer.Port = 6080
	}
	if c.Activity.RetentionDays == nil {
		days := 90
		c.Activity.RetentionDays = &days
	}
	if c.Activity.PruneInterval == 0 {
		c.Activity.PruneInterval = time.Hour
	}
	if c.Activity.DefaultLimit == 0 {
		c.Activity.DefaultLimit = 50
	}
	if c.Activity.MaxLimit == 0 {
		c.Activity.MaxLimit = 1000
	}
}

func normalize(c *Config) {
	c.DB.Driver = strings.ToLower(strings.TrimSpace(c.DB.Driver))
	if c.DB.Driver == "sqlite3" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Driver == "postgresql" || c.DB.Driver == "pgx" {
		c.DB.Driver = "postgres"
	}
	c.DB.Path = strings.TrimSpace(c.DB.Path)
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.HTTP.TLS.CertPath = strings.TrimSpace(c.HTTP.TLS.CertPath)
	c.HTTP.TLS.KeyPath = strings.TrimSpace(c.HTTP.TLS.KeyPath)
	c.Seal.IdentityPath = strings.TrimSpace(c.Seal.IdentityPath)
	c.Viewer.Scheme = strings.ToLower(strings.TrimSpace(c.Viewer.Scheme))
}

// validate performs sanity checks for required fields and ranges.
func validate(c *Config) error {
	switch c.DB.Driver {
	case "sqlite":
		if c.DB.Path == "" {
			return errors.New("db.path is required")
		}
	case "postgres":
		if c.DB.DSN == "" {
			return errors.New("db.dsn is required for postgres (or set " + EnvDBDSN + ")")
		}
	default:
		return fmt.Errorf("db.driver %q is not supported", c.DB.Driver)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port is invalid")
	}
	if (c.HTTP.TLS.CertPath == "") != (c.HTTP.TLS.KeyPath == "") {
		return errors.New("http.tls.cert_path and http.tls.key_path must be set together")
	}
	for _, e := range c.HTTP.AdminAllowCIDRs {
		if !validCIDRorIP(e) {
			return fmt.Errorf("http.admin_allow_cidrs: %q is not an ip or cidr", e)
		}
	}
	if c.HTTP.LoginRateLimit.Max < 0 || c.HTTP.LoginRateLimit.Window < 0 {
		return errors.New("http.login_rate_limit must not be negative")
	}
	if c.Auth.TokenTTL < time.Minute {
		return errors.New("auth.token_ttl must be at least 1m")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 characters")
	}
	if c.Viewer.Scheme != "http" && c.Viewer.Scheme != "https" {
		return errors.New("viewer.scheme must be http or https")
	}
	if c.Viewer.Port <= 0 || c.Viewer.Port > 65535 {
		return errors.New("viewer.port is invalid")
	}
	if *c.Activity.RetentionDays < 0 {
		return errors.New("activity.retention_days must not be negative")
	}
	if c.Activity.PruneInterval < time.Minute {
		return errors.New("activity.prune_interval must be at least 1m")
	}
	if c.Activity.DefaultLimit < 1 || c.Activity.MaxLimit < c.Activity.DefaultLimit {
		return errors.New("activity.default_limit must be positive and not above activity.max_limit")
	}
	return nil
}

func validCIDRorIP(s string) bool {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		_, _, err := net.ParseCIDR(s)
		return err == nil
	}
	return net.ParseIP(s) != nil
}

// Write renders c as YAML to path with owner-only permissions. Secrets
// are written as given; keep them in the environment instead when the
// file is shared.
func Write(path string, c Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// ResolvePaths makes relative file paths in c relative to baseDir, the
// directory holding the config file.
func (c *Config) ResolvePaths(baseDir string) {
	c.DataDir = resolvePath(baseDir, c.DataDir)
	if c.DB.Driver == "sqlite" {
		c.DB.Path = resolvePath(baseDir, c.DB.Path)
	}
	c.HTTP.TLS.CertPath = resolvePath(baseDir, c.HTTP.TLS.CertPath)
	c.HTTP.TLS.KeyPath = resolvePath(baseDir, c.HTTP.TLS.KeyPath)
	c.Seal.IdentityPath = resolvePath(baseDir, c.Seal.IdentityPath)
}

func resolvePath(baseDir, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
