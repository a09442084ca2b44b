// Package setup performs first-run initialization and offline admin
// recovery against the configured database.
package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"managervnc/internal/auth"
	"managervnc/internal/config"
	"managervnc/internal/credseal"
	"managervnc/internal/db"
	"managervnc/internal/identity"
	"managervnc/internal/logging"
)

// Keys written to the config table.
const (
	KeyJWTSecret    = "jwt_secret"
	KeyTLSCertPath  = "tls_cert_path"
	KeyTLSKeyPath   = "tls_key_path"
	KeySealIdentity = "seal_identity_path"
)

// Options configures Run.
type Options struct {
	ConfigPath       string
	DataDir          string
	AdminEmail       string
	AdminPassword    string
	AdminPasswordEnv bool
	GenerateTLS      bool
	SealPasswords    bool
	Logger           *slog.Logger
}

// Run writes a default config when none exists, then initializes the
// database: token secret, optional TLS certificate and sealing key, and
// the first ADMIN account.
func Run(ctx context.Context, opt Options) error {
	if opt.ConfigPath == "" {
		return errors.New("config path is required")
	}
	if strings.TrimSpace(opt.AdminEmail) == "" {
		return errors.New("admin email is required")
	}
	lg := opt.Logger
	if lg == nil {
		lg = logging.Discard()
	}

	c, err := loadOrCreateConfig(opt.ConfigPath, opt.DataDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return err
	}
	if c.DB.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(c.DB.Path), 0o700); err != nil {
			return err
		}
	}

	d, err := db.Connect(ctx, mustDialect(c.DB.Driver), c.DB.Target())
	if err != nil {
		return err
	}
	defer d.Close()
	if c.DB.Driver == "sqlite" {
		_ = os.Chmod(c.DB.Path, 0o600)
	}

	initialized, err := d.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if initialized {
		return errors.New("already initialized")
	}

	pass, err := resolveAdminPassword("Set initial admin password", opt.AdminPassword, opt.AdminPasswordEnv)
	if err != nil {
		return err
	}

	secret, err := auth.NewToken(32)
	if err != nil {
		return err
	}
	if err := d.SetConfig(ctx, KeyJWTSecret, secret); err != nil {
		return err
	}

	if opt.GenerateTLS {
		certPath := filepath.Join(c.DataDir, "tls.crt")
		keyPath := filepath.Join(c.DataDir, "tls.key")
		if err := ensureTLSCert(certPath, keyPath); err != nil {
			return fmt.Errorf("tls certificate: %w", err)
		}
		if err := d.SetConfig(ctx, KeyTLSCertPath, certPath); err != nil {
			return err
		}
		if err := d.SetConfig(ctx, KeyTLSKeyPath, keyPath); err != nil {
			return err
		}
		lg.Info("generated self-signed certificate", "cert", certPath)
	}

	if opt.SealPasswords {
		sealPath := filepath.Join(c.DataDir, "seal.key")
		s, err := credseal.LoadOrCreate(sealPath)
		if err != nil {
			return fmt.Errorf("seal identity: %w", err)
		}
		if err := d.SetConfig(ctx, KeySealIdentity, sealPath); err != nil {
			return err
		}
		lg.Info("machine passwords will be sealed", "recipient", s.Recipient())
	}

	ids := identity.New(d, nil, lg)
	admin, created, err := ids.EnsureAdmin(ctx, opt.AdminEmail, pass)
	if err != nil {
		return err
	}
	if created {
		lg.Info("admin account created", "email", admin.Email)
	} else {
		lg.Warn("admin account already existed; password unchanged", "email", admin.Email)
	}

	return d.SetInitialized(ctx)
}

// ResetAdminOptions configures ResetAdmin.
type ResetAdminOptions struct {
	ConfigPath       string
	AdminEmail       string
	AdminPassword    string
	AdminPasswordEnv bool
}

// ResetAdmin sets a new password for an existing account directly in the
// database and revokes its sessions. The server need not be running.
func ResetAdmin(ctx context.Context, opt ResetAdminOptions) error {
	c, err := config.Load(opt.ConfigPath)
	if err != nil {
		return err
	}
	c.ResolvePaths(filepath.Dir(opt.ConfigPath))

	d, err := db.Connect(ctx, mustDialect(c.DB.Driver), c.DB.Target())
	if err != nil {
		return err
	}
	defer d.Close()

	initialized, err := d.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if !initialized {
		return errors.New("not initialized; run setup")
	}

	pass, err := resolveAdminPassword("Set admin password", opt.AdminPassword, opt.AdminPasswordEnv)
	if err != nil {
		return err
	}
	return identity.New(d, nil, nil).ResetPassword(ctx, opt.AdminEmail, pass)
}

func loadOrCreateConfig(path, dataDir string) (config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		c := config.Default()
		if dataDir != "" {
			c.DataDir = dataDir
			c.DB.Path = filepath.Join(dataDir, "managervnc.db")
		}
		if err := config.Write(path, c); err != nil {
			return config.Config{}, err
		}
	}
	c, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	c.ResolvePaths(filepath.Dir(path))
	return c, nil
}

// mustDialect maps a driver name that config.Load already validated.
func mustDialect(driver string) db.Dialect {
	d, _ := db.ParseDialect(driver)
	return d
}

// Stored holds the secrets and paths setup persisted.
type Stored struct {
	JWTSecret    string
	TLSCertPath  string
	TLSKeyPath   string
	SealIdentity string
}

// LoadStored reads what setup wrote. Missing keys are empty.
func LoadStored(ctx context.Context, d *db.DB) (Stored, error) {
	var s Stored
	for key, dst := range map[string]*string{
		KeyJWTSecret:    &s.JWTSecret,
		KeyTLSCertPath:  &s.TLSCertPath,
		KeyTLSKeyPath:   &s.TLSKeyPath,
		KeySealIdentity: &s.SealIdentity,
	} {
		v, _, err := d.GetConfig(ctx, key)
		if err != nil {
			return Stored{}, err
		}
		*dst = v
	}
	return s, nil
}
