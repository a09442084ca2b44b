// Package daemon assembles the store, services and HTTP API from a loaded
// config and runs them until the context ends.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"managervnc/internal/auth"
	"managervnc/internal/config"
	"managervnc/internal/credseal"
	"managervnc/internal/db"
	"managervnc/internal/httpapi"
	"managervnc/internal/identity"
	"managervnc/internal/policy"
	"managervnc/internal/registry"
	"managervnc/internal/setup"
)

// Options configures Run. Config paths must already be resolved.
type Options struct {
	Config config.Config
	Logger *slog.Logger
}

// Run serves the API and the background janitor. It returns when ctx is
// cancelled or either fails.
func Run(ctx context.Context, opt Options) error {
	c := opt.Config
	lg := opt.Logger
	if lg == nil {
		lg = slog.Default()
	}

	dialect, err := db.ParseDialect(c.DB.Driver)
	if err != nil {
		return err
	}
	d, err := db.Connect(ctx, dialect, c.DB.Target())
	if err != nil {
		return fmt.Errorf("open %s store: %w", dialect, err)
	}
	defer d.Close()

	initialized, err := d.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if !initialized {
		return errors.New("not initialized; run setup")
	}
	stored, err := setup.LoadStored(ctx, d)
	if err != nil {
		return err
	}

	secret := firstNonEmpty(c.Auth.JWTSecret, stored.JWTSecret)
	if secret == "" {
		return errors.New("missing jwt secret; run setup or set " + config.EnvJWTSecret)
	}
	tokens, err := auth.NewIssuer(secret, c.Auth.TokenTTL)
	if err != nil {
		return err
	}

	var sealer *credseal.Sealer
	if p := firstNonEmpty(c.Seal.IdentityPath, stored.SealIdentity); p != "" {
		sealer, err = credseal.LoadOrCreate(p)
		if err != nil {
			return fmt.Errorf("seal identity: %w", err)
		}
	}

	ids := identity.New(d, tokens, lg.With("component", "identity"))
	reg := registry.New(d, policy.Policy{AdminOverridesPersonal: c.Policy.AdminOverridesPersonal}, sealer, lg.With("component", "registry"))
	reg.Limits = registry.Limits{DefaultActivity: c.Activity.DefaultLimit, MaxActivity: c.Activity.MaxLimit}

	certPath, keyPath := c.HTTP.TLS.CertPath, c.HTTP.TLS.KeyPath
	if certPath == "" && keyPath == "" {
		certPath, keyPath = stored.TLSCertPath, stored.TLSKeyPath
	}

	api, err := httpapi.New(d, ids, reg, lg.With("component", "http"), httpapi.Options{
		BindAddr:        c.HTTP.Bind,
		Port:            c.HTTP.Port,
		CertPath:        certPath,
		KeyPath:         keyPath,
		CORSOrigins:     c.HTTP.CORSOrigins,
		AdminAllowCIDRs: c.HTTP.AdminAllowCIDRs,
		LoginRateMax:    c.HTTP.LoginRateLimit.Max,
		LoginRateWindow: c.HTTP.LoginRateLimit.Window,
	})
	if err != nil {
		return err
	}
	defer api.Close()

	lg.Info("starting",
		"db_driver", dialect.String(),
		"sealed_passwords", sealer != nil,
		"admin_overrides_personal", c.Policy.AdminOverridesPersonal,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	j := &janitor{
		DB:        d,
		Registry:  reg,
		Retention: c.Activity.Retention(),
		Interval:  c.Activity.PruneInterval,
		Log:       lg.With("component", "janitor"),
		now:       time.Now,
	}
	errCh := make(chan error, 2)
	go func() { errCh <- api.Run(ctx) }()
	go func() { j.Run(ctx); errCh <- nil }()

	err = <-errCh
	cancel()
	if err2 := <-errCh; err == nil {
		err = err2
	}
	lg.Info("stopped")
	return err
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
