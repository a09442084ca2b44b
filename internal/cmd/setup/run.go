// Package setup implements the "managervnc setup" subcommand.
package setup

import (
	"context"

	"github.com/spf13/pflag"

	"managervnc/internal/logging"
	isetup "managervnc/internal/setup"
)

// Run parses setup flags and initializes config, database and admin.
func Run(args []string) error {
	fs := pflag.NewFlagSet("setup", pflag.ContinueOnError)
	var opt isetup.Options
	fs.StringVarP(&opt.ConfigPath, "config", "c", "./managervnc.yaml", "config file to create or reuse")
	fs.StringVar(&opt.DataDir, "data-dir", "", "data directory for a new config (database, keys, certs)")
	fs.StringVar(&opt.AdminEmail, "admin-email", "admin@localhost", "email of the first ADMIN account")
	fs.StringVar(&opt.AdminPassword, "admin-password", "", "set admin password non-interactively")
	fs.BoolVar(&opt.AdminPasswordEnv, "admin-password-env", false, "read admin password from MANAGERVNC_ADMIN_PASSWORD")
	fs.BoolVar(&opt.GenerateTLS, "tls", false, "generate a self-signed TLS certificate")
	fs.BoolVar(&opt.SealPasswords, "seal", false, "generate a key and encrypt stored VNC passwords")
	if err := fs.Parse(args); err != nil {
		return err
	}

	lg, _, err := logging.New(logging.Options{Level: "info"})
	if err != nil {
		return err
	}
	opt.Logger = lg
	return isetup.Run(context.Background(), opt)
}
