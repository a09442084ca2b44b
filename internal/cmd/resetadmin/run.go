// Package resetadmin implements the "managervnc reset-admin" subcommand.
// It resets an account password directly in the database.
package resetadmin

import (
	"context"

	"github.com/spf13/pflag"

	isetup "managervnc/internal/setup"
)

// Run parses reset-admin flags and executes the reset. The server need not
// be running.
func Run(args []string) error {
	fs := pflag.NewFlagSet("reset-admin", pflag.ContinueOnError)
	var opt isetup.ResetAdminOptions
	fs.StringVarP(&opt.ConfigPath, "config", "c", "./managervnc.yaml", "path to managervnc.yaml")
	fs.StringVar(&opt.AdminEmail, "admin-email", "admin@localhost", "account whose password is reset")
	fs.StringVar(&opt.AdminPassword, "admin-password", "", "set password non-interactively")
	fs.BoolVar(&opt.AdminPasswordEnv, "admin-password-env", false, "read password from MANAGERVNC_ADMIN_PASSWORD")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return isetup.ResetAdmin(context.Background(), opt)
}
