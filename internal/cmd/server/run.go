// Package server implements the "managervnc server" subcommand.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"managervnc/internal/config"
	"managervnc/internal/daemon"
	"managervnc/internal/logging"
	"managervnc/internal/version"
)

// Options captures server flags. Flags override the config file.
type Options struct {
	ConfigPath string
	LogLevel   string
	LogJSON    bool
	Bind       string
	Port       int
}

// Run loads the config and serves until SIGINT or SIGTERM.
func Run(args []string) error {
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	var opt Options
	var showVersion bool
	fs.StringVarP(&opt.ConfigPath, "config", "c", "./managervnc.yaml", "path to managervnc.yaml")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&opt.LogLevel, "log-level", "", "log level: debug|info|warning|error (overrides config)")
	fs.BoolVar(&opt.LogJSON, "log-json", false, "emit JSON logs")
	fs.StringVar(&opt.Bind, "bind", "", "bind address (overrides config)")
	fs.IntVar(&opt.Port, "port", 0, "API port (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVersion {
		fmt.Printf("managervnc server %s\n", version.Version)
		return nil
	}
	if strings.TrimSpace(opt.ConfigPath) == "" {
		return errors.New("--config is required")
	}

	c, err := config.Load(opt.ConfigPath)
	if err != nil {
		return err
	}
	c.ResolvePaths(filepath.Dir(opt.ConfigPath))
	if opt.Bind != "" {
		c.HTTP.Bind = opt.Bind
	}
	if opt.Port != 0 {
		c.HTTP.Port = opt.Port
	}

	level := c.Log.Level
	if strings.TrimSpace(opt.LogLevel) != "" {
		level = opt.LogLevel
	}
	lg, _, err := logging.New(logging.Options{Level: level, JSON: c.Log.JSON || opt.LogJSON, DefaultSlog: true})
	if err != nil {
		return err
	}
	lg.Info("starting", "version", version.Version, "config", opt.ConfigPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return daemon.Run(ctx, daemon.Options{Config: c, Logger: lg})
}
