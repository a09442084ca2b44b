// Package console implements the "managervnc console" subcommand.
package console

import (
	"errors"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"managervnc/internal/apiclient"
	"managervnc/internal/config"
	iconsole "managervnc/internal/console"
	"managervnc/internal/workspace"
)

// Options captures console flags.
type Options struct {
	Addr          string
	Insecure      bool
	Email         string
	WorkspacePath string
	ConfigPath    string
	Viewer        workspace.Viewer
}

// Run starts the terminal client.
func Run(args []string) error {
	fs := pflag.NewFlagSet("console", pflag.ContinueOnError)
	var opt Options
	fs.StringVar(&opt.Addr, "addr", "http://127.0.0.1:4000", "server address")
	fs.BoolVar(&opt.Insecure, "insecure", false, "skip TLS verification (implied for localhost)")
	fs.StringVar(&opt.Email, "email", "", "prefill the sign-in email")
	fs.StringVar(&opt.WorkspacePath, "workspace", "", "workspace file (default: user config dir)")
	fs.StringVarP(&opt.ConfigPath, "config", "c", "", "read viewer settings from managervnc.yaml")
	fs.StringVar(&opt.Viewer.Scheme, "viewer-scheme", "http", "noVNC viewer scheme")
	fs.StringVar(&opt.Viewer.Host, "viewer-host", "", "noVNC viewer host (default: API host)")
	fs.IntVar(&opt.Viewer.Port, "viewer-port", workspace.DefaultViewerPort, "noVNC viewer port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if opt.ConfigPath != "" {
		c, err := config.Load(opt.ConfigPath)
		if err != nil {
			return err
		}
		if !fs.Changed("viewer-scheme") {
			opt.Viewer.Scheme = c.Viewer.Scheme
		}
		if !fs.Changed("viewer-host") {
			opt.Viewer.Host = c.Viewer.Host
		}
		if !fs.Changed("viewer-port") {
			opt.Viewer.Port = c.Viewer.Port
		}
	}

	if opt.WorkspacePath == "" {
		p, err := defaultWorkspacePath()
		if err != nil {
			return err
		}
		opt.WorkspacePath = p
	}

	c, err := apiclient.NewClient(apiclient.ClientOptions{
		Addr:     opt.Addr,
		Insecure: opt.Insecure || apiclient.IsLocal(opt.Addr),
	})
	if err != nil {
		return err
	}
	if opt.Viewer.Host == "" {
		opt.Viewer.Host = hostOf(c.Addr())
	}

	m := iconsole.New(iconsole.Options{
		Client: c,
		Store:  workspace.Store{Path: opt.WorkspacePath},
		Viewer: opt.Viewer,
		Email:  opt.Email,
	})
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

func defaultWorkspacePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.New("cannot locate user config dir; pass --workspace")
	}
	return filepath.Join(dir, "managervnc", "workspace.json"), nil
}
