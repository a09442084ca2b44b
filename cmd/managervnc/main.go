// Command managervnc is the main entry point for the CLI binary.
// It dispatches to the setup, reset-admin, server and console subcommands.
package main

import (
	"fmt"
	"os"

	"managervnc/internal/cmd/console"
	"managervnc/internal/cmd/resetadmin"
	"managervnc/internal/cmd/server"
	"managervnc/internal/cmd/setup"
	"managervnc/internal/version"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// run invokes the subcommand named by argv[1].
func run(argv []string) error {
	if len(argv) < 2 {
		usage()
		return fmt.Errorf("missing subcommand")
	}

	switch argv[1] {
	case "setup":
		return setup.Run(argv[2:])
	case "reset-admin":
		return resetadmin.Run(argv[2:])
	case "server":
		return server.Run(argv[2:])
	case "console":
		return console.Run(argv[2:])
	case "version", "--version":
		fmt.Println("managervnc", version.Version)
		return nil
	case "-h", "--help", "help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown subcommand: %s", argv[1])
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "managervnc <setup|reset-admin|server|console|version> [flags]")
}
