package setup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"managervnc/internal/config"
	"managervnc/internal/validate"
)

func resolveAdminPassword(label, flagValue string, fromEnv bool) (string, error) {
	if flagValue != "" && fromEnv {
		return "", errors.New("choose one of --admin-password or --admin-password-env")
	}
	var v string
	switch {
	case fromEnv:
		v = strings.TrimSpace(os.Getenv(config.EnvAdminPassword))
		if v == "" {
			return "", errors.New(config.EnvAdminPassword + " is empty")
		}
	case flagValue != "":
		v = strings.TrimSpace(flagValue)
	default:
		return promptPassword(os.Stdin, os.Stderr, label)
	}
	if err := validate.Password(v); err != nil {
		return "", err
	}
	return v, nil
}

// promptPassword asks twice until both entries match and pass the
// password rules. Echo is suppressed when in is a terminal.
func promptPassword(in *os.File, out io.Writer, label string) (string, error) {
	read := lineReader(in, out)
	for {
		fmt.Fprintf(out, "%s: ", label)
		p1, err := read()
		if err != nil {
			return "", err
		}
		fmt.Fprint(out, "Confirm password: ")
		p2, err := read()
		if err != nil {
			return "", err
		}
		if err := validate.Password(p1); err != nil {
			fmt.Fprintln(out, err.Error())
			continue
		}
		if p1 != p2 {
			fmt.Fprintln(out, "passwords do not match")
			continue
		}
		return p1, nil
	}
}

func lineReader(in *os.File, out io.Writer) func() (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		return func() (string, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(out)
			return strings.TrimSpace(string(b)), err
		}
	}
	r := bufio.NewReader(in)
	return func() (string, error) {
		s, err := r.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && s != "") {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
}
