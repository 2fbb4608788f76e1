// Command reservationsctl is an operator tool for the reservations API. It
// mints development bearer tokens and renders service key entries.
//
// Usage:
//
//	reservationsctl token -sub alice -role STUDENT -ttl 1h
//	reservationsctl hash-key -name billing -secret s3cret
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/example/room-reservation/internal/auth"
	"github.com/example/room-reservation/internal/config"
)

var errUsage = errors.New("usage: reservationsctl <token|hash-key> [flags]")

func main() {
	if err := run(os.Args[1:], env.ToMap(os.Environ()), os.Stdout, time.Now); err != nil {
		fmt.Fprintf(os.Stderr, "reservationsctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, environ map[string]string, stdout io.Writer, now func() time.Time) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "token":
		return runToken(args[1:], environ, stdout, now)
	case "hash-key":
		return runHashKey(args[1:], stdout)
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
}

func runToken(args []string, environ map[string]string, stdout io.Writer, now func() time.Time) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	subject := fs.String("sub", "", "token subject (user id)")
	roles := fs.String("role", "STUDENT", "comma separated roles")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	cfg, err := config.LoadEnvironment(environ)
	if err != nil {
		return err
	}

	issuer, err := auth.NewIssuer([]byte(cfg.TokenSecret), cfg.TokenIssuer, now)
	if err != nil {
		return err
	}
	token, err := issuer.Mint(*subject, splitRoles(*roles), *ttl)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(stdout, token)
	return err
}

func runHashKey(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	name := fs.String("name", "", "service name")
	secret := fs.String("secret", "", "service key secret")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	if *name == "" || strings.ContainsAny(*name, ".@;") {
		return errors.New("-name is required and must not contain '.', '@' or ';'")
	}

	hash, err := auth.HashServiceKey(*secret, auth.DefaultArgon2idParams)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(stdout, auth.FormatServiceKeyEntry(*name, hash))
	return err
}

func splitRoles(raw string) []string {
	var roles []string
	for _, role := range strings.Split(raw, ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
