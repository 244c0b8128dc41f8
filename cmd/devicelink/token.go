package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/nerrad567/devicelink/internal/auth"
	"github.com/nerrad567/devicelink/internal/infrastructure/logging"
)

// errNoSecret is returned when no JWT secret is configured.
var errNoSecret = errors.New("security.jwt.secret is not set (use DEVICELINK_JWT_SECRET)")

// runToken mints an API bearer token signed with the configured secret
// and writes it to out.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "", "token subject, e.g. the client name (required)")
	role := fs.String("role", string(auth.RoleViewer), "role: viewer or operator")
	ttl := fs.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("-subject is required")
	}

	cfg, err := loadConfig(logging.Discard())
	if err != nil {
		return err
	}
	if cfg.Security.JWT.Secret == "" {
		return errNoSecret
	}

	token, err := auth.GenerateToken(*subject, auth.Role(*role), cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintln(out, token)
	return nil
}
