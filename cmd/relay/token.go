package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/doctordirect/consult-relay/internal/auth"
	"github.com/doctordirect/consult-relay/internal/core"
)

func newTokenCommand() *cobra.Command {
	var (
		userID string
		name   string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed identity token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			if !core.Role(role).Valid() {
				return fmt.Errorf("unknown role %q", role)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			jwtCfg := &auth.JWTConfig{
				Secret:   []byte(cfg.Auth.JWTSecret),
				Issuer:   cfg.Auth.JWTIssuer,
				Audience: cfg.Auth.JWTAudience,
				TTL:      cfg.Auth.TokenTTL,
			}
			if ttl > 0 {
				jwtCfg.TTL = ttl
			}

			token, err := auth.GenerateToken(jwtCfg, userID, name, role)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&userID, "user", "", "user id (token subject)")
	f.StringVar(&name, "name", "", "display name")
	f.StringVar(&role, "role", "patient", "role (patient, doctor, admin)")
	f.DurationVar(&ttl, "ttl", 0, "token lifetime (default from config)")
	return cmd
}
