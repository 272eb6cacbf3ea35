package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jwttoken "relay/internal/jwt_token"
	id "relay/pkg/domain"
)

// newTokenCmd mints a principal token, the credential a chat gateway presents
// on behalf of one of its users.
func newTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <principal>",
		Short: "Mint a bearer token for a transport principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			principal, err := id.ParsePrincipal(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
			token, err := jwtService.GeneratePrincipalToken(principal, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
