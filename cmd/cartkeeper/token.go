package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/CartKeeper/internal/api"
	"github.com/IshaanNene/CartKeeper/internal/config"
)

var (
	tokenOwner string
	tokenTTL   time.Duration
)

// tokenCmd issues a bearer token signed with server.jwt_secret. It stands
// in for a real identity provider in self-hosted setups.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if err := config.ValidateServe(cfg); err != nil {
				return err
			}
			token, err := api.IssueToken(cfg.Server.JWTSecret, tokenOwner, tokenTTL)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&tokenOwner, "owner", "", "user id the token is issued to")
	cmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
