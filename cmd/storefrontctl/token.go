package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func newTokenCmd(v *viper.Viper) *cobra.Command {
	token := &cobra.Command{
		Use:   "token",
		Short: "Bearer tokens for local testing",
	}

	var (
		userID string
		email  string
		ttl    time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign an access token with AUTH_JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := strings.TrimSpace(v.GetString("jwt_secret"))
			if secret == "" {
				return errors.New("AUTH_JWT_SECRET is required")
			}
			if strings.TrimSpace(userID) == "" {
				return errors.New("--user is required")
			}
			signed, err := auth.NewVerifier(secret).Issue(domain.User{ID: userID, Email: email}, ttl)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	issue.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	issue.Flags().StringVar(&email, "email", "", "user email")
	issue.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")

	token.AddCommand(issue)
	return token
}
