package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/drblury/cidflow/internal/authsvc"
)

var (
	tokenSubject string
	tokenScopes  []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a token signed with the configured token_secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		if conf.TokenSecret == "" {
			return errors.New("token_secret is not configured")
		}
		svc, err := authsvc.New(conf.TokenSecret, nil)
		if err != nil {
			return err
		}
		token, err := svc.Issue(tokenSubject, tokenScopes, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "token subject")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", nil, "granted scope, repeatable (resource:action or superuser)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}
