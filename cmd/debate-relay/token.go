package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wailbentafat/debate-relay/auth"
)

func newTokenCmd(root *rootOptions) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the debate endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if !cfg.Auth.Enabled() {
				return errors.New("auth.jwt_secret is not set")
			}
			token, err := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).Issue(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, e.g. a dashboard name")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
