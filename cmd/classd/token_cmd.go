// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"time"

	"github.com/ManuGH/classd/internal/auth"
	"github.com/ManuGH/classd/internal/config"
	"github.com/ManuGH/classd/internal/daemon"
	"github.com/spf13/cobra"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API bearer tokens",
	}

	var subject string
	var scopes []string
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if subject == "" {
				return usageError{fmt.Errorf("--subject is required")}
			}
			if ttl <= 0 {
				return usageError{fmt.Errorf("--ttl must be positive")}
			}
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Auth.Mode == config.AuthModeDisabled {
				return usageError{fmt.Errorf("auth mode is %q; tokens would be ignored", config.AuthModeDisabled)}
			}
			v, err := daemon.NewVerifier(cfg.Auth)
			if err != nil {
				return err
			}
			token, err := v.Issue(subject, scopes, ttl)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issue.Flags().StringVar(&subject, "subject", "", "token subject (logged with every request)")
	issue.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeRead, auth.ScopeWrite}, "granted scopes")
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	cmd.AddCommand(issue)
	return cmd
}
