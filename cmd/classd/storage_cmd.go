// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ManuGH/classd/internal/domain/classroom/store"
	"github.com/ManuGH/classd/internal/persistence/sqlite"
	"github.com/spf13/cobra"
)

var errStorageCorrupt = errors.New("storage integrity check failed")

func newStorageCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Maintain the state store",
	}

	var path, mode string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check the SQLite state store for corruption",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode = strings.ToLower(strings.TrimSpace(mode))
			if mode != "quick" && mode != "full" {
				return usageError{fmt.Errorf("invalid mode %q: use quick or full", mode)}
			}
			if path == "" {
				cfg, _, err := opts.load()
				if err != nil {
					return err
				}
				if cfg.Store.Backend != store.BackendSqlite {
					return usageError{fmt.Errorf("store backend is %q; verify supports %q only", cfg.Store.Backend, store.BackendSqlite)}
				}
				path = cfg.StorePath()
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "verifying %s (%s)\n", path, mode)
			issues, err := sqlite.VerifyIntegrity(cmd.Context(), path, mode)
			if err != nil {
				return err
			}
			if len(issues) > 0 {
				for _, issue := range issues {
					_, _ = fmt.Fprintf(out, "  - %s\n", issue)
				}
				return errStorageCorrupt
			}
			_, _ = fmt.Fprintln(out, "ok")
			return nil
		},
	}
	verify.Flags().StringVar(&path, "path", "", "database file (defaults to the configured store path)")
	verify.Flags().StringVar(&mode, "mode", "quick", "verification mode: quick or full")

	cmd.AddCommand(verify)
	return cmd
}
