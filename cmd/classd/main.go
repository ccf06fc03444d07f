// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command classd runs the classroom lifecycle dispatcher and its operator tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/classd/internal/config"
	"github.com/ManuGH/classd/internal/daemon"
	"github.com/ManuGH/classd/internal/domain/classroom/store"
	"github.com/ManuGH/classd/internal/health"
	xglog "github.com/ManuGH/classd/internal/log"
	"github.com/ManuGH/classd/internal/version"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// usageError marks failures caused by bad invocation (exit status 2).
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ue usageError
	if errors.As(err, &ue) {
		return 2
	}
	return 1
}

type rootOptions struct {
	configPath string
}

func (o *rootOptions) load() (config.AppConfig, *config.Loader, error) {
	loader := config.NewLoader(o.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return cfg, loader, nil
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "classd",
		Short:         "Classroom lifecycle dispatcher",
		SilenceUsage:  true,
		Version:       version.String(),
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv(config.EnvPrefix+"CONFIG"),
		"path to config file (YAML)")

	root.AddCommand(
		newServeCmd(opts),
		newConfigCmd(opts),
		newStorageCmd(opts),
		newTokenCmd(opts),
		newStatusCmd(),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	xglog.Configure(xglog.Config{Level: "info", Service: "classd", Version: version.Version})
	logger := xglog.WithComponent("main")

	cfg, loader, err := opts.load()
	if err != nil {
		logger.Error().Err(err).Str("config", opts.configPath).Msg("configuration rejected")
		return err
	}
	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: "classd", Version: version.Version})
	logger = xglog.WithComponent("main")

	dataDir := ""
	if cfg.Store.Backend != store.BackendMemory {
		dataDir = cfg.DataDir
		if err := os.MkdirAll(dataDir, 0o750); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	if err := health.PerformStartupChecks(dataDir); err != nil {
		return err
	}

	app, err := daemon.Build(ctx, cfg, version.Version)
	if err != nil {
		return err
	}

	holder := config.NewConfigHolder(cfg, loader)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("config watcher unavailable; hot reload disabled")
	}
	defer holder.Stop()
	app.WatchConfig(holder)

	go func() {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := holder.Reload(ctx); err != nil {
					logger.Warn().Err(err).Msg("reload on SIGHUP failed")
				}
			}
		}
	}()

	return app.Run(ctx)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "classd "+version.String())
		},
	}
}
