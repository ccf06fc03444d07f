// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/classd/internal/config"
	"github.com/ManuGH/classd/internal/domain/classroom/manager"
	"github.com/ManuGH/classd/internal/domain/classroom/store"
	"github.com/ManuGH/classd/internal/gateway"
	"github.com/ManuGH/classd/internal/gateway/transport"
	"github.com/ManuGH/classd/internal/health"
	"github.com/ManuGH/classd/internal/log"
	"github.com/ManuGH/classd/internal/telemetry"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const badgerDiscardRatio = 0.5

// ShutdownHook performs cleanup during shutdown. Hooks run in reverse
// registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// App is an assembled classd instance.
type App struct {
	cfg    config.AppConfig
	logger zerolog.Logger

	tracing    *telemetry.Provider
	store      store.StateStore
	transport  transport.Transport
	gateway    *gateway.Gateway
	simulator  *gateway.Simulator
	orch       *manager.Orchestrator
	reconciler *manager.Reconciler
	health     *health.Manager
	handler    http.Handler
	holder     *config.ConfigHolder

	mu       sync.Mutex
	hooks    []namedHook
	started  bool
	listener net.Listener
}

// Handler exposes the HTTP handler; tests drive it without a listener.
func (a *App) Handler() http.Handler { return a.handler }

// Orchestrator exposes the lifecycle orchestrator.
func (a *App) Orchestrator() *manager.Orchestrator { return a.orch }

// Addr returns the bound listen address once Run has opened it.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// WatchConfig applies hot-reloadable settings from holder while Run is active.
func (a *App) WatchConfig(holder *config.ConfigHolder) {
	a.holder = holder
}

// RegisterShutdownHook registers a cleanup function to be called during shutdown.
func (a *App) RegisterShutdownHook(name string, hook ShutdownHook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = append(a.hooks, namedHook{name: name, hook: hook})
}

// Run starts every component and blocks until ctx is done or one of them
// fails. Shutdown hooks always run before Run returns.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	a.mu.Unlock()

	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		_ = a.runHooks(context.WithoutCancel(ctx))
		return fmt.Errorf("%w: %w", ErrServerStartFailed, err)
	}
	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()

	srv := &http.Server{
		Handler:           a.handler,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout / 2,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		IdleTimeout:       a.cfg.Server.IdleTimeout,
	}

	a.logger.Info().
		Str("listen", ln.Addr().String()).
		Str("store", a.cfg.Store.Backend).
		Str("transport", a.cfg.Transport.Kind).
		Bool("simulate", a.simulator != nil).
		Msg("starting classd")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.orch.Run(gctx) })
	g.Go(func() error { return a.gateway.Run(gctx) })
	g.Go(func() error {
		a.reconciler.Run(gctx)
		return nil
	})
	if a.simulator != nil {
		g.Go(func() error { return a.simulator.Run(gctx) })
	}
	if gc, ok := a.store.(*store.BadgerStore); ok {
		g.Go(func() error {
			a.runBadgerGC(gctx, gc)
			return nil
		})
	}
	if a.holder != nil {
		g.Go(func() error {
			a.applyReloads(gctx)
			return nil
		})
	}
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if runErr != nil {
		a.logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	hookErr := a.runHooks(shutdownCtx)
	if err := errors.Join(runErr, hookErr); err != nil {
		return err
	}
	a.logger.Info().Msg("classd stopped cleanly")
	return nil
}

func (a *App) runHooks(ctx context.Context) error {
	a.mu.Lock()
	hooks := a.hooks
	a.hooks = nil
	a.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.hook(ctx); err != nil {
			a.logger.Error().Err(err).Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		a.logger.Debug().Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook completed")
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

func (a *App) runBadgerGC(ctx context.Context, st *store.BadgerStore) {
	ticker := time.NewTicker(a.cfg.Store.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := st.RunGC(badgerDiscardRatio); err != nil {
				a.logger.Warn().Err(err).Msg("badger value log GC failed")
			}
		}
	}
}

// applyReloads applies the log level of every reloaded configuration.
func (a *App) applyReloads(ctx context.Context) {
	ch := make(chan config.AppConfig, 1)
	a.holder.RegisterListener(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case next := <-ch:
			if err := log.SetLevel(next.LogLevel); err != nil {
				a.logger.Warn().Err(err).Msg("ignoring reloaded log level")
				continue
			}
			a.logger.Info().Str("level", next.LogLevel).Msg("log level applied")
		}
	}
}

func (a *App) breakerStates() map[string]string {
	states := a.gateway.BreakerStates()
	out := make(map[string]string, len(states))
	for t, s := range states {
		out[string(t)] = string(s)
	}
	return out
}
