// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon assembles classd from its configuration and supervises the
// long-running components.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/classd/internal/api"
	"github.com/ManuGH/classd/internal/auth"
	"github.com/ManuGH/classd/internal/config"
	"github.com/ManuGH/classd/internal/domain/classroom/manager"
	"github.com/ManuGH/classd/internal/domain/classroom/model"
	"github.com/ManuGH/classd/internal/domain/classroom/store"
	"github.com/ManuGH/classd/internal/gateway"
	"github.com/ManuGH/classd/internal/gateway/transport"
	"github.com/ManuGH/classd/internal/health"
	"github.com/ManuGH/classd/internal/log"
	"github.com/ManuGH/classd/internal/telemetry"
)

// Build opens every resource cfg names and wires the components. On error
// everything opened so far is closed again.
func Build(ctx context.Context, cfg config.AppConfig, version string) (app *App, err error) {
	a := &App{
		cfg:    cfg,
		logger: log.WithComponent("daemon"),
	}
	defer func() {
		if err != nil {
			_ = a.runHooks(context.WithoutCancel(ctx))
		}
	}()

	if a.tracing, err = telemetry.NewProvider(ctx, telemetryConfig(cfg, version)); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.RegisterShutdownHook("tracing", a.tracing.Shutdown)

	if a.store, err = openStore(cfg); err != nil {
		return nil, err
	}
	a.RegisterShutdownHook("store", func(context.Context) error { return a.store.Close() })

	if a.transport, err = openTransport(cfg); err != nil {
		return nil, err
	}
	a.RegisterShutdownHook("transport", func(context.Context) error { return a.transport.Close() })

	registry, err := buildRegistry(cfg.Gateway)
	if err != nil {
		return nil, err
	}
	a.gateway = gateway.New(a.transport, registry, gatewayConfig(cfg.Gateway))
	if cfg.Gateway.Simulate {
		a.simulator = &gateway.Simulator{
			Transport:    a.transport,
			Registry:     registry,
			InboundTopic: cfg.Gateway.InboundTopic,
		}
	}

	a.orch = manager.New(a.store, a.gateway, manager.Config{
		ReplyTimeout:            cfg.Orchestrator.ReplyTimeout,
		DispatchScheduleUpdates: cfg.Orchestrator.DispatchScheduleUpdates,
		ConflictRetries:         cfg.Orchestrator.ConflictRetries,
		InboxSize:               cfg.Orchestrator.InboxSize,
	})
	if err := a.gateway.OnMessage(a.orch.Deliver); err != nil {
		return nil, err
	}
	a.reconciler = &manager.Reconciler{Orch: a.orch, Conf: manager.ReconcilerConfig{
		Interval:            cfg.Reconciler.Interval,
		RetryBudget:         cfg.Reconciler.RetryBudget,
		StaleRequestedAfter: cfg.Reconciler.StaleRequestedAfter,
		BatchSize:           cfg.Reconciler.BatchSize,
	}}

	a.health = health.NewManager(version)
	a.health.RegisterChecker(health.NewPingChecker("store", a.store.Ping))
	a.health.RegisterChecker(health.NewPingChecker("transport", a.gateway.Ping))
	a.health.RegisterChecker(health.NewBreakerChecker(a.breakerStates))

	srv, err := buildAPI(cfg, a)
	if err != nil {
		return nil, err
	}
	a.handler = srv.Handler()
	return a, nil
}

func openStore(cfg config.AppConfig) (store.StateStore, error) {
	path := cfg.StorePath()
	if path != "" && cfg.Store.Backend != store.BackendMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	st, err := store.OpenStateStore(cfg.Store.Backend, path)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	return st, nil
}

func openTransport(cfg config.AppConfig) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportMemory:
		return transport.NewMemoryBus(), nil
	case config.TransportRedis:
		r := cfg.Transport.Redis
		t, err := transport.NewRedisStreams(transport.RedisConfig{
			Addr:         r.Addr,
			Password:     r.Password,
			DB:           r.DB,
			StreamPrefix: r.StreamPrefix,
			Group:        r.Group,
			Consumer:     r.Consumer,
			Block:        r.Block,
			MaxLen:       r.MaxLen,
		}, log.WithComponent("transport"))
		if err != nil {
			return nil, fmt.Errorf("open redis transport: %w", err)
		}
		return t, nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
}

func buildRegistry(g config.GatewayConfig) (*gateway.Registry, error) {
	routes := make(map[model.Category]gateway.Target, len(g.Routes))
	for cat, target := range g.Routes {
		c, err := model.ParseCategory(cat)
		if err != nil {
			return nil, err
		}
		t, err := gateway.ParseTarget(target)
		if err != nil {
			return nil, err
		}
		routes[c] = t
	}
	adapters := make([]*gateway.Adapter, 0, len(g.Codecs))
	for target, name := range g.Codecs {
		t, err := gateway.ParseTarget(target)
		if err != nil {
			return nil, err
		}
		codec, err := gateway.CodecByName(name)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, gateway.NewAdapter(t, codec))
	}
	return gateway.NewRegistry(routes, adapters...)
}

func gatewayConfig(g config.GatewayConfig) gateway.Config {
	return gateway.Config{
		Retry: gateway.RetryConfig{
			MaxAttempts:   g.Retry.MaxAttempts,
			InitialDelay:  g.Retry.InitialDelay,
			MaxDelay:      g.Retry.MaxDelay,
			BackoffFactor: g.Retry.BackoffFactor,
			Jitter:        g.Retry.Jitter,
		},
		BreakerThreshold: g.BreakerThreshold,
		BreakerReset:     g.BreakerReset,
		RateLimit:        g.RateLimit,
		RateBurst:        g.RateBurst,
		InboundTopic:     g.InboundTopic,
		Source:           g.Source,
	}
}

func telemetryConfig(cfg config.AppConfig, version string) telemetry.Config {
	t := cfg.Telemetry
	return telemetry.Config{
		Enabled:        t.Enabled,
		ServiceName:    t.ServiceName,
		ServiceVersion: version,
		Environment:    t.Environment,
		ExporterType:   t.ExporterType,
		Endpoint:       t.Endpoint,
		SamplingRate:   t.SamplingRate,
		Insecure:       t.Insecure,
	}
}

func buildAPI(cfg config.AppConfig, a *App) (*api.Server, error) {
	deps := api.Deps{Classrooms: a.orch, Probes: a.health}
	switch cfg.Auth.Mode {
	case config.AuthModeDisabled:
		a.logger.Warn().Str(log.FieldEvent, "auth.disabled").Msg("authentication disabled; every request runs as anonymous")
	case config.AuthModeScopes, config.AuthModeAllowAll:
		v, err := NewVerifier(cfg.Auth)
		if err != nil {
			return nil, err
		}
		deps.Verifier = v
		deps.Authorizer = auth.AllowAll{}
		if cfg.Auth.Mode == config.AuthModeScopes {
			deps.Authorizer = auth.ScopeAuthorizer{}
		}
	default:
		return nil, errors.New("unknown auth mode " + cfg.Auth.Mode)
	}

	tracing := ""
	if cfg.Telemetry.Enabled {
		tracing = cfg.Telemetry.ServiceName
	}
	return api.New(api.Config{
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RateLimit:      cfg.Server.RateLimit,
		TracingService: tracing,
	}, deps), nil
}

// NewVerifier builds the token verifier for the auth section. The CLI uses
// it to issue tokens.
func NewVerifier(a config.AuthConfig) (*auth.Verifier, error) {
	v, err := auth.NewVerifier(auth.VerifierConfig{
		Secret:   []byte(a.Secret),
		Issuer:   a.Issuer,
		Audience: a.Audience,
		Leeway:   a.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("init token verifier: %w", err)
	}
	return v, nil
}
