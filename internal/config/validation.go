// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ManuGH/classd/internal/domain/classroom/model"
	"github.com/ManuGH/classd/internal/domain/classroom/store"
	"github.com/ManuGH/classd/internal/gateway"
	"github.com/rs/zerolog"
)

// ErrInvalidConfig is wrapped by every field error returned from Validate.
var ErrInvalidConfig = errors.New("invalid config")

// minSecretLen matches the HS256 key size.
const minSecretLen = 32

// FieldError names the offending key.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidConfig }

type validator struct {
	errs []error
}

func (v *validator) fail(field, format string, args ...any) {
	v.errs = append(v.errs, &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

func (v *validator) positive(field string, d time.Duration) {
	if d <= 0 {
		v.fail(field, "must be positive, got %s", d)
	}
}

func (v *validator) atLeast(field string, n, min int) {
	if n < min {
		v.fail(field, "must be >= %d, got %d", min, n)
	}
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg AppConfig) error {
	v := &validator{}

	if cfg.Version != "" && cfg.Version != CurrentVersion {
		v.fail("version", "unsupported version %q (want %s)", cfg.Version, CurrentVersion)
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil || cfg.LogLevel == "" {
		v.fail("logLevel", "unknown level %q", cfg.LogLevel)
	}

	validateServer(v, cfg.Server)
	validateAuth(v, cfg.Auth)
	validateStore(v, cfg)
	validateTransport(v, cfg.Transport)
	validateGateway(v, cfg.Gateway, cfg.Transport.Kind)

	v.positive("orchestrator.replyTimeout", cfg.Orchestrator.ReplyTimeout)
	v.atLeast("orchestrator.conflictRetries", cfg.Orchestrator.ConflictRetries, 1)
	v.atLeast("orchestrator.inboxSize", cfg.Orchestrator.InboxSize, 1)

	v.positive("reconciler.interval", cfg.Reconciler.Interval)
	v.atLeast("reconciler.retryBudget", cfg.Reconciler.RetryBudget, 1)
	v.positive("reconciler.staleRequestedAfter", cfg.Reconciler.StaleRequestedAfter)
	v.atLeast("reconciler.batchSize", cfg.Reconciler.BatchSize, 1)

	validateTelemetry(v, cfg.Telemetry)

	return errors.Join(v.errs...)
}

func validateServer(v *validator, s ServerConfig) {
	if _, _, err := net.SplitHostPort(s.ListenAddr); err != nil {
		v.fail("server.listenAddr", "invalid address %q: %v", s.ListenAddr, err)
	}
	v.positive("server.readTimeout", s.ReadTimeout)
	v.positive("server.writeTimeout", s.WriteTimeout)
	v.positive("server.shutdownTimeout", s.ShutdownTimeout)
	if s.MaxBodyBytes <= 0 {
		v.fail("server.maxBodyBytes", "must be positive")
	}
	if s.RateLimit < 0 {
		v.fail("server.rateLimit", "must not be negative")
	}
}

func validateAuth(v *validator, a AuthConfig) {
	switch a.Mode {
	case AuthModeDisabled:
		return
	case AuthModeScopes, AuthModeAllowAll:
	default:
		v.fail("auth.mode", "unknown mode %q", a.Mode)
		return
	}
	if len(a.Secret) < minSecretLen {
		v.fail("auth.secret", "must be at least %d bytes", minSecretLen)
	}
	if a.Leeway < 0 {
		v.fail("auth.leeway", "must not be negative")
	}
}

func validateStore(v *validator, cfg AppConfig) {
	switch cfg.Store.Backend {
	case store.BackendMemory:
	case store.BackendSqlite, store.BackendBadger:
		if cfg.StorePath() == "" {
			v.fail("store.path", "required for backend %s when dataDir is empty", cfg.Store.Backend)
		}
	default:
		v.fail("store.backend", "unknown backend %q", cfg.Store.Backend)
	}
	if cfg.Store.Backend == store.BackendBadger {
		v.positive("store.gcInterval", cfg.Store.GCInterval)
	}
}

func validateTransport(v *validator, t TransportConfig) {
	switch t.Kind {
	case TransportMemory:
	case TransportRedis:
		if t.Redis.Addr == "" {
			v.fail("transport.redis.addr", "required for the redis transport")
		}
		if t.Redis.DB < 0 {
			v.fail("transport.redis.db", "must not be negative")
		}
	default:
		v.fail("transport.kind", "unknown transport %q", t.Kind)
	}
}

func validateGateway(v *validator, g GatewayConfig, transportKind string) {
	if g.InboundTopic == "" {
		v.fail("gateway.inboundTopic", "required")
	}
	for _, c := range model.AllCategories {
		if _, ok := g.Routes[string(c)]; !ok {
			v.fail("gateway.routes", "no route for category %s", c)
		}
	}
	for cat, target := range g.Routes {
		if _, err := model.ParseCategory(cat); err != nil {
			v.fail("gateway.routes", "%v", err)
		}
		t, err := gateway.ParseTarget(target)
		if err != nil {
			v.fail("gateway.routes."+cat, "%v", err)
			continue
		}
		if _, ok := g.Codecs[string(t)]; !ok {
			v.fail("gateway.codecs", "no codec for routed target %s", t)
		}
	}
	for target, codec := range g.Codecs {
		if _, err := gateway.ParseTarget(target); err != nil {
			v.fail("gateway.codecs", "%v", err)
		}
		if _, err := gateway.CodecByName(codec); err != nil {
			v.fail("gateway.codecs."+target, "%v", err)
		}
	}
	v.atLeast("gateway.retry.maxAttempts", g.Retry.MaxAttempts, 1)
	if g.Retry.BackoffFactor < 1 {
		v.fail("gateway.retry.backoffFactor", "must be >= 1")
	}
	if g.Retry.Jitter < 0 || g.Retry.Jitter > 1 {
		v.fail("gateway.retry.jitter", "must be within [0,1]")
	}
	v.atLeast("gateway.breakerThreshold", g.BreakerThreshold, 1)
	v.positive("gateway.breakerReset", g.BreakerReset)
	if g.RateLimit < 0 {
		v.fail("gateway.rateLimit", "must not be negative")
	}
	if g.Simulate && transportKind != TransportMemory {
		v.fail("gateway.simulate", "requires the memory transport")
	}
}

func validateTelemetry(v *validator, t TelemetryConfig) {
	if !t.Enabled {
		return
	}
	switch t.ExporterType {
	case "grpc", "http":
	default:
		v.fail("telemetry.exporterType", "unknown exporter %q", t.ExporterType)
	}
	if t.Endpoint == "" {
		v.fail("telemetry.endpoint", "required when tracing is enabled")
	}
	if t.SamplingRate < 0 || t.SamplingRate > 1 {
		v.fail("telemetry.samplingRate", "must be within [0,1]")
	}
}
