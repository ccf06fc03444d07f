// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"path/filepath"
	"time"
)

// Default returns the built-in configuration. The values mirror the
// package defaults of the components they configure.
func Default() AppConfig {
	return AppConfig{
		Version:  CurrentVersion,
		LogLevel: "info",
		DataDir:  "/var/lib/classd",
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
			RateLimit:       600,
		},
		Auth: AuthConfig{
			Mode:   AuthModeScopes,
			Leeway: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend:    "sqlite",
			GCInterval: 10 * time.Minute,
		},
		Transport: TransportConfig{
			Kind: TransportMemory,
			Redis: RedisConfig{
				Addr:         "localhost:6379",
				StreamPrefix: "classd:",
				Group:        "classd",
				Consumer:     "classd-1",
				Block:        2 * time.Second,
				MaxLen:       100000,
			},
		},
		Gateway: GatewayConfig{
			InboundTopic: "classd.inbound",
			Source:       "classd",
			Routes: map[string]string{
				"provision": "conference",
				"update":    "conference",
				"close":     "conference",
			},
			Codecs: map[string]string{
				"conference": "json",
				"event":      "json",
				"tq":         "cbor",
			},
			Retry: RetryConfig{
				MaxAttempts:   3,
				InitialDelay:  200 * time.Millisecond,
				MaxDelay:      5 * time.Second,
				BackoffFactor: 2.0,
				Jitter:        0.25,
			},
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
			RateBurst:        10,
		},
		Orchestrator: OrchestratorConfig{
			ReplyTimeout:    30 * time.Second,
			ConflictRetries: 3,
			InboxSize:       256,
		},
		Reconciler: ReconcilerConfig{
			Interval:            5 * time.Second,
			RetryBudget:         3,
			StaleRequestedAfter: time.Minute,
			BatchSize:           100,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "classd",
			Environment:  "production",
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// StorePath resolves the state store location. An explicit store.path wins;
// otherwise the path is derived from DataDir and the backend.
func (c AppConfig) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	if c.DataDir == "" {
		return ""
	}
	switch c.Store.Backend {
	case "badger":
		return filepath.Join(c.DataDir, "badger")
	case "memory":
		return ""
	default:
		return filepath.Join(c.DataDir, "classd.db")
	}
}

// Redacted returns a copy safe to print or log.
func (c AppConfig) Redacted() AppConfig {
	out := c.clone()
	if out.Auth.Secret != "" {
		out.Auth.Secret = redactedValue
	}
	if out.Transport.Redis.Password != "" {
		out.Transport.Redis.Password = redactedValue
	}
	return out
}

const redactedValue = "***redacted***"

func (c AppConfig) clone() AppConfig {
	out := c
	out.Gateway.Routes = cloneMap(c.Gateway.Routes)
	out.Gateway.Codecs = cloneMap(c.Gateway.Codecs)
	return out
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
