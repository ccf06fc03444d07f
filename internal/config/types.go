// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the classd configuration.
//
// Precedence is Defaults < File < Environment. Environment variables use
// the CLASSD_ prefix followed by the section and field, e.g.
// CLASSD_STORE_BACKEND or CLASSD_RECONCILER_RETRY_BUDGET.
package config

import "time"

// EnvPrefix is prepended to every environment key.
const EnvPrefix = "CLASSD_"

// CurrentVersion is the config file schema version written by WriteDefault.
const CurrentVersion = "v1"

// AppConfig is the complete runtime configuration.
type AppConfig struct {
	Version  string `yaml:"version,omitempty"`
	LogLevel string `yaml:"logLevel" env:"LOG_LEVEL"`
	// DataDir holds the state database unless store.path points elsewhere.
	DataDir string `yaml:"dataDir" env:"DATA_DIR"`

	Server       ServerConfig       `yaml:"server" envPrefix:"SERVER_"`
	Auth         AuthConfig         `yaml:"auth" envPrefix:"AUTH_"`
	Store        StoreConfig        `yaml:"store" envPrefix:"STORE_"`
	Transport    TransportConfig    `yaml:"transport" envPrefix:"TRANSPORT_"`
	Gateway      GatewayConfig      `yaml:"gateway" envPrefix:"GATEWAY_"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" envPrefix:"ORCHESTRATOR_"`
	Reconciler   ReconcilerConfig   `yaml:"reconciler" envPrefix:"RECONCILER_"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listenAddr" env:"LISTEN_ADDR"`
	ReadTimeout     time.Duration `yaml:"readTimeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idleTimeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
	MaxBodyBytes    int64         `yaml:"maxBodyBytes" env:"MAX_BODY_BYTES"`
	// RateLimit is requests per minute per client IP; zero disables limiting.
	RateLimit int `yaml:"rateLimit" env:"RATE_LIMIT"`
}

// Authorizer modes.
const (
	AuthModeScopes   = "scopes"
	AuthModeAllowAll = "allow-all"
	AuthModeDisabled = "disabled"
)

// AuthConfig configures bearer-token verification and the decision point.
type AuthConfig struct {
	// Mode is one of scopes, allow-all or disabled. Disabled skips
	// authentication entirely and is meant for local runs.
	Mode     string        `yaml:"mode" env:"MODE"`
	Secret   string        `yaml:"secret" env:"SECRET"`
	Issuer   string        `yaml:"issuer" env:"ISSUER"`
	Audience string        `yaml:"audience" env:"AUDIENCE"`
	Leeway   time.Duration `yaml:"leeway" env:"LEEWAY"`
}

// StoreConfig selects the state store backend.
type StoreConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`
	// Path defaults to a file or directory under DataDir.
	Path string `yaml:"path" env:"PATH"`
	// GCInterval drives badger value-log GC; ignored by other backends.
	GCInterval time.Duration `yaml:"gcInterval" env:"GC_INTERVAL"`
}

// Transport kinds.
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
)

// TransportConfig selects the message transport to the backends.
type TransportConfig struct {
	Kind  string      `yaml:"kind" env:"KIND"`
	Redis RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
}

// RedisConfig configures the Redis Streams transport.
type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	StreamPrefix string        `yaml:"streamPrefix" env:"STREAM_PREFIX"`
	Group        string        `yaml:"group" env:"GROUP"`
	Consumer     string        `yaml:"consumer" env:"CONSUMER"`
	Block        time.Duration `yaml:"block" env:"BLOCK"`
	MaxLen       int64         `yaml:"maxLen" env:"MAX_LEN"`
}

// GatewayConfig configures routing and delivery to the backends.
type GatewayConfig struct {
	InboundTopic string `yaml:"inboundTopic" env:"INBOUND_TOPIC"`
	Source       string `yaml:"source" env:"SOURCE"`
	// Routes maps an operation category to a backend target.
	Routes map[string]string `yaml:"routes" env:"ROUTES"`
	// Codecs maps a backend target to its wire codec (json or cbor).
	Codecs           map[string]string `yaml:"codecs" env:"CODECS"`
	Retry            RetryConfig       `yaml:"retry" envPrefix:"RETRY_"`
	BreakerThreshold int               `yaml:"breakerThreshold" env:"BREAKER_THRESHOLD"`
	BreakerReset     time.Duration     `yaml:"breakerReset" env:"BREAKER_RESET"`
	RateLimit        float64           `yaml:"rateLimit" env:"RATE_LIMIT"`
	RateBurst        int               `yaml:"rateBurst" env:"RATE_BURST"`
	// Simulate answers every request in-process. Requires the memory transport.
	Simulate bool `yaml:"simulate" env:"SIMULATE"`
}

// RetryConfig bounds transport-level retries of one send.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"maxAttempts" env:"MAX_ATTEMPTS"`
	InitialDelay  time.Duration `yaml:"initialDelay" env:"INITIAL_DELAY"`
	MaxDelay      time.Duration `yaml:"maxDelay" env:"MAX_DELAY"`
	BackoffFactor float64       `yaml:"backoffFactor" env:"BACKOFF_FACTOR"`
	Jitter        float64       `yaml:"jitter" env:"JITTER"`
}

// OrchestratorConfig tunes the lifecycle orchestrator.
type OrchestratorConfig struct {
	ReplyTimeout            time.Duration `yaml:"replyTimeout" env:"REPLY_TIMEOUT"`
	DispatchScheduleUpdates bool          `yaml:"dispatchScheduleUpdates" env:"DISPATCH_SCHEDULE_UPDATES"`
	ConflictRetries         int           `yaml:"conflictRetries" env:"CONFLICT_RETRIES"`
	InboxSize               int           `yaml:"inboxSize" env:"INBOX_SIZE"`
}

// ReconcilerConfig tunes the timeout sweep.
type ReconcilerConfig struct {
	Interval            time.Duration `yaml:"interval" env:"INTERVAL"`
	RetryBudget         int           `yaml:"retryBudget" env:"RETRY_BUDGET"`
	StaleRequestedAfter time.Duration `yaml:"staleRequestedAfter" env:"STALE_REQUESTED_AFTER"`
	BatchSize           int           `yaml:"batchSize" env:"BATCH_SIZE"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	ServiceName  string  `yaml:"serviceName" env:"SERVICE_NAME"`
	Environment  string  `yaml:"environment" env:"ENVIRONMENT"`
	ExporterType string  `yaml:"exporterType" env:"EXPORTER_TYPE"`
	Endpoint     string  `yaml:"endpoint" env:"ENDPOINT"`
	SamplingRate float64 `yaml:"samplingRate" env:"SAMPLING_RATE"`
	Insecure     bool    `yaml:"insecure" env:"INSECURE"`
}
