// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ErrSchema is wrapped when the file carries unknown keys or values of the
// wrong type.
var ErrSchema = errors.New("config does not match schema")

// Loader handles configuration loading with precedence.
type Loader struct {
	configPath string
	// environ overrides os.Environ; tests set it.
	environ map[string]string
}

// NewLoader creates a loader. An empty path means environment-only.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string { return l.configPath }

// Load loads configuration with precedence ENV > File > Defaults and
// validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.mergeFile(&cfg); err != nil {
			return AppConfig{}, err
		}
	}
	if err := l.mergeEnv(&cfg); err != nil {
		return AppConfig{}, err
	}
	if err := Validate(cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (l *Loader) mergeFile(cfg *AppConfig) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", l.configPath, err)
	}
	if err := decodeStrict(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", l.configPath, err)
	}
	return nil
}

// decodeStrict decodes YAML into cfg, rejecting unknown keys. Fields the
// document omits keep their current values.
func decodeStrict(data []byte, cfg *AppConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("%w: %s", ErrSchema, strings.Join(typeErr.Errors, "; "))
		}
		return err
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) error {
	opts := env.Options{Prefix: EnvPrefix}
	if l.environ != nil {
		opts.Environment = l.environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}
