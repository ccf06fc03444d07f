// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// ErrExists is returned by WriteDefault when the target exists and force is off.
var ErrExists = errors.New("config file already exists")

const fileHeader = `# classd configuration
#
# Precedence: defaults < this file < environment (CLASSD_<SECTION>_<FIELD>).
# auth.secret is better supplied as CLASSD_AUTH_SECRET.
`

var sectionComments = map[string]string{
	"server":       "HTTP listener. rateLimit is requests per minute per client IP.",
	"auth":         "Bearer-token verification. mode: scopes | allow-all | disabled.",
	"store":        "State store. backend: sqlite | badger | memory.",
	"transport":    "Backend message transport. kind: memory | redis.",
	"gateway":      "Routing (category -> target) and per-target codecs.",
	"orchestrator": "dispatchScheduleUpdates sends window changes to the backend.",
	"reconciler":   "retryBudget counts every send of an operation, the first included.",
	"telemetry":    "OpenTelemetry tracing. exporterType: grpc | http.",
}

// Marshal renders cfg as commented YAML.
func Marshal(cfg AppConfig) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if doc.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(doc.Content); i += 2 {
			if c, ok := sectionComments[doc.Content[i].Value]; ok {
				doc.Content[i].HeadComment = c
			}
		}
	}

	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	buf.WriteString("\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default configuration to path atomically.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", path, err)
		}
	}
	data, err := Marshal(Default())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
