// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"fmt"
)

// Backends accepted by OpenStateStore.
const (
	BackendMemory = "memory"
	BackendSqlite = "sqlite"
	BackendBadger = "badger"
)

// OpenStateStore creates a StateStore based on the backend configuration.
func OpenStateStore(backend, path string) (StateStore, error) {
	if backend == "" {
		backend = BackendSqlite
	}

	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendBadger:
		return OpenBadgerStore(path)
	case BackendSqlite:
		if path == "" {
			return nil, fmt.Errorf("sqlite backend requires a path")
		}
		return NewSqliteStore(path)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}
