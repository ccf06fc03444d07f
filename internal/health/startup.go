// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/classd/internal/log"
)

// PerformStartupChecks validates the environment before the server starts.
// An empty dataDir means the configured store keeps nothing on disk.
func PerformStartupChecks(dataDir string) error {
	logger := log.WithComponent("startup-check")
	if dataDir == "" {
		logger.Info().Msg("no data directory configured, skipping startup checks")
		return nil
	}
	if err := checkDataDir(dataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	logger.Info().Str("data_dir", dataDir).Msg("startup checks passed")
	return nil
}

func checkDataDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s: %w", path, err)
	}
	_ = os.Remove(testFile)
	return nil
}
