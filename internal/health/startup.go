// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/watchrelay/internal/config"
	"github.com/ManuGH/watchrelay/internal/kv"
	"github.com/ManuGH/watchrelay/internal/log"
)

// PerformStartupChecks validates the environment before the server starts.
func PerformStartupChecks(cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")

	switch cfg.Store.Backend {
	case kv.BackendMemory:
		logger.Warn().
			Str(log.FieldBackend, cfg.Store.Backend).
			Msg("in-memory store; the invert setting is lost on restart")
	case kv.BackendRedis:
	default:
		dir := cfg.StoreDir()
		if dir == "" {
			if cfg.Store.Backend == "" {
				logger.Warn().Msg("no data directory set; falling back to the in-memory store")
				return nil
			}
			return fmt.Errorf("store backend %s requires a data directory", cfg.Store.Backend)
		}
		if err := checkWritableDir(dir); err != nil {
			return fmt.Errorf("data directory check failed: %w", err)
		}
		tempDir := filepath.Clean(os.TempDir())
		if clean := filepath.Clean(dir); tempDir != "." && (clean == tempDir || strings.HasPrefix(clean, tempDir+string(filepath.Separator))) {
			logger.Warn().
				Str("data_dir", dir).
				Msg("data directory is under temp; settings may be lost on reboot")
		}
	}

	logger.Info().Msg("startup checks passed")
	return nil
}

func checkWritableDir(path string) error {
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
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)
	return nil
}
