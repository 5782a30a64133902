// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/watchrelay/internal/config"
	"github.com/ManuGH/watchrelay/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApp_RequiresManager(t *testing.T) {
	app := NewApp(log.WithComponent("test"), nil, nil, nil)
	assert.ErrorIs(t, app.Run(context.Background()), ErrMissingManager)
}

func TestApp_AppliesReloadedConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))
	t.Setenv("WATCHRELAY_DATA", dir)

	loader := config.NewLoader(path, "test")
	cfg, err := loader.Load()
	require.NoError(t, err)
	holder := config.NewConfigHolder(cfg, loader, path)

	mgr, err := NewManager(testDeps())
	require.NoError(t, err)

	reloaded := make(chan config.AppConfig, 4)
	app := NewApp(log.WithComponent("test"), mgr, holder, func(c config.AppConfig) { reloaded <- c })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	waitForAddr(t, mgr)

	require.NoError(t, holder.Reload(context.Background()))
	select {
	case c := <-reloaded:
		assert.Equal(t, "info", c.LogLevel)
	case <-time.After(2 * time.Second):
		t.Fatal("reload was not applied")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}
