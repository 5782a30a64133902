// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestNewConfigHolder(t *testing.T) {
	initial := Defaults()
	initial.LogLevel = "debug"

	holder := NewConfigHolder(initial, NewLoader("", "test-version"), "/path/to/config.yaml")
	if got := holder.Get(); got.LogLevel != "debug" {
		t.Errorf("expected LogLevel debug, got %q", got.LogLevel)
	}
}

func TestConfigHolder_ReloadNotifiesListeners(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}
	holder := NewConfigHolder(initial, loader, path)

	ch := make(chan AppConfig, 1)
	holder.RegisterListener(ch)

	if err := os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := holder.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.LogLevel != "warn" {
			t.Errorf("listener got LogLevel %q", cfg.LogLevel)
		}
	default:
		t.Fatal("listener was not notified")
	}
	if holder.Get().LogLevel != "warn" {
		t.Errorf("holder LogLevel = %q", holder.Get().LogLevel)
	}
}

func TestConfigHolder_ReloadKeepsOldConfigOnError(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}
	holder := NewConfigHolder(initial, loader, path)

	if err := os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := holder.Reload(context.Background()); err == nil {
		t.Fatal("expected reload error for invalid config")
	}
	if holder.Get().LogLevel != "info" {
		t.Errorf("old config not kept: %q", holder.Get().LogLevel)
	}
}

func TestConfigHolder_WatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "rateLimitRPM: 10\n")
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}
	holder := NewConfigHolder(initial, loader, path)
	holder.debounce = 20 * time.Millisecond

	ch := make(chan AppConfig, 4)
	holder.RegisterListener(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		holder.Stop()
	}()
	if err := holder.StartWatcher(ctx); err != nil {
		t.Fatalf("StartWatcher() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("rateLimitRPM: 60\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	// A truncating write may surface an intermediate empty file first.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-ch:
			if cfg.RateLimitRPM == 60 {
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for config reload")
		}
	}
}

func TestConfigHolder_WatcherDisabledWithoutPath(t *testing.T) {
	holder := NewConfigHolder(Defaults(), NewLoader("", ""), "")
	if err := holder.StartWatcher(context.Background()); err != nil {
		t.Fatalf("StartWatcher() error = %v", err)
	}
	holder.Stop()
}
