// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/watchrelay/internal/kv"
	xglog "github.com/ManuGH/watchrelay/internal/log"
	"github.com/ManuGH/watchrelay/internal/watch"
)

// runWatchCLI runs a simulated watchface against a relay websocket.
func runWatchCLI(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	wsURL := fs.String("url", "ws://localhost:8088/ws", "relay websocket URL")
	backend := fs.String("store", kv.BackendMemory, "watch persist backend: memory, file, sqlite or badger")
	dir := fs.String("data", "", "directory for the watch persist store")
	level := fs.String("log-level", "info", "log level")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	xglog.Configure(xglog.Config{Level: *level, Service: "watchrelay-watch"})
	logger := xglog.WithComponent("watch")

	store, err := kv.Open(*backend, *dir, kv.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open watch store: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	face := watch.NewFace(store)
	if err := face.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("starting with default watch settings")
	}
	logger.Info().Str(xglog.FieldURL, maskURL(*wsURL)).Bool("inverted", face.Inverted()).Msg("watchface started")

	if err := watch.NewClient(*wsURL, face).Run(ctx); err != nil {
		logger.Error().Err(err).Msg("watch client failed")
		return 1
	}

	if err := face.Save(context.WithoutCancel(ctx)); err != nil {
		logger.Error().Err(err).Msg("failed to persist watch settings")
		return 1
	}
	return 0
}
