// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ManuGH/watchrelay/internal/config"
	"github.com/ManuGH/watchrelay/internal/daemon"
	"github.com/ManuGH/watchrelay/internal/health"
	xglog "github.com/ManuGH/watchrelay/internal/log"
	"github.com/ManuGH/watchrelay/internal/telemetry"
	"github.com/ManuGH/watchrelay/internal/version"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

// resolveConfigPath returns explicit, or ${WATCHRELAY_DATA}/config.yaml when it exists.
func resolveConfigPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	dataDir := strings.TrimSpace(os.Getenv(config.EnvPrefix + "DATA"))
	if dataDir == "" {
		return ""
	}
	autoPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(autoPath); err == nil {
		return autoPath
	}
	return ""
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		case "watch":
			os.Exit(runWatchCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Safe defaults until config is loaded
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: config.DefaultLogService,
		Version: version.Version,
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	effectiveConfigPath := resolveConfigPath(*configPath)

	// Precedence: ENV > File > Defaults
	loader := config.NewLoader(effectiveConfigPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: cfg.Version,
	})

	if effectiveConfigPath != "" {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", effectiveConfigPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("Startup checks failed. Please verify configuration and permissions.")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.Listen).
		Msg("starting watchrelay")
	logger.Info().Msgf("→ Store: %s (%s)", backendName(cfg.Store.Backend), cfg.StoreDir())
	logger.Info().Msgf("→ Bus: %s", backendName(cfg.Bus.Backend))
	if cfg.Redis.Addr != "" {
		logger.Info().Msgf("→ Redis: %s (db %d)", maskURL("redis://"+cfg.Redis.Addr), cfg.Redis.DB)
	}
	logger.Info().Msgf("→ App keys: %s", cfg.AppKeys)

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:    cfg.TracingService,
		ServiceVersion: cfg.Version,
		Exporter:       cfg.TracingExporter,
		Endpoint:       cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSampleRate,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialise tracing")
	}
	if tp.Enabled() {
		exporter := cfg.TracingExporter
		if exporter == "" {
			exporter = "in-process"
		}
		logger.Info().Msgf("→ Tracing: %s (exporter: %s)", cfg.TracingService, exporter)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "runtime.build_failed").
			Msg("failed to build relay runtime")
	}

	mgr, err := daemon.NewManager(daemon.Deps{
		Logger:          logger,
		ListenAddr:      cfg.Listen,
		ShutdownTimeout: cfg.ShutdownTimeout,
		APIHandler:      rt.server.Handler(),
	})
	if err != nil {
		rt.close()
		logger.Fatal().
			Err(err).
			Str("event", "manager.creation.failed").
			Msg("failed to create daemon manager")
	}
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	rt.registerShutdown(mgr)

	cfgHolder := config.NewConfigHolder(cfg, loader, effectiveConfigPath)
	app := daemon.NewApp(logger, mgr, cfgHolder, func(c config.AppConfig) {
		if xglog.SetLevel(c.LogLevel) {
			logger.Info().Str("level", c.LogLevel).Msg("log level updated")
		}
	})
	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.failed").
			Msg("daemon app failed")
	}

	logger.Info().Msg("server exiting")
}

func backendName(b string) string {
	if b == "" {
		return "auto"
	}
	return b
}
