// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"strings"

	"github.com/ManuGH/watchrelay/internal/appmsg"
	"github.com/ManuGH/watchrelay/internal/bus"
	"github.com/ManuGH/watchrelay/internal/kv"
	"github.com/ManuGH/watchrelay/internal/validate"
	"github.com/rs/zerolog"
)

var (
	storeBackends = []string{"", kv.BackendMemory, kv.BackendFile, kv.BackendSQLite, kv.BackendBadger, kv.BackendRedis}
	busBackends   = []string{"", bus.BackendMemory, bus.BackendRedis}
	exporters     = []string{"", "grpc", "http"}
)

// Validate checks a resolved AppConfig.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.ListenAddr("Listen", cfg.Listen)

	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil || cfg.LogLevel == "" {
		v.AddError("LogLevel", fmt.Sprintf("unknown log level %q", cfg.LogLevel), cfg.LogLevel)
	}

	v.OneOf("Store.Backend", cfg.Store.Backend, storeBackends)
	switch cfg.Store.Backend {
	case kv.BackendFile, kv.BackendSQLite, kv.BackendBadger:
		v.Directory("DataDir", cfg.StoreDir())
	case "":
		if cfg.StoreDir() != "" {
			v.Directory("DataDir", cfg.StoreDir())
		}
	}

	v.OneOf("Bus.Backend", cfg.Bus.Backend, busBackends)
	if cfg.Store.Backend == kv.BackendRedis || cfg.Bus.Backend == bus.BackendRedis {
		v.NotEmpty("Redis.Addr", cfg.Redis.Addr)
	}
	v.Range("Redis.DB", cfg.Redis.DB, 0, 15)

	v.NonNegative("RateLimitRPM", cfg.RateLimitRPM)
	v.PositiveDuration("PublishTimeout", cfg.PublishTimeout)
	v.PositiveDuration("ShutdownTimeout", cfg.ShutdownTimeout)

	v.OneOf("TracingExporter", cfg.TracingExporter, exporters)
	if cfg.TracingExporter != "" {
		v.NotEmpty("TracingEndpoint", cfg.TracingEndpoint)
		v.NotEmpty("TracingService", cfg.TracingService)
	}
	if cfg.TracingSampleRate < 0 || cfg.TracingSampleRate > 1 {
		v.AddError("TracingSampleRate", "sample rate must be between 0 and 1", cfg.TracingSampleRate)
	}

	v.Custom("AppKeys", cfg.AppKeys, func(val interface{}) error {
		keys, err := appmsg.ParseAppKeys(val.(string))
		if err != nil {
			return err
		}
		if _, ok := keys["invert"]; !ok {
			return fmt.Errorf("mapping must define invert")
		}
		return nil
	})

	if cfg.ConfigurationURL != "" {
		v.URL("ConfigurationURL", cfg.ConfigurationURL, []string{"http", "https"})
	}

	return v.Err()
}
