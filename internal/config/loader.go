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
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ManuGH/watchrelay/internal/log"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(name, defaultVal string) string {
	key := EnvPrefix + name
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envInt(name string, defaultVal int) int {
	key := EnvPrefix + name
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(name string, defaultVal time.Duration) time.Duration {
	key := EnvPrefix + name
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(name string, defaultVal float64) float64 {
	key := EnvPrefix + name
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults,
// then validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFileConfig(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge file config: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)
	l.warnUnknownEnv()

	// An empty DataDir resolves to the working directory so the default
	// store stays durable.
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() AppConfig {
	return AppConfig{
		Listen:          DefaultListen,
		DataDir:        DefaultDataDir,
		LogLevel:        DefaultLogLevel,
		LogService:      DefaultLogService,
		RateLimitRPM:    DefaultRateLimitRPM,
		PublishTimeout:  DefaultPublishTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		AppKeys:         DefaultAppKeys,

		TracingSampleRate: DefaultTracingSampleRate,
	}
}

// loadFile loads configuration from a YAML file with STRICT parsing.
// Unknown fields will cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("%w: %s (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}

	return &fileCfg, nil
}

func mergeFileConfig(cfg *AppConfig, f *FileConfig) error {
	setString(&cfg.Listen, f.Listen)
	setString(&cfg.DataDir, f.DataDir)
	setString(&cfg.LogLevel, f.Logging.Level)
	setString(&cfg.LogService, f.Logging.Service)
	setString(&cfg.Store.Backend, f.Store.Backend)
	setString(&cfg.Store.Path, f.Store.Path)
	setString(&cfg.Redis.Addr, f.Redis.Addr)
	setString(&cfg.Redis.Password, f.Redis.Password)
	if f.Redis.DB != nil {
		cfg.Redis.DB = *f.Redis.DB
	}
	setString(&cfg.Bus.Backend, f.Bus.Backend)
	setString(&cfg.Bus.ChannelPrefix, f.Bus.ChannelPrefix)
	if f.RateLimitRPM != nil {
		cfg.RateLimitRPM = *f.RateLimitRPM
	}
	if err := setDuration(&cfg.PublishTimeout, "publishTimeout", f.PublishTimeout); err != nil {
		return err
	}
	if err := setDuration(&cfg.ShutdownTimeout, "shutdownTimeout", f.ShutdownTimeout); err != nil {
		return err
	}
	setString(&cfg.TracingService, f.Tracing.Service)
	setString(&cfg.TracingExporter, f.Tracing.Exporter)
	setString(&cfg.TracingEndpoint, f.Tracing.Endpoint)
	if f.Tracing.SampleRate != nil {
		cfg.TracingSampleRate = *f.Tracing.SampleRate
	}
	setString(&cfg.AppKeys, f.AppKeys)
	setString(&cfg.ConfigurationURL, f.ConfigurationURL)
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.Listen = l.envString("LISTEN", cfg.Listen)
	cfg.DataDir = l.envString("DATA", cfg.DataDir)
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = l.envString("LOG_SERVICE", cfg.LogService)
	cfg.Store.Backend = l.envString("STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Path = l.envString("STORE_PATH", cfg.Store.Path)
	cfg.Redis.Addr = l.envString("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = l.envString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = l.envInt("REDIS_DB", cfg.Redis.DB)
	cfg.Bus.Backend = l.envString("BUS_BACKEND", cfg.Bus.Backend)
	cfg.Bus.ChannelPrefix = l.envString("BUS_CHANNEL_PREFIX", cfg.Bus.ChannelPrefix)
	cfg.RateLimitRPM = l.envInt("RATE_LIMIT_RPM", cfg.RateLimitRPM)
	cfg.PublishTimeout = l.envDuration("PUBLISH_TIMEOUT", cfg.PublishTimeout)
	cfg.ShutdownTimeout = l.envDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.TracingService = l.envString("TRACING_SERVICE", cfg.TracingService)
	cfg.TracingExporter = l.envString("TRACING_EXPORTER", cfg.TracingExporter)
	cfg.TracingEndpoint = l.envString("TRACING_ENDPOINT", cfg.TracingEndpoint)
	cfg.TracingSampleRate = l.envFloat("TRACING_SAMPLE_RATE", cfg.TracingSampleRate)
	cfg.AppKeys = l.envString("APP_KEYS", cfg.AppKeys)
	cfg.ConfigurationURL = l.envString("CONFIGURATION_URL", cfg.ConfigurationURL)
}

// warnUnknownEnv flags prefixed variables no field consumed, which are
// usually typos.
func (l *Loader) warnUnknownEnv() []string {
	var unknown []string
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		if _, ok := l.ConsumedEnvKeys[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).
			Msg("ignoring unknown environment variable")
	}
	return unknown
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, field, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}
