// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// EnvPrefix namespaces every environment key.
const EnvPrefix = "WATCHRELAY_"

// Defaults.
const (
	DefaultListen          = ":8088"
	DefaultLogLevel        = "info"
	DefaultLogService      = "watchrelay"
	DefaultRateLimitRPM    = 120
	DefaultPublishTimeout  = 2 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultAppKeys         = "invert=0"
	DefaultDataDir         = "."

	DefaultTracingSampleRate = 1.0
)

// AppConfig is the resolved runtime configuration.
type AppConfig struct {
	Listen  string
	DataDir string

	LogLevel   string
	LogService string

	Store StoreConfig
	Redis RedisConfig
	Bus   BusConfig

	RateLimitRPM    int
	PublishTimeout  time.Duration
	ShutdownTimeout time.Duration

	// TracingService enables the otel HTTP middleware when set.
	TracingService string
	// TracingExporter selects the OTLP exporter (grpc or http). Empty keeps
	// spans in-process.
	TracingExporter   string
	TracingEndpoint   string
	TracingSampleRate float64

	AppKeys          string
	ConfigurationURL string

	Version string
}

type StoreConfig struct {
	Backend string
	// Path overrides DataDir for the store files.
	Path string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type BusConfig struct {
	Backend       string
	ChannelPrefix string
}

// StoreDir is where file based store backends keep their data.
func (c AppConfig) StoreDir() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return c.DataDir
}

// FileConfig mirrors the YAML file. Zero values leave the default in place.
type FileConfig struct {
	Listen  string `yaml:"listen,omitempty"`
	DataDir string `yaml:"dataDir,omitempty"`

	Logging struct {
		Level   string `yaml:"level,omitempty"`
		Service string `yaml:"service,omitempty"`
	} `yaml:"logging,omitempty"`

	Store struct {
		Backend string `yaml:"backend,omitempty"`
		Path    string `yaml:"path,omitempty"`
	} `yaml:"store,omitempty"`

	Redis struct {
		Addr     string `yaml:"addr,omitempty"`
		Password string `yaml:"password,omitempty"`
		DB       *int   `yaml:"db,omitempty"`
	} `yaml:"redis,omitempty"`

	Bus struct {
		Backend       string `yaml:"backend,omitempty"`
		ChannelPrefix string `yaml:"channelPrefix,omitempty"`
	} `yaml:"bus,omitempty"`

	RateLimitRPM    *int   `yaml:"rateLimitRPM,omitempty"`
	PublishTimeout  string `yaml:"publishTimeout,omitempty"`
	ShutdownTimeout string `yaml:"shutdownTimeout,omitempty"`

	Tracing struct {
		Service    string   `yaml:"service,omitempty"`
		Exporter   string   `yaml:"exporter,omitempty"`
		Endpoint   string   `yaml:"endpoint,omitempty"`
		SampleRate *float64 `yaml:"sampleRate,omitempty"`
	} `yaml:"tracing,omitempty"`

	AppKeys          string `yaml:"appKeys,omitempty"`
	ConfigurationURL string `yaml:"configurationUrl,omitempty"`
}
