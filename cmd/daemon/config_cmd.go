// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ManuGH/watchrelay/internal/config"
	"github.com/ManuGH/watchrelay/internal/version"
	"gopkg.in/yaml.v3"
)

func runConfigCLI(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage()
		return 0
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:])
	case "dump":
		return runConfigDump(args[1:], os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n\n", args[0])
		printConfigUsage()
		return 2
	}
}

func printConfigUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  watchrelay config validate [--file|-f config.yaml]")
	fmt.Fprintln(os.Stderr, "  watchrelay config dump --effective [--file|-f config.yaml] [--format=yaml|json]")
}

func runConfigValidate(args []string) int {
	fs := flag.NewFlagSet("watchrelay config validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var file string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	configPath := resolveConfigPath(file)
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --file is required (no default config.yaml found in $WATCHRELAY_DATA)")
		return 2
	}

	if _, err := config.NewLoader(configPath, version.Version).Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error in %s:\n  %v\n", configPath, err)
		return 1
	}

	fmt.Printf("%s is valid\n", configPath)
	return 0
}

func runConfigDump(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("watchrelay config dump", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var file string
	var format string
	var effective bool

	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	fs.StringVar(&format, "format", "yaml", "output format: yaml or json")
	fs.BoolVar(&effective, "effective", false, "dump effective configuration (defaults + file + env)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if !effective {
		fmt.Fprintln(os.Stderr, "Error: --effective is required")
		return 2
	}

	// Without a file the dump shows defaults plus environment.
	configPath := resolveConfigPath(file)
	cfg, err := config.NewLoader(configPath, version.Version).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error in %s:\n  %v\n", configPath, err)
		return 1
	}

	fileCfg := fileConfigFromAppConfig(cfg)
	redactFileConfigSecrets(&fileCfg)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(fileCfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode YAML: %v\n", err)
			return 1
		}
		_ = enc.Close()
		return 0
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(fileCfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unsupported format: %s (use yaml or json)\n", format)
		return 2
	}
}

func fileConfigFromAppConfig(cfg config.AppConfig) config.FileConfig {
	rpm := cfg.RateLimitRPM
	db := cfg.Redis.DB
	sampleRate := cfg.TracingSampleRate

	var f config.FileConfig
	f.Listen = cfg.Listen
	f.DataDir = cfg.DataDir
	f.Logging.Level = cfg.LogLevel
	f.Logging.Service = cfg.LogService
	f.Store.Backend = cfg.Store.Backend
	f.Store.Path = cfg.Store.Path
	f.Redis.Addr = cfg.Redis.Addr
	f.Redis.Password = cfg.Redis.Password
	f.Redis.DB = &db
	f.Bus.Backend = cfg.Bus.Backend
	f.Bus.ChannelPrefix = cfg.Bus.ChannelPrefix
	f.RateLimitRPM = &rpm
	f.PublishTimeout = cfg.PublishTimeout.String()
	f.ShutdownTimeout = cfg.ShutdownTimeout.String()
	f.Tracing.Service = cfg.TracingService
	f.Tracing.Exporter = cfg.TracingExporter
	f.Tracing.Endpoint = cfg.TracingEndpoint
	f.Tracing.SampleRate = &sampleRate
	f.AppKeys = cfg.AppKeys
	f.ConfigurationURL = cfg.ConfigurationURL
	return f
}

func redactFileConfigSecrets(cfg *config.FileConfig) {
	if cfg == nil {
		return
	}
	if cfg.Redis.Password != "" {
		cfg.Redis.Password = "***"
	}
}
