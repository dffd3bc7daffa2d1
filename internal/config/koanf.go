// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/gwmirror/config.yaml",
	"/etc/gwmirror/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. These mirror the
// production constants: 3 fetch retries at 200ms base, breaker opens at 15
// failures for 15m, 3 sync attempts with a 1h cooldown, 1h building lock,
// 5-wide harvest fan-out under a 25s budget.
func defaultConfig() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			BaseURL:        "",
			Timeout:        30 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: 200 * time.Millisecond,
			RateLimitRPS:   5,
			RateLimitBurst: 10,
		},
		Breaker: BreakerConfig{
			MaxFailures:  15,
			ResetTimeout: 15 * time.Minute,
		},
		Sync: SyncConfig{
			MaxRetryAttempts:    3,
			RetryCooldown:       time.Hour,
			BuildingLockTimeout: time.Hour,
			RetryScanLimit:      200,
			RetryBatchSize:      5,
		},
		Harvest: HarvestConfig{
			Concurrency:        5,
			TimeBudget:         25 * time.Second,
			TransfersStaleness: 6 * time.Hour,
			SummaryStaleness:   12 * time.Hour,
			Interval:           10 * time.Minute,
			ScanPageSize:       200,
		},
		Season: SeasonConfig{
			Default:  "2025",
			CacheTTL: time.Hour,
		},
		Store: StoreConfig{
			Path: "/data/gwmirror",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3858,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Scheduler: SchedulerConfig{
			RetryInterval:  15 * time.Minute,
			HealthInterval: 5 * time.Minute,
			HarvestDelay:   0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration with layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// GWMIRROR_UPSTREAM_BASE_URL -> upstream.base_url
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when supplied via environment variables.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps GWMIRROR_* environment variables to koanf paths.
// The section and key are split on the first underscore after the prefix,
// with explicit overrides for multi-word section keys.
func envTransformFunc(key string) string {
	const prefix = "GWMIRROR_"
	if !strings.HasPrefix(key, prefix) {
		// Unprefixed variables are ignored so random environment variables
		// do not pollute the configuration.
		return ""
	}
	key = strings.ToLower(strings.TrimPrefix(key, prefix))

	// Keys whose section cannot be derived by splitting on the first "_".
	overrides := map[string]string{
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}
	if mapped, ok := overrides[key]; ok {
		return mapped
	}

	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[0] + "." + parts[1]
}
