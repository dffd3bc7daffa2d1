// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

// Package config provides layered configuration for Gwmirror using Koanf v2.
// Precedence: environment variables > config file > built-in defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Breaker   BreakerConfig   `koanf:"breaker"`
	Sync      SyncConfig      `koanf:"sync"`
	Harvest   HarvestConfig   `koanf:"harvest"`
	Season    SeasonConfig    `koanf:"season"`
	Store     StoreConfig     `koanf:"store"`
	Server    ServerConfig    `koanf:"server"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// UpstreamConfig configures the resilient fetch client.
type UpstreamConfig struct {
	// BaseURL is the root of the upstream stats API, without trailing slash.
	BaseURL string `koanf:"base_url"`

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration `koanf:"timeout"`

	// MaxRetries is the number of attempts per logical call.
	MaxRetries int `koanf:"max_retries"`

	// RetryBaseDelay seeds the exponential backoff (delay * 2^attempt).
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`

	// RateLimitRPS caps the sustained request rate against the upstream.
	// Politeness limit, independent of the circuit breaker.
	RateLimitRPS float64 `koanf:"rate_limit_rps"`

	// RateLimitBurst is the rate limiter burst size.
	RateLimitBurst int `koanf:"rate_limit_burst"`
}

// BreakerConfig configures the circuit breaker guarding the upstream client.
type BreakerConfig struct {
	// MaxFailures is the failure count at which the circuit opens.
	MaxFailures int `koanf:"max_failures"`

	// ResetTimeout is how long the circuit stays open before the next
	// call is allowed through again.
	ResetTimeout time.Duration `koanf:"reset_timeout"`
}

// SyncConfig configures the entry sync engine and retry manager.
type SyncConfig struct {
	// MaxRetryAttempts is the attempts ceiling before an entry is dead-lettered.
	MaxRetryAttempts int `koanf:"max_retry_attempts"`

	// RetryCooldown is the minimum age of an errored state before requeueing.
	RetryCooldown time.Duration `koanf:"retry_cooldown"`

	// BuildingLockTimeout is the age at which a building lock is treated
	// as abandoned by a crashed worker.
	BuildingLockTimeout time.Duration `koanf:"building_lock_timeout"`

	// RetryScanLimit caps the number of state keys examined per retry scan.
	RetryScanLimit int `koanf:"retry_scan_limit"`

	// RetryBatchSize caps the number of entries requeued per retry scan.
	RetryBatchSize int `koanf:"retry_batch_size"`
}

// HarvestConfig configures the periodic harvest orchestrator.
type HarvestConfig struct {
	// Concurrency is the number of per-entry updates in flight at once.
	Concurrency int `koanf:"concurrency"`

	// TimeBudget is the soft wall-clock budget for a harvest pass. Once it
	// is reached no new per-entry updates are launched.
	TimeBudget time.Duration `koanf:"time_budget"`

	// TransfersStaleness is the re-fetch window for the transfers list.
	TransfersStaleness time.Duration `koanf:"transfers_staleness"`

	// SummaryStaleness is the re-fetch window for the profile summary.
	SummaryStaleness time.Duration `koanf:"summary_staleness"`

	// Interval is how often the scheduler triggers a harvest check.
	Interval time.Duration `koanf:"interval"`

	// ScanPageSize is the page size for the candidate enumeration scan.
	ScanPageSize int `koanf:"scan_page_size"`
}

// SeasonConfig configures season detection.
type SeasonConfig struct {
	// Default is the fallback season when detection fails, e.g. "2025".
	Default string `koanf:"default"`

	// CacheTTL is how long a detected season is trusted before re-detection.
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// StoreConfig configures the embedded key-value store.
type StoreConfig struct {
	// Path is the BadgerDB directory.
	Path string `koanf:"path"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimitReqs / RateLimitWindow throttle inbound requests per IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// SchedulerConfig configures the periodic background services.
type SchedulerConfig struct {
	// RetryInterval is how often the retry/dead-letter scan runs.
	RetryInterval time.Duration `koanf:"retry_interval"`

	// HealthInterval is how often the health summary is recomputed.
	HealthInterval time.Duration `koanf:"health_interval"`

	// HarvestDelay defers harvesting after a gameweek flips finished,
	// while bonus points may still settle. Zero disables the deferral.
	HarvestDelay time.Duration `koanf:"harvest_delay"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values the process cannot run with.
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Upstream.MaxRetries < 1 {
		return fmt.Errorf("upstream.max_retries must be >= 1, got %d", c.Upstream.MaxRetries)
	}
	if c.Breaker.MaxFailures < 1 {
		return fmt.Errorf("breaker.max_failures must be >= 1, got %d", c.Breaker.MaxFailures)
	}
	if c.Sync.MaxRetryAttempts < 1 {
		return fmt.Errorf("sync.max_retry_attempts must be >= 1, got %d", c.Sync.MaxRetryAttempts)
	}
	if c.Harvest.Concurrency < 1 {
		return fmt.Errorf("harvest.concurrency must be >= 1, got %d", c.Harvest.Concurrency)
	}
	if c.Season.Default == "" {
		return fmt.Errorf("season.default is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1,65535], got %d", c.Server.Port)
	}
	return nil
}
