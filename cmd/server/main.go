// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

// Gwmirror mirrors a remote fantasy-league statistics API into a local
// embedded store. It syncs entries through a persistent state machine,
// harvests newly finished gameweeks, and serves the mirrored data over HTTP.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/gwmirror/internal/api"
	"github.com/tomtom215/gwmirror/internal/config"
	"github.com/tomtom215/gwmirror/internal/harvest"
	"github.com/tomtom215/gwmirror/internal/health"
	"github.com/tomtom215/gwmirror/internal/logging"
	"github.com/tomtom215/gwmirror/internal/scheduler"
	"github.com/tomtom215/gwmirror/internal/season"
	"github.com/tomtom215/gwmirror/internal/store"
	"github.com/tomtom215/gwmirror/internal/syncer"
	"github.com/tomtom215/gwmirror/internal/upstream"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("gwmirror exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("base_url", cfg.Upstream.BaseURL).
		Str("store_path", cfg.Store.Path).
		Msg("gwmirror starting")

	kv, err := store.OpenBadgerKV(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logging.Warn().Err(err).Msg("store close failed")
		}
	}()

	breaker := upstream.NewCircuitBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.ResetTimeout)
	client := upstream.NewClient(&cfg.Upstream, breaker)
	detector := season.NewDetector(client, kv, cfg.Season.Default, cfg.Season.CacheTTL)
	engine := syncer.NewEngine(client, kv, &cfg.Sync)
	orchestrator := harvest.NewOrchestrator(client, kv, detector, &cfg.Harvest)
	aggregator := health.NewAggregator(kv, cfg.Harvest.ScanPageSize)

	handlers := api.NewHandlers(kv, engine, orchestrator, aggregator, detector)
	router := api.NewRouter(handlers, &cfg.Server)

	tree := scheduler.NewTree(logging.NewSlogLogger(), scheduler.DefaultTreeConfig())
	tree.Add(scheduler.NewHTTPService(router, &cfg.Server))
	tree.Add(scheduler.NewHarvestService(orchestrator, cfg))
	tree.Add(scheduler.NewRetryService(engine, detector, cfg.Scheduler.RetryInterval))
	tree.Add(scheduler.NewHealthService(aggregator, detector, cfg.Scheduler.HealthInterval))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logging.Info().Msg("gwmirror shut down")
		return nil
	}
	return err
}
