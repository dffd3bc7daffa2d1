// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tomtom215/gwmirror/internal/config"
	"github.com/tomtom215/gwmirror/internal/harvest"
	"github.com/tomtom215/gwmirror/internal/health"
	"github.com/tomtom215/gwmirror/internal/logging"
	"github.com/tomtom215/gwmirror/internal/season"
	"github.com/tomtom215/gwmirror/internal/syncer"
)

// HarvestService triggers a harvest check on a fixed interval.
type HarvestService struct {
	orchestrator *harvest.Orchestrator
	interval     time.Duration
	delay        time.Duration
}

// NewHarvestService creates the periodic harvest trigger.
func NewHarvestService(orchestrator *harvest.Orchestrator, cfg *config.Config) *HarvestService {
	return &HarvestService{
		orchestrator: orchestrator,
		interval:     cfg.Harvest.Interval,
		delay:        cfg.Scheduler.HarvestDelay,
	}
}

// Serve implements suture.Service.
func (s *HarvestService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// delayedSince tracks when a pending gameweek was first seen, so the
	// configured deferral window elapses once instead of resetting per tick.
	var delayedSince time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		delay := time.Duration(0)
		if s.delay > 0 {
			if delayedSince.IsZero() || time.Since(delayedSince) < s.delay {
				delay = s.delay
			}
		}

		report, err := s.orchestrator.HarvestIfNeeded(ctx, delay)
		if err != nil {
			logging.Error().Err(err).Msg("scheduled harvest failed")
			continue
		}
		switch report.Status {
		case harvest.StatusDelayed:
			if delayedSince.IsZero() {
				delayedSince = time.Now()
			}
		default:
			delayedSince = time.Time{}
		}
	}
}

func (s *HarvestService) String() string { return "harvest-scheduler" }

// RetryService runs the retry/dead-letter scan on a fixed interval.
type RetryService struct {
	engine   *syncer.Engine
	detector *season.Detector
	interval time.Duration
}

// NewRetryService creates the periodic retry scanner.
func NewRetryService(engine *syncer.Engine, detector *season.Detector, interval time.Duration) *RetryService {
	return &RetryService{engine: engine, detector: detector, interval: interval}
}

// Serve implements suture.Service.
func (s *RetryService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		seasonID := s.detector.GetEffectiveSeason(ctx)
		if _, err := s.engine.RetryErroredEntries(ctx, seasonID); err != nil {
			logging.Error().Err(err).Msg("scheduled retry scan failed")
		}
	}
}

func (s *RetryService) String() string { return "retry-scheduler" }

// HealthService recomputes the health summary on a fixed interval.
type HealthService struct {
	aggregator *health.Aggregator
	detector   *season.Detector
	interval   time.Duration
}

// NewHealthService creates the periodic health aggregator.
func NewHealthService(aggregator *health.Aggregator, detector *season.Detector, interval time.Duration) *HealthService {
	return &HealthService{aggregator: aggregator, detector: detector, interval: interval}
}

// Serve implements suture.Service.
func (s *HealthService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		seasonID := s.detector.GetEffectiveSeason(ctx)
		if _, err := s.aggregator.Update(ctx, seasonID); err != nil {
			logging.Error().Err(err).Msg("health aggregation failed")
		}
	}
}

func (s *HealthService) String() string { return "health-scheduler" }

// HTTPService runs the API server as a supervised service.
type HTTPService struct {
	server *http.Server
}

// NewHTTPService wraps an HTTP handler in a supervised server.
func NewHTTPService(handler http.Handler, cfg *config.ServerConfig) *HTTPService {
	return &HTTPService{
		server: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Timeout,
			WriteTimeout:      cfg.Timeout,
		},
	}
}

// Serve implements suture.Service. Binds eagerly so a taken port fails the
// service immediately, then shuts down gracefully on context cancellation.
func (s *HTTPService) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("http listen on %s: %w", s.server.Addr, err)
	}
	return s.serveListener(ctx, listener)
}

func (s *HTTPService) serveListener(ctx context.Context, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", listener.Addr().String()).Msg("http server listening")
		errCh <- s.server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return ctx.Err()
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("http server shutdown incomplete")
		}
		return ctx.Err()
	}
}

func (s *HTTPService) String() string { return "http-server" }
