// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

// Package season resolves the active season and the latest fully finished
// gameweek from the upstream bootstrap payload.
package season

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tomtom215/gwmirror/internal/logging"
	"github.com/tomtom215/gwmirror/internal/models"
	"github.com/tomtom215/gwmirror/internal/store"
)

// BootstrapFetcher is the slice of the upstream client the detector needs.
type BootstrapFetcher interface {
	Bootstrap(ctx context.Context) (*models.Bootstrap, error)
}

// Detector resolves the active season with a cache-first strategy and a
// configured fallback.
type Detector struct {
	client        BootstrapFetcher
	kv            store.KV
	defaultSeason string
	cacheTTL      time.Duration

	// now is injectable for tests. Defaults to time.Now.
	now func() time.Time
}

// NewDetector creates a season detector.
func NewDetector(client BootstrapFetcher, kv store.KV, defaultSeason string, cacheTTL time.Duration) *Detector {
	return &Detector{
		client:        client,
		kv:            kv,
		defaultSeason: defaultSeason,
		cacheTTL:      cacheTTL,
		now:           time.Now,
	}
}

// WithClock replaces the detector's clock. Test hook.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// cachedSeason returns the cached detection result if it is still fresh.
func (d *Detector) cachedSeason(ctx context.Context) string {
	var cached models.DetectedSeason
	found, err := d.kv.GetJSON(ctx, store.DetectedSeasonKey, &cached)
	if err != nil || !found {
		return ""
	}
	if d.now().Sub(cached.DetectedAt) >= d.cacheTTL {
		return ""
	}
	return cached.Season
}

// DetectSeasonFromAPI resolves the season from the upstream bootstrap,
// cache-first with a 1h TTL. The season is the starting year of the
// campaign: a first deadline in August or later belongs to that year,
// earlier deadlines to the previous year.
//
// Returns an error on fetch failure; the caller falls back to the
// configured default.
func (d *Detector) DetectSeasonFromAPI(ctx context.Context) (string, error) {
	if cached := d.cachedSeason(ctx); cached != "" {
		return cached, nil
	}

	bootstrap, err := d.client.Bootstrap(ctx)
	if err != nil {
		return "", fmt.Errorf("detect season: %w", err)
	}
	if len(bootstrap.Events) == 0 {
		return "", fmt.Errorf("detect season: bootstrap has no events")
	}

	deadline := bootstrap.Events[0].DeadlineTime
	year := deadline.Year()
	if deadline.Month() < time.August {
		year--
	}
	seasonStr := strconv.Itoa(year)

	detected := models.DetectedSeason{
		Season:     seasonStr,
		DetectedAt: d.now(),
		Source:     "bootstrap",
	}
	if err := d.kv.PutJSON(ctx, store.DetectedSeasonKey, &detected, d.cacheTTL); err != nil {
		// Cache write failure is non-fatal; detection still succeeded.
		logging.Warn().Err(err).Msg("failed to cache detected season")
	}

	logging.Info().Str("season", seasonStr).Time("first_deadline", deadline).Msg("season detected")
	return seasonStr, nil
}

// GetEffectiveSeason returns the cached season, then a fresh detection,
// then the configured default. It never fails.
func (d *Detector) GetEffectiveSeason(ctx context.Context) string {
	if cached := d.cachedSeason(ctx); cached != "" {
		return cached
	}
	if detected, err := d.DetectSeasonFromAPI(ctx); err == nil && detected != "" {
		return detected
	}
	return d.defaultSeason
}

// DetectLatestFinishedGW returns the highest gameweek ID whose stats are
// final: finished with data_checked set. Gameweeks that finished but still
// await bonus-point corrections are excluded, since harvesting them would
// capture provisional data. Returns 0 when no gameweek qualifies.
func DetectLatestFinishedGW(bootstrap *models.Bootstrap) int {
	latest := 0
	for _, event := range bootstrap.Events {
		if event.Finished && event.DataChecked && event.ID > latest {
			latest = event.ID
		}
	}
	return latest
}
