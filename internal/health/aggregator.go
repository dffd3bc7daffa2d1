// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

// Package health precomputes per-status entry counts so the diagnostics
// endpoint reads a snapshot instead of re-scanning the store per request.
// The snapshot may be up to one aggregation cycle stale.
package health

import (
	"context"
	"time"

	"github.com/tomtom215/gwmirror/internal/logging"
	"github.com/tomtom215/gwmirror/internal/metrics"
	"github.com/tomtom215/gwmirror/internal/models"
	"github.com/tomtom215/gwmirror/internal/store"
)

// Aggregator tallies entry state counts into a persisted HealthSummary.
type Aggregator struct {
	kv       store.KV
	pageSize int

	// now is injectable for tests. Defaults to time.Now.
	now func() time.Time
}

// NewAggregator creates a health aggregator.
func NewAggregator(kv store.KV, pageSize int) *Aggregator {
	if pageSize <= 0 {
		pageSize = 200
	}
	return &Aggregator{kv: kv, pageSize: pageSize, now: time.Now}
}

// WithClock replaces the aggregator's clock. Test hook.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Update runs a full cursor-paginated scan over the season's entry states
// and persists the per-status counts.
func (a *Aggregator) Update(ctx context.Context, season string) (*models.HealthSummary, error) {
	counts := map[string]int{
		string(models.StatusQueued):   0,
		string(models.StatusBuilding): 0,
		string(models.StatusComplete): 0,
		string(models.StatusErrored):  0,
		string(models.StatusDead):     0,
	}
	total := 0

	prefix := store.EntryStatePrefix(season)
	cursor := ""
	for {
		page, err := a.kv.List(ctx, prefix, cursor, a.pageSize)
		if err != nil {
			return nil, err
		}
		for _, key := range page.Keys {
			var state models.EntryState
			found, err := a.kv.GetJSON(ctx, key, &state)
			if err != nil || !found {
				continue
			}
			counts[string(state.Status)]++
			total++
		}
		if page.Complete {
			break
		}
		cursor = page.Cursor
	}

	summary := &models.HealthSummary{
		Counts:    counts,
		Total:     total,
		UpdatedAt: a.now(),
	}
	if err := a.kv.PutJSON(ctx, store.HealthSummaryKey(season), summary, 0); err != nil {
		return nil, err
	}

	for status, count := range counts {
		metrics.EntryStateCount.WithLabelValues(status).Set(float64(count))
	}
	logging.Debug().Str("season", season).Int("total", total).Msg("health summary updated")
	return summary, nil
}

// Read returns the last persisted summary. Returns (nil, false, nil) when
// no aggregation has run yet.
func (a *Aggregator) Read(ctx context.Context, season string) (*models.HealthSummary, bool, error) {
	var summary models.HealthSummary
	found, err := a.kv.GetJSON(ctx, store.HealthSummaryKey(season), &summary)
	if err != nil || !found {
		return nil, false, err
	}
	return &summary, true, nil
}
