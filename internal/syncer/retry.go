// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

package syncer

import (
	"context"

	"github.com/tomtom215/gwmirror/internal/logging"
	"github.com/tomtom215/gwmirror/internal/metrics"
	"github.com/tomtom215/gwmirror/internal/models"
	"github.com/tomtom215/gwmirror/internal/store"
)

// retryScanPageSize is the per-page size for the bounded state scan.
const retryScanPageSize = 100

// RetryReport summarizes one retry/dead-letter scan.
type RetryReport struct {
	// Scanned is the number of state keys examined (capped by
	// sync.retry_scan_limit).
	Scanned int `json:"scanned"`

	// Eligible counts entries past their cooldown with attempts left,
	// measured before the per-cycle batch cap so callers can see the
	// backlog size.
	Eligible int `json:"eligible"`

	// Retried is the number of entries requeued and processed this cycle.
	Retried int `json:"retried"`

	// Succeeded is how many retried entries completed.
	Succeeded int `json:"succeeded"`

	// Dead is the number of entries dead-lettered this cycle.
	Dead int `json:"dead"`
}

// RetryErroredEntries scans errored entry states for the season and either
// dead-letters them (attempts exhausted), skips them (cooling down), or
// requeues and synchronously re-processes up to the batch cap.
//
// Dead entries are never touched; only an explicit revive moves them.
func (e *Engine) RetryErroredEntries(ctx context.Context, season string) (RetryReport, error) {
	report := RetryReport{}
	prefix := store.EntryStatePrefix(season)
	cursor := ""

	for report.Scanned < e.cfg.RetryScanLimit {
		pageLimit := retryScanPageSize
		if remaining := e.cfg.RetryScanLimit - report.Scanned; remaining < pageLimit {
			pageLimit = remaining
		}

		page, err := e.kv.List(ctx, prefix, cursor, pageLimit)
		if err != nil {
			return report, err
		}

		for _, key := range page.Keys {
			report.Scanned++

			var state models.EntryState
			found, err := e.kv.GetJSON(ctx, key, &state)
			if err != nil || !found {
				continue
			}
			if state.Status != models.StatusErrored {
				continue
			}

			now := e.now()

			// Attempts exhausted: dead-letter immediately, no cooldown check.
			if state.Attempts >= e.cfg.MaxRetryAttempts {
				if err := state.Transition(models.StatusDead, now); err != nil {
					continue
				}
				if err := e.kv.PutJSON(ctx, key, &state, 0); err != nil {
					logging.Error().Err(err).Str("key", key).Msg("failed to dead-letter entry")
					continue
				}
				report.Dead++
				metrics.DeadLetteredTotal.Inc()
				continue
			}

			// Cooling down.
			if now.Sub(state.UpdatedAt) < e.cfg.RetryCooldown {
				continue
			}

			report.Eligible++
			if report.Retried >= e.cfg.RetryBatchSize {
				// Past the batch cap: still counted as eligible so the
				// caller sees the backlog, but not processed this cycle.
				continue
			}

			entryID, err := store.EntryIDFromKey(key)
			if err != nil {
				logging.Warn().Err(err).Str("key", key).Msg("skipping malformed state key")
				continue
			}

			// Requeue with attempts preserved, then process synchronously.
			if err := state.Transition(models.StatusQueued, now); err != nil {
				continue
			}
			if err := e.kv.PutJSON(ctx, key, &state, 0); err != nil {
				logging.Error().Err(err).Str("key", key).Msg("failed to requeue entry")
				continue
			}
			report.Retried++
			metrics.RetryScanRetried.Inc()

			if result := e.ProcessEntryOnce(ctx, entryID, season); result.OK {
				report.Succeeded++
			}
		}

		if page.Complete {
			break
		}
		cursor = page.Cursor
	}

	metrics.RetryScanEligible.Set(float64(report.Eligible))
	logging.Info().
		Str("season", season).
		Int("scanned", report.Scanned).
		Int("eligible", report.Eligible).
		Int("retried", report.Retried).
		Int("succeeded", report.Succeeded).
		Int("dead", report.Dead).
		Msg("retry scan finished")
	return report, nil
}
