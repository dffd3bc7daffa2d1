// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

// Package syncer implements the per-entry sync state machine: claiming a
// queued entry, fetching its season data with incremental picks backfill,
// and finalizing the mirrored blob. It also carries the retry/dead-letter
// scanner that requeues errored entries after a cooldown.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/gwmirror/internal/config"
	"github.com/tomtom215/gwmirror/internal/logging"
	"github.com/tomtom215/gwmirror/internal/metrics"
	"github.com/tomtom215/gwmirror/internal/models"
	"github.com/tomtom215/gwmirror/internal/store"
)

// Result reasons. A Result is always returned; ProcessEntryOnce never
// propagates a panic or error past its boundary.
const (
	ReasonNotQueued    = "not_queued"
	ReasonEmptyHistory = "empty_history"
	ReasonNoTargetGW   = "no_target_gw"
	ReasonFetchFailed  = "fetch_failed"
	ReasonStoreFailed  = "store_failed"
)

// ErrEntryDead is returned when an operation targets a dead entry that
// requires an explicit revive first.
var ErrEntryDead = errors.New("syncer: entry is dead, revive it first")

// DataShapeError marks an upstream payload that lacks the fields needed to
// compute a target gameweek.
type DataShapeError struct {
	Reason string
}

func (e *DataShapeError) Error() string {
	return "syncer: upstream data shape: " + e.Reason
}

// Result is the structured outcome of a single sync pass over one entry.
type Result struct {
	OK       bool   `json:"ok"`
	Reason   string `json:"reason,omitempty"`
	EntryID  int    `json:"entry_id"`
	TargetGW int    `json:"target_gw,omitempty"`
	Err      error  `json:"-"`
}

// StatsAPI is the slice of the upstream client the engine consumes.
type StatsAPI interface {
	EntrySummary(ctx context.Context, entryID int) (*models.EntrySummary, error)
	EntryHistory(ctx context.Context, entryID int) ([]models.HistoryRow, error)
	EntryTransfers(ctx context.Context, entryID int) ([]models.Transfer, error)
	EntryPicks(ctx context.Context, entryID, gw int) (*models.PicksRecord, error)
}

// Engine drives the per-entry sync state machine.
type Engine struct {
	api StatsAPI
	kv  store.KV
	cfg *config.SyncConfig

	// now is injectable for tests. Defaults to time.Now.
	now func() time.Time
}

// NewEngine creates a sync engine.
func NewEngine(api StatsAPI, kv store.KV, cfg *config.SyncConfig) *Engine {
	return &Engine{api: api, kv: kv, cfg: cfg, now: time.Now}
}

// WithClock replaces the engine's clock. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// ProcessEntryOnce runs one full sync pass for an entry. It claims the
// state (queued or building with a stale lock), fetches profile, history,
// transfers and any missing picks, writes the full blob, and finalizes the
// state as complete. Every failure is recovered locally by writing an
// errored state; callers always receive a structured Result.
func (e *Engine) ProcessEntryOnce(ctx context.Context, entryID int, season string) Result {
	start := e.now()
	defer func() {
		metrics.SyncDuration.Observe(time.Since(start).Seconds())
	}()

	stateKey := store.EntryStateKey(season, entryID)

	var state models.EntryState
	found, err := e.kv.GetJSON(ctx, stateKey, &state)
	if err != nil {
		return Result{Reason: ReasonStoreFailed, EntryID: entryID, Err: err}
	}
	if !found || (state.Status != models.StatusQueued && state.Status != models.StatusBuilding) {
		metrics.SyncResultsTotal.WithLabelValues(ReasonNotQueued).Inc()
		return Result{Reason: ReasonNotQueued, EntryID: entryID}
	}

	now := e.now()

	// A building lock older than the timeout belongs to a crashed or hung
	// worker; reclaim it. Recovers without external coordination.
	if state.Status == models.StatusBuilding {
		stale := state.WorkerStartedAt == nil ||
			now.Sub(*state.WorkerStartedAt) > e.cfg.BuildingLockTimeout
		if stale {
			if err := state.Transition(models.StatusQueued, now); err != nil {
				return Result{Reason: ReasonStoreFailed, EntryID: entryID, Err: err}
			}
			logging.Warn().Int("entry_id", entryID).Msg("reclaimed stale building lock")
		}
	}

	// Claim: mark building before any fetch.
	if state.Status == models.StatusQueued {
		if err := state.Transition(models.StatusBuilding, now); err != nil {
			return Result{Reason: ReasonStoreFailed, EntryID: entryID, Err: err}
		}
	} else {
		// Still building under a fresh lock: overlapping invocation. The
		// design accepts this race; the claim is re-stamped.
		state.UpdatedAt = now
		state.Version++
	}
	state.Attempts++
	workerStart := now
	state.WorkerStartedAt = &workerStart
	if err := e.kv.PutJSON(ctx, stateKey, &state, 0); err != nil {
		return Result{Reason: ReasonStoreFailed, EntryID: entryID, Err: err}
	}

	// Fetch sequence. Each step depends on the previous result.
	summary, err := e.api.EntrySummary(ctx, entryID)
	if err != nil {
		return e.fail(ctx, stateKey, &state, entryID, ReasonFetchFailed,
			fmt.Errorf("fetch entry summary: %w", err))
	}

	history, err := e.api.EntryHistory(ctx, entryID)
	if err != nil {
		return e.fail(ctx, stateKey, &state, entryID, ReasonFetchFailed,
			fmt.Errorf("fetch entry history: %w", err))
	}
	if len(history) == 0 {
		return e.fail(ctx, stateKey, &state, entryID, ReasonEmptyHistory,
			&DataShapeError{Reason: ReasonEmptyHistory})
	}

	targetGW := 0
	summaries := make(map[int]models.GWSummary, len(history))
	for _, row := range history {
		summaries[row.Event] = models.SummaryFromHistoryRow(row)
		if row.Event > targetGW {
			targetGW = row.Event
		}
	}
	if targetGW <= 0 {
		return e.fail(ctx, stateKey, &state, entryID, ReasonNoTargetGW,
			&DataShapeError{Reason: ReasonNoTargetGW})
	}

	// Transfers are replaced whole each run.
	transfers, err := e.api.EntryTransfers(ctx, entryID)
	if err != nil {
		return e.fail(ctx, stateKey, &state, entryID, ReasonFetchFailed,
			fmt.Errorf("fetch entry transfers: %w", err))
	}

	blobKey := store.EntryBlobKey(season, entryID)
	var existing models.EntrySeasonBlob
	foundBlob, err := e.kv.GetJSON(ctx, blobKey, &existing)
	if err != nil {
		return e.fail(ctx, stateKey, &state, entryID, ReasonStoreFailed,
			fmt.Errorf("read existing blob: %w", err))
	}

	// Incremental backfill: seed picks from the prior blob so an entry
	// already synced through gw-1 issues O(1) picks fetches, not O(gw).
	picks := make(map[int]models.PicksRecord)
	startGW := 1
	if foundBlob {
		for gw, record := range existing.PicksByGW {
			picks[gw] = record
		}
		if existing.LastGWProcessed > 0 {
			startGW = existing.LastGWProcessed + 1
			if startGW > targetGW {
				startGW = targetGW
			}
		}
	}

	fetchPicks := func(gw int) error {
		if _, have := picks[gw]; have {
			return nil
		}
		if _, played := summaries[gw]; !played {
			// Absent from history: the entry did not play this gameweek.
			return nil
		}
		record, err := e.api.EntryPicks(ctx, entryID, gw)
		if err != nil {
			return fmt.Errorf("fetch picks gw %d: %w", gw, err)
		}
		metrics.PicksFetchesTotal.Inc()
		picks[gw] = *record
		return nil
	}

	for gw := startGW; gw <= targetGW; gw++ {
		if err := fetchPicks(gw); err != nil {
			return e.fail(ctx, stateKey, &state, entryID, ReasonFetchFailed, err)
		}
	}
	// Backfill gaps below the incremental window under the same
	// existence + participation guard.
	for gw := 1; gw < startGW; gw++ {
		if err := fetchPicks(gw); err != nil {
			return e.fail(ctx, stateKey, &state, entryID, ReasonFetchFailed, err)
		}
	}

	now = e.now()
	lastGW := targetGW
	if foundBlob && existing.LastGWProcessed > lastGW {
		lastGW = existing.LastGWProcessed
	}
	blob := models.EntrySeasonBlob{
		EntryID:              entryID,
		Season:               season,
		LastGWProcessed:      lastGW,
		GWSummaries:          summaries,
		PicksByGW:            picks,
		Transfers:            transfers,
		ProfileSummary:       *summary,
		TransfersRefreshedAt: now,
		SummaryRefreshedAt:   now,
		UpdatedAt:            now,
		Version:              existing.Version + 1,
	}
	if err := e.kv.PutJSON(ctx, blobKey, &blob, 0); err != nil {
		return e.fail(ctx, stateKey, &state, entryID, ReasonStoreFailed,
			fmt.Errorf("write blob: %w", err))
	}

	if err := state.Transition(models.StatusComplete, e.now()); err != nil {
		return Result{Reason: ReasonStoreFailed, EntryID: entryID, TargetGW: targetGW, Err: err}
	}
	if lastGW > state.LastGWProcessed {
		state.LastGWProcessed = lastGW
	}
	state.Error = ""
	state.WorkerStartedAt = nil
	if err := e.kv.PutJSON(ctx, stateKey, &state, 0); err != nil {
		return Result{Reason: ReasonStoreFailed, EntryID: entryID, TargetGW: targetGW, Err: err}
	}

	metrics.SyncResultsTotal.WithLabelValues("complete").Inc()
	logging.Info().
		Int("entry_id", entryID).
		Str("season", season).
		Int("target_gw", targetGW).
		Msg("entry sync complete")
	return Result{OK: true, EntryID: entryID, TargetGW: targetGW}
}

// fail converts any error in the fetch/write sequence into an errored
// state write. The write itself is best effort; a store outage here is
// picked up by the stale-lock recovery on the next pass.
func (e *Engine) fail(ctx context.Context, stateKey string, state *models.EntryState, entryID int, reason string, cause error) Result {
	now := e.now()
	if err := state.Transition(models.StatusErrored, now); err != nil {
		logging.Error().Err(err).Int("entry_id", entryID).Msg("errored transition rejected")
	}
	state.Error = cause.Error()
	state.WorkerStartedAt = nil
	if err := e.kv.PutJSON(ctx, stateKey, state, 0); err != nil {
		logging.Error().Err(err).Int("entry_id", entryID).Msg("failed to persist errored state")
	}

	metrics.SyncResultsTotal.WithLabelValues(reason).Inc()
	logging.Warn().
		Int("entry_id", entryID).
		Str("reason", reason).
		Err(cause).
		Int("attempts", state.Attempts).
		Msg("entry sync failed")
	return Result{Reason: reason, EntryID: entryID, Err: cause}
}

// EnqueueEntry creates or requeues the state record for an entry.
// Missing state is created queued; complete or errored entries are reset
// to queued with fresh attempts; queued/building entries are left alone.
// Dead entries require an explicit revive.
func (e *Engine) EnqueueEntry(ctx context.Context, season string, entryID int) (*models.EntryState, error) {
	stateKey := store.EntryStateKey(season, entryID)

	var state models.EntryState
	found, err := e.kv.GetJSON(ctx, stateKey, &state)
	if err != nil {
		return nil, err
	}
	now := e.now()

	if !found {
		fresh := models.NewQueuedState(now)
		if err := e.kv.PutJSON(ctx, stateKey, fresh, 0); err != nil {
			return nil, err
		}
		return fresh, nil
	}

	switch state.Status {
	case models.StatusQueued, models.StatusBuilding:
		return &state, nil
	case models.StatusDead:
		return nil, ErrEntryDead
	default: // complete, errored
		if err := state.Transition(models.StatusQueued, now); err != nil {
			return nil, err
		}
		state.Attempts = 0
		state.Error = ""
		state.WorkerStartedAt = nil
		if err := e.kv.PutJSON(ctx, stateKey, &state, 0); err != nil {
			return nil, err
		}
		return &state, nil
	}
}

// ReviveEntry is the explicit admin action that returns a dead (or
// errored) entry to the queue with fresh attempts. Nothing else may move
// an entry out of dead.
func (e *Engine) ReviveEntry(ctx context.Context, season string, entryID int) (*models.EntryState, error) {
	stateKey := store.EntryStateKey(season, entryID)

	var state models.EntryState
	found, err := e.kv.GetJSON(ctx, stateKey, &state)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrNotFound
	}
	if state.Status != models.StatusDead && state.Status != models.StatusErrored {
		return nil, fmt.Errorf("syncer: cannot revive entry in status %s", state.Status)
	}

	if err := state.Transition(models.StatusQueued, e.now()); err != nil {
		return nil, err
	}
	state.Attempts = 0
	state.Error = ""
	state.WorkerStartedAt = nil
	if err := e.kv.PutJSON(ctx, stateKey, &state, 0); err != nil {
		return nil, err
	}

	logging.Info().Int("entry_id", entryID).Str("season", season).Msg("entry revived")
	return &state, nil
}
