// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/gwmirror/internal/config"
	"github.com/tomtom215/gwmirror/internal/models"
	"github.com/tomtom215/gwmirror/internal/store"
)

// fakeStatsAPI serves canned entry data and records every picks fetch.
type fakeStatsAPI struct {
	mu         sync.Mutex
	summary    *models.EntrySummary
	history    []models.HistoryRow
	transfers  []models.Transfer
	picks      map[int]*models.PicksRecord
	failWith   error
	picksCalls []int
}

func (f *fakeStatsAPI) EntrySummary(ctx context.Context, entryID int) (*models.EntrySummary, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	if f.summary == nil {
		return &models.EntrySummary{ID: entryID}, nil
	}
	return f.summary, nil
}

func (f *fakeStatsAPI) EntryHistory(ctx context.Context, entryID int) ([]models.HistoryRow, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.history, nil
}

func (f *fakeStatsAPI) EntryTransfers(ctx context.Context, entryID int) ([]models.Transfer, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.transfers, nil
}

func (f *fakeStatsAPI) EntryPicks(ctx context.Context, entryID, gw int) (*models.PicksRecord, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	f.picksCalls = append(f.picksCalls, gw)
	f.mu.Unlock()
	if record, ok := f.picks[gw]; ok {
		return record, nil
	}
	return &models.PicksRecord{}, nil
}

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		MaxRetryAttempts:    3,
		RetryCooldown:       time.Hour,
		BuildingLockTimeout: time.Hour,
		RetryScanLimit:      200,
		RetryBatchSize:      5,
	}
}

func twoGWHistory() []models.HistoryRow {
	return []models.HistoryRow{
		{Event: 1, Points: 65, TotalPoints: 65},
		{Event: 2, Points: 55, TotalPoints: 120},
	}
}

func TestProcessEntryOnceFreshEntry(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	api := &fakeStatsAPI{history: twoGWHistory()}
	engine := NewEngine(api, kv, testSyncConfig())

	_, err := engine.EnqueueEntry(ctx, "2025", 42)
	require.NoError(t, err)

	result := engine.ProcessEntryOnce(ctx, 42, "2025")
	require.True(t, result.OK, "reason: %s err: %v", result.Reason, result.Err)
	assert.Equal(t, 2, result.TargetGW)

	var state models.EntryState
	found, err := kv.GetJSON(ctx, store.EntryStateKey("2025", 42), &state)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.StatusComplete, state.Status)
	assert.Equal(t, 2, state.LastGWProcessed)
	assert.Equal(t, 1, state.Attempts)
	assert.Nil(t, state.WorkerStartedAt)

	var blob models.EntrySeasonBlob
	found, err = kv.GetJSON(ctx, store.EntryBlobKey("2025", 42), &blob)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, blob.LastGWProcessed)
	assert.Equal(t, 65, blob.GWSummaries[1].Points)
	assert.Equal(t, 55, blob.GWSummaries[2].Points)
	assert.Len(t, blob.PicksByGW, 2)

	assert.ElementsMatch(t, []int{1, 2}, api.picksCalls)
}

func TestProcessEntryOnceIncrementalPicksBackfill(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	api := &fakeStatsAPI{history: twoGWHistory()}
	engine := NewEngine(api, kv, testSyncConfig())

	// Prior run already mirrored gameweek 1 with its picks.
	existing := models.EntrySeasonBlob{
		EntryID:         42,
		Season:          "2025",
		LastGWProcessed: 1,
		GWSummaries:     map[int]models.GWSummary{1: {Event: 1, Points: 65}},
		PicksByGW:       map[int]models.PicksRecord{1: {}},
		Version:         1,
	}
	require.NoError(t, kv.PutJSON(ctx, store.EntryBlobKey("2025", 42), &existing, 0))
	_, err := engine.EnqueueEntry(ctx, "2025", 42)
	require.NoError(t, err)

	result := engine.ProcessEntryOnce(ctx, 42, "2025")
	require.True(t, result.OK)

	assert.Equal(t, []int{2}, api.picksCalls, "only the new gameweek's picks are fetched")

	var blob models.EntrySeasonBlob
	found, err := kv.GetJSON(ctx, store.EntryBlobKey("2025", 42), &blob)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, blob.LastGWProcessed)
	assert.Equal(t, 2, blob.Version)
	assert.Len(t, blob.PicksByGW, 2)
}

func TestProcessEntryOnceSkipsUnplayedGameweeks(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	// Entry joined at gameweek 3: no rows for 1 and 2.
	api := &fakeStatsAPI{history: []models.HistoryRow{
		{Event: 3, Points: 40},
		{Event: 4, Points: 50},
	}}
	engine := NewEngine(api, kv, testSyncConfig())

	_, err := engine.EnqueueEntry(ctx, "2025", 7)
	require.NoError(t, err)

	result := engine.ProcessEntryOnce(ctx, 7, "2025")
	require.True(t, result.OK)
	assert.ElementsMatch(t, []int{3, 4}, api.picksCalls, "no picks fetch for unplayed gameweeks")
}

func TestProcessEntryOnceGuardsNonQueued(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	api := &fakeStatsAPI{history: twoGWHistory()}
	engine := NewEngine(api, kv, testSyncConfig())

	// Missing state.
	result := engine.ProcessEntryOnce(ctx, 42, "2025")
	assert.False(t, result.OK)
	assert.Equal(t, ReasonNotQueued, result.Reason)

	// Complete state.
	state := models.EntryState{Status: models.StatusComplete, UpdatedAt: time.Now(), Version: 3}
	require.NoError(t, kv.PutJSON(ctx, store.EntryStateKey("2025", 42), &state, 0))
	result = engine.ProcessEntryOnce(ctx, 42, "2025")
	assert.Equal(t, ReasonNotQueued, result.Reason)

	// Dead state.
	state.Status = models.StatusDead
	require.NoError(t, kv.PutJSON(ctx, store.EntryStateKey("2025", 42), &state, 0))
	result = engine.ProcessEntryOnce(ctx, 42, "2025")
	assert.Equal(t, ReasonNotQueued, result.Reason)
}

func TestProcessEntryOnceReclaimsStaleBuildingLock(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	api := &fakeStatsAPI{history: twoGWHistory()}

	current := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	engine := NewEngine(api, kv, testSyncConfig()).WithClock(func() time.Time { return current })

	staleStart := current.Add(-2 * time.Hour)
	state := models.EntryState{
		Status:          models.StatusBuilding,
		Attempts:        1,
		UpdatedAt:       staleStart,
		WorkerStartedAt: &staleStart,
		Version:         2,
	}
	require.NoError(t, kv.PutJSON(ctx, store.EntryStateKey("2025", 42), &state, 0))

	result := engine.ProcessEntryOnce(ctx, 42, "2025")
	require.True(t, result.OK, "stale building lock must be reclaimed and processed")

	var final models.EntryState
	found, err := kv.GetJSON(ctx, store.EntryStateKey("2025", 42), &final)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.StatusComplete, final.Status)
	assert.Equal(t, 2, final.Attempts)
}

func TestProcessEntryOnceEmptyHistoryErrors(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	api := &fakeStatsAPI{history: nil}
	engine := NewEngine(api, kv, testSyncConfig())

	_, err := engine.EnqueueEntry(ctx, "2025", 42)
	require.NoError(t, err)

	result := engine.ProcessEntryOnce(ctx, 42, "2025")
	assert.False(t, result.OK)
	assert.Equal(t, ReasonEmptyHistory, result.Reason)

	var shapeErr *DataShapeError
	assert.ErrorAs(t, result.Err, &shapeErr)

	var state models.EntryState
	found, err := kv.GetJSON(ctx, store.EntryStateKey("2025", 42), &state)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.StatusErrored, state.Status)
	assert.Equal(t, 1, state.Attempts)
	assert.NotEmpty(t, state.Error)
}

func TestProcessEntryOnceFetchFailureIncrementsAttempts(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	api := &fakeStatsAPI{failWith: errors.New("upstream down")}
	engine := NewEngine(api, kv, testSyncConfig())

	_, err := engine.EnqueueEntry(ctx, "2025", 42)
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		result := engine.ProcessEntryOnce(ctx, 42, "2025")
		assert.Equal(t, ReasonFetchFailed, result.Reason)

		var state models.EntryState
		_, err := kv.GetJSON(ctx, store.EntryStateKey("2025", 42), &state)
		require.NoError(t, err)
		assert.Equal(t, i, state.Attempts, "each guarded pass increments attempts once")

		// An errored entry is not processable until it is requeued.
		guard := engine.ProcessEntryOnce(ctx, 42, "2025")
		assert.Equal(t, ReasonNotQueued, guard.Reason)

		require.NoError(t, state.Transition(models.StatusQueued, time.Now()))
		require.NoError(t, kv.PutJSON(ctx, store.EntryStateKey("2025", 42), &state, 0))
	}
}

func TestEnqueueEntry(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	engine := NewEngine(&fakeStatsAPI{}, kv, testSyncConfig())

	// Missing: created queued.
	state, err := engine.EnqueueEntry(ctx, "2025", 42)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, state.Status)

	// Queued: no-op.
	again, err := engine.EnqueueEntry(ctx, "2025", 42)
	require.NoError(t, err)
	assert.Equal(t, state.Version, again.Version)

	// Errored: requeued with fresh attempts.
	errored := models.EntryState{Status: models.StatusErrored, Attempts: 2, Error: "x", Version: 4}
	require.NoError(t, kv.PutJSON(ctx, store.EntryStateKey("2025", 42), &errored, 0))
	requeued, err := engine.EnqueueEntry(ctx, "2025", 42)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, requeued.Status)
	assert.Equal(t, 0, requeued.Attempts)
	assert.Empty(t, requeued.Error)

	// Dead: rejected.
	dead := models.EntryState{Status: models.StatusDead, Attempts: 3, Version: 6}
	require.NoError(t, kv.PutJSON(ctx, store.EntryStateKey("2025", 42), &dead, 0))
	_, err = engine.EnqueueEntry(ctx, "2025", 42)
	assert.ErrorIs(t, err, ErrEntryDead)
}

func TestReviveEntry(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	engine := NewEngine(&fakeStatsAPI{}, kv, testSyncConfig())

	_, err := engine.ReviveEntry(ctx, "2025", 42)
	assert.ErrorIs(t, err, store.ErrNotFound)

	dead := models.EntryState{Status: models.StatusDead, Attempts: 3, Error: "x", Version: 6}
	require.NoError(t, kv.PutJSON(ctx, store.EntryStateKey("2025", 42), &dead, 0))

	revived, err := engine.ReviveEntry(ctx, "2025", 42)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, revived.Status)
	assert.Equal(t, 0, revived.Attempts)
	assert.Empty(t, revived.Error)

	// Complete entries cannot be revived; that is what enqueue is for.
	complete := models.EntryState{Status: models.StatusComplete, Version: 8}
	require.NoError(t, kv.PutJSON(ctx, store.EntryStateKey("2025", 42), &complete, 0))
	_, err = engine.ReviveEntry(ctx, "2025", 42)
	assert.Error(t, err)
}
