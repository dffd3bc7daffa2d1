// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/gwmirror/internal/config"
	"github.com/tomtom215/gwmirror/internal/harvest"
	"github.com/tomtom215/gwmirror/internal/health"
	"github.com/tomtom215/gwmirror/internal/models"
	"github.com/tomtom215/gwmirror/internal/season"
	"github.com/tomtom215/gwmirror/internal/store"
	"github.com/tomtom215/gwmirror/internal/syncer"
)

// stubAPI satisfies both the engine's and the orchestrator's upstream
// surface with static data.
type stubAPI struct{}

func (stubAPI) Bootstrap(ctx context.Context) (*models.Bootstrap, error) {
	return &models.Bootstrap{Events: []models.Event{
		{ID: 1, DeadlineTime: time.Date(2025, 8, 16, 17, 30, 0, 0, time.UTC), Finished: true, DataChecked: true},
		{ID: 2, IsCurrent: true},
	}}, nil
}

func (stubAPI) LiveStats(ctx context.Context, gw int) (*models.LiveStats, error) {
	return &models.LiveStats{}, nil
}

func (stubAPI) EntrySummary(ctx context.Context, entryID int) (*models.EntrySummary, error) {
	return &models.EntrySummary{ID: entryID, Name: "Stub Squad"}, nil
}

func (stubAPI) EntryHistory(ctx context.Context, entryID int) ([]models.HistoryRow, error) {
	return []models.HistoryRow{{Event: 1, Points: 70}}, nil
}

func (stubAPI) EntryTransfers(ctx context.Context, entryID int) ([]models.Transfer, error) {
	return nil, nil
}

func (stubAPI) EntryPicks(ctx context.Context, entryID, gw int) (*models.PicksRecord, error) {
	return &models.PicksRecord{}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, store.KV) {
	t.Helper()
	kv := store.NewMemoryKV()
	api := stubAPI{}

	detector := season.NewDetector(api, kv, "2025", time.Hour)
	engine := syncer.NewEngine(api, kv, &config.SyncConfig{
		MaxRetryAttempts:    3,
		RetryCooldown:       time.Hour,
		BuildingLockTimeout: time.Hour,
		RetryScanLimit:      200,
		RetryBatchSize:      5,
	})
	orchestrator := harvest.NewOrchestrator(api, kv, detector, &config.HarvestConfig{
		Concurrency:        5,
		TimeBudget:         25 * time.Second,
		TransfersStaleness: 6 * time.Hour,
		SummaryStaleness:   12 * time.Hour,
		ScanPageSize:       200,
	})
	aggregator := health.NewAggregator(kv, 200)

	handlers := NewHandlers(kv, engine, orchestrator, aggregator, detector)
	router := NewRouter(handlers, &config.ServerConfig{
		RateLimitReqs:   1000,
		RateLimitWindow: time.Minute,
		CORSOrigins:     []string{"*"},
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, kv
}

func doRequest(t *testing.T, method, url string) (*http.Response, models.APIResponse) {
	t.Helper()
	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var envelope models.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func TestEnqueueAndReadState(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, envelope := doRequest(t, http.MethodPost, srv.URL+"/api/v1/entries/42")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "ok", envelope.Status)

	resp, envelope = doRequest(t, http.MethodGet, srv.URL+"/api/v1/entries/42/state")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var data struct {
		State models.EntryState `json:"state"`
	}
	require.NoError(t, json.Unmarshal(payload, &data))
	assert.Equal(t, models.StatusQueued, data.State.Status)
}

func TestEntryStateNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, envelope := doRequest(t, http.MethodGet, srv.URL+"/api/v1/entries/999/state")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "error", envelope.Status)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "ENTRY_NOT_FOUND", envelope.Error.Code)
}

func TestInvalidEntryIDRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, envelope := doRequest(t, http.MethodGet, srv.URL+"/api/v1/entries/abc/state")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "INVALID_ENTRY_ID", envelope.Error.Code)
}

func TestEnqueueDeadEntryConflicts(t *testing.T) {
	srv, kv := newTestServer(t)

	dead := models.EntryState{Status: models.StatusDead, Attempts: 3, Version: 6}
	require.NoError(t, kv.PutJSON(context.Background(), store.EntryStateKey("2025", 13), &dead, 0))

	resp, envelope := doRequest(t, http.MethodPost, srv.URL+"/api/v1/entries/13")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "ENTRY_DEAD", envelope.Error.Code)

	// Revive clears the conflict.
	resp, _ = doRequest(t, http.MethodPost, srv.URL+"/api/v1/entries/13/revive")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodPost, srv.URL+"/api/v1/entries/13")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	srv, kv := newTestServer(t)

	// Before any aggregation the endpoint still answers.
	resp, envelope := doRequest(t, http.MethodGet, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", envelope.Status)

	state := models.EntryState{Status: models.StatusComplete, Version: 1}
	require.NoError(t, kv.PutJSON(context.Background(), store.EntryStateKey("2025", 1), &state, 0))
	aggregator := health.NewAggregator(kv, 200)
	_, err := aggregator.Update(context.Background(), "2025")
	require.NoError(t, err)

	_, envelope = doRequest(t, http.MethodGet, srv.URL+"/health")
	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var data struct {
		Season  string               `json:"season"`
		Entries models.HealthSummary `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(payload, &data))
	assert.Equal(t, "2025", data.Season)
	assert.Equal(t, 1, data.Entries.Total)
}

func TestAdminHarvestTrigger(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, envelope := doRequest(t, http.MethodPost, srv.URL+"/api/v1/admin/harvest?delay_sec=60")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var report harvest.Report
	require.NoError(t, json.Unmarshal(payload, &report))
	assert.Equal(t, harvest.StatusDelayed, report.Status)
	assert.NotEmpty(t, report.RunID)

	resp, _ = doRequest(t, http.MethodPost, srv.URL+"/api/v1/admin/harvest?delay_sec=-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminRetryScanTrigger(t *testing.T) {
	srv, kv := newTestServer(t)

	errored := models.EntryState{
		Status: models.StatusErrored, Attempts: 1,
		UpdatedAt: time.Now().Add(-2 * time.Hour), Version: 3,
	}
	require.NoError(t, kv.PutJSON(context.Background(), store.EntryStateKey("2025", 5), &errored, 0))

	resp, envelope := doRequest(t, http.MethodPost, srv.URL+"/api/v1/admin/retry-scan")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var report syncer.RetryReport
	require.NoError(t, json.Unmarshal(payload, &report))
	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 1, report.Succeeded)
}

func TestMetricsExposed(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
