// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

// Package api provides the HTTP surface over the mirror: entry ingestion,
// state inspection, admin triggers, and diagnostics.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/gwmirror/internal/harvest"
	"github.com/tomtom215/gwmirror/internal/health"
	"github.com/tomtom215/gwmirror/internal/models"
	"github.com/tomtom215/gwmirror/internal/season"
	"github.com/tomtom215/gwmirror/internal/store"
	"github.com/tomtom215/gwmirror/internal/syncer"
)

// Handlers bundles the HTTP handlers and their collaborators.
type Handlers struct {
	kv           store.KV
	engine       *syncer.Engine
	orchestrator *harvest.Orchestrator
	aggregator   *health.Aggregator
	detector     *season.Detector
}

// NewHandlers creates the handler set.
func NewHandlers(kv store.KV, engine *syncer.Engine, orchestrator *harvest.Orchestrator, aggregator *health.Aggregator, detector *season.Detector) *Handlers {
	return &Handlers{
		kv:           kv,
		engine:       engine,
		orchestrator: orchestrator,
		aggregator:   aggregator,
		detector:     detector,
	}
}

// entryID parses the {id} route parameter.
func entryID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, errors.New("entry id must be a positive integer")
	}
	return id, nil
}

// Health serves the precomputed per-status entry counts.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	seasonID := h.detector.GetEffectiveSeason(r.Context())

	summary, found, err := h.aggregator.Read(r.Context(), seasonID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to read health summary", err)
		return
	}
	if !found {
		// First aggregation cycle has not run yet.
		summary = &models.HealthSummary{Counts: map[string]int{}, Total: 0}
	}

	respondData(w, http.StatusOK, map[string]interface{}{
		"season":  seasonID,
		"entries": summary,
	})
}

// EnqueueEntry registers an entry for syncing. Idempotent for entries
// already queued or building; dead entries are rejected and need an
// explicit revive.
func (h *Handlers) EnqueueEntry(w http.ResponseWriter, r *http.Request) {
	id, err := entryID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ENTRY_ID", err.Error(), nil)
		return
	}
	seasonID := h.detector.GetEffectiveSeason(r.Context())

	state, err := h.engine.EnqueueEntry(r.Context(), seasonID, id)
	if err != nil {
		if errors.Is(err, syncer.ErrEntryDead) {
			respondError(w, http.StatusConflict, "ENTRY_DEAD", "entry is dead-lettered, revive it explicitly", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "ENQUEUE_FAILED", "failed to enqueue entry", err)
		return
	}

	respondData(w, http.StatusAccepted, map[string]interface{}{
		"entry_id": id,
		"season":   seasonID,
		"state":    state,
	})
}

// EntryState serves the sync state machine record for one entry.
func (h *Handlers) EntryState(w http.ResponseWriter, r *http.Request) {
	id, err := entryID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ENTRY_ID", err.Error(), nil)
		return
	}
	seasonID := h.detector.GetEffectiveSeason(r.Context())

	var state models.EntryState
	found, err := h.kv.GetJSON(r.Context(), store.EntryStateKey(seasonID, id), &state)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to read entry state", err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "ENTRY_NOT_FOUND", "entry has not been enqueued", nil)
		return
	}

	respondData(w, http.StatusOK, map[string]interface{}{
		"entry_id": id,
		"season":   seasonID,
		"state":    state,
	})
}

// Entry serves the mirrored season blob for one entry.
func (h *Handlers) Entry(w http.ResponseWriter, r *http.Request) {
	id, err := entryID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ENTRY_ID", err.Error(), nil)
		return
	}
	seasonID := h.detector.GetEffectiveSeason(r.Context())

	var blob models.EntrySeasonBlob
	found, err := h.kv.GetJSON(r.Context(), store.EntryBlobKey(seasonID, id), &blob)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to read entry data", err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "ENTRY_NOT_FOUND", "entry has no mirrored data yet", nil)
		return
	}

	respondData(w, http.StatusOK, &blob)
}

// ReviveEntry moves a dead or errored entry back to queued with a fresh
// attempt budget.
func (h *Handlers) ReviveEntry(w http.ResponseWriter, r *http.Request) {
	id, err := entryID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ENTRY_ID", err.Error(), nil)
		return
	}
	seasonID := h.detector.GetEffectiveSeason(r.Context())

	state, err := h.engine.ReviveEntry(r.Context(), seasonID, id)
	if err != nil {
		respondError(w, http.StatusConflict, "REVIVE_REJECTED", err.Error(), nil)
		return
	}

	respondData(w, http.StatusOK, map[string]interface{}{
		"entry_id": id,
		"season":   seasonID,
		"state":    state,
	})
}

// TriggerHarvest runs a harvest check on demand. An optional delay_sec
// query parameter defers the pass when a new gameweek is pending, so a
// caller can probe without committing to the work.
func (h *Handlers) TriggerHarvest(w http.ResponseWriter, r *http.Request) {
	var delay time.Duration
	if raw := r.URL.Query().Get("delay_sec"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			respondError(w, http.StatusBadRequest, "INVALID_DELAY", "delay_sec must be a non-negative integer", nil)
			return
		}
		delay = time.Duration(secs) * time.Second
	}

	report, err := h.orchestrator.HarvestIfNeeded(r.Context(), delay)
	if err != nil {
		respondError(w, http.StatusBadGateway, "HARVEST_FAILED", "harvest pass failed", err)
		return
	}

	respondData(w, http.StatusOK, &report)
}

// TriggerRetryScan runs a retry/dead-letter scan on demand.
func (h *Handlers) TriggerRetryScan(w http.ResponseWriter, r *http.Request) {
	seasonID := h.detector.GetEffectiveSeason(r.Context())

	report, err := h.engine.RetryErroredEntries(r.Context(), seasonID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "RETRY_SCAN_FAILED", "retry scan failed", err)
		return
	}

	respondData(w, http.StatusOK, &report)
}
