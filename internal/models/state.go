// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

package models

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an entry's sync state machine.
type Status string

// Entry sync statuses.
const (
	StatusQueued   Status = "queued"
	StatusBuilding Status = "building"
	StatusComplete Status = "complete"
	StatusErrored  Status = "errored"
	StatusDead     Status = "dead"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusBuilding, StatusComplete, StatusErrored, StatusDead:
		return true
	}
	return false
}

// legalTransitions enumerates the allowed state machine edges:
//
//	queued   -> building            (engine claims the entry)
//	building -> complete | errored  (engine finishes)
//	building -> queued              (stale lock recovery)
//	errored  -> queued              (retry scan or admin revive)
//	errored  -> dead                (attempts exhausted)
//	dead     -> queued              (explicit admin revive only)
//	complete -> queued              (re-ingestion)
var legalTransitions = map[Status][]Status{
	StatusQueued:   {StatusBuilding},
	StatusBuilding: {StatusComplete, StatusErrored, StatusQueued},
	StatusErrored:  {StatusQueued, StatusDead},
	StatusDead:     {StatusQueued},
	StatusComplete: {StatusQueued},
}

// CanTransition reports whether from -> to is a legal state machine edge.
func CanTransition(from, to Status) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// EntryState is the per-entry sync state machine record. It is owned
// exclusively by the entry sync engine and the retry manager.
type EntryState struct {
	Status          Status     `json:"status"`
	LastGWProcessed int        `json:"last_gw_processed"`
	Attempts        int        `json:"attempts"`
	UpdatedAt       time.Time  `json:"updated_at"`
	WorkerStartedAt *time.Time `json:"worker_started_at,omitempty"`
	Error           string     `json:"error,omitempty"`
	Version         int        `json:"version"`
}

// Transition moves the state machine to the target status, rejecting
// illegal edges. The caller remains responsible for the accompanying field
// updates (attempts, timestamps, error) and the write-back.
func (s *EntryState) Transition(to Status, now time.Time) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("illegal entry state transition %s -> %s", s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = now
	s.Version++
	return nil
}

// NewQueuedState returns a fresh queued state created by ingestion.
func NewQueuedState(now time.Time) *EntryState {
	return &EntryState{
		Status:    StatusQueued,
		UpdatedAt: now,
		Version:   1,
	}
}

// GWSummary is the mirrored per-gameweek summary derived from history rows.
type GWSummary struct {
	Event       int    `json:"event"`
	Points      int    `json:"points"`
	TotalPoints int    `json:"total_points"`
	Rank        int    `json:"rank"`
	OverallRank int    `json:"overall_rank"`
	Value       int    `json:"value"`
	Bank        int    `json:"bank"`
	Chip        string `json:"chip,omitempty"`
}

// SummaryFromHistoryRow coerces an upstream history row into a GWSummary.
func SummaryFromHistoryRow(row HistoryRow) GWSummary {
	return GWSummary{
		Event:       row.Event,
		Points:      row.Points,
		TotalPoints: row.TotalPoints,
		Rank:        row.Rank,
		OverallRank: row.OverallRank,
		Value:       row.Value,
		Bank:        row.Bank,
		Chip:        row.Chip,
	}
}

// EntrySeasonBlob is the mirrored season record for one entry. The sync
// engine writes it whole; harvest patches it incrementally.
//
// Invariants: LastGWProcessed is monotonically non-decreasing, and
// PicksByGW keys are a subset of GWSummaries keys (picks are never stored
// for a gameweek the entry did not play).
type EntrySeasonBlob struct {
	EntryID              int                 `json:"entry_id"`
	Season               string              `json:"season"`
	LastGWProcessed      int                 `json:"last_gw_processed"`
	GWSummaries          map[int]GWSummary   `json:"gw_summaries"`
	PicksByGW            map[int]PicksRecord `json:"picks_by_gw"`
	Transfers            []Transfer          `json:"transfers"`
	ProfileSummary       EntrySummary        `json:"profile_summary"`
	TransfersRefreshedAt time.Time           `json:"transfers_refreshed_at"`
	SummaryRefreshedAt   time.Time           `json:"summary_refreshed_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
	Version              int                 `json:"version"`
}

// SeasonElements holds per-finished-gameweek live stats, appended once per
// gameweek and never rewritten.
type SeasonElements struct {
	LastGWProcessed int               `json:"last_gw_processed"`
	GWs             map[int]LiveStats `json:"gws"`
}

// SnapshotCurrent is the harvest high-water mark. Repeat harvest calls
// before the next gameweek finishes compare against LastGW and no-op.
type SnapshotCurrent struct {
	Season string `json:"season"`
	LastGW int    `json:"last_gw"`
}

// DetectedSeason is the cached season detection result.
type DetectedSeason struct {
	Season     string    `json:"season"`
	DetectedAt time.Time `json:"detected_at"`
	Source     string    `json:"source"`
}

// HealthSummary is the precomputed per-status entry count snapshot read by
// the diagnostics endpoint.
type HealthSummary struct {
	Counts    map[string]int `json:"counts"`
	Total     int            `json:"total"`
	UpdatedAt time.Time      `json:"updated_at"`
}
