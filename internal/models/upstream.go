// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

// Package models defines the typed payloads exchanged with the upstream
// stats API and the mirror records persisted in the key-value store.
//
// Upstream JSON is dynamically shaped; every payload is coerced into one of
// these structs at the client boundary so raw maps never cross into the
// engine.
package models

import "time"

// Bootstrap is the global bootstrap payload. Only the events list is
// consumed; the upstream carries many more fields which are ignored.
type Bootstrap struct {
	Events []Event `json:"events"`
}

// Event is a single gameweek descriptor from the bootstrap payload.
type Event struct {
	ID           int       `json:"id"`
	DeadlineTime time.Time `json:"deadline_time"`
	Finished     bool      `json:"finished"`

	// DataChecked flips after bonus-point corrections settle. A gameweek
	// with Finished && !DataChecked still carries provisional stats.
	DataChecked bool `json:"data_checked"`
	IsCurrent   bool `json:"is_current"`
}

// EntrySummary is the profile summary for a single entry.
type EntrySummary struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	PlayerFirst  string `json:"player_first_name"`
	PlayerLast   string `json:"player_last_name"`
	Region       string `json:"player_region_name"`
	TotalPoints  int    `json:"summary_overall_points"`
	OverallRank  int    `json:"summary_overall_rank"`
	StartedEvent int    `json:"started_event"`
}

// HistoryRow is one per-gameweek row from the entry history endpoint.
type HistoryRow struct {
	Event       int    `json:"event"`
	Points      int    `json:"points"`
	TotalPoints int    `json:"total_points"`
	Rank        int    `json:"rank"`
	OverallRank int    `json:"overall_rank"`
	Value       int    `json:"value"`
	Bank        int    `json:"bank"`
	Chip        string `json:"chip,omitempty"`
}

// EntryHistory wraps the history endpoint payload.
type EntryHistory struct {
	Current []HistoryRow `json:"current"`
}

// Transfer is one row from the entry transfers endpoint.
type Transfer struct {
	ElementIn  int       `json:"element_in"`
	ElementOut int       `json:"element_out"`
	InCost     int       `json:"element_in_cost"`
	OutCost    int       `json:"element_out_cost"`
	Event      int       `json:"event"`
	Time       time.Time `json:"time"`
}

// Pick is a single squad slot within a gameweek picks record.
type Pick struct {
	Element    int  `json:"element"`
	Position   int  `json:"position"`
	Multiplier int  `json:"multiplier"`
	IsCaptain  bool `json:"is_captain"`
	IsVice     bool `json:"is_vice_captain"`
}

// PicksRecord is the picks payload for one entry and gameweek.
type PicksRecord struct {
	ActiveChip string `json:"active_chip,omitempty"`
	Picks      []Pick `json:"picks"`
}

// ElementStats is the per-element stat block within live gameweek stats.
type ElementStats struct {
	Minutes     int `json:"minutes"`
	GoalsScored int `json:"goals_scored"`
	Assists     int `json:"assists"`
	Bonus       int `json:"bonus"`
	TotalPoints int `json:"total_points"`
}

// LiveElement pairs an element ID with its live stats.
type LiveElement struct {
	ID    int          `json:"id"`
	Stats ElementStats `json:"stats"`
}

// LiveStats is the live per-gameweek stats payload.
type LiveStats struct {
	Elements []LiveElement `json:"elements"`
}

// StandingsRow is one entry row in a league standings page.
type StandingsRow struct {
	Entry     int    `json:"entry"`
	EntryName string `json:"entry_name"`
	Rank      int    `json:"rank"`
	Total     int    `json:"total"`
}

// StandingsPage is one page of league standings.
type StandingsPage struct {
	Standings struct {
		HasNext bool           `json:"has_next"`
		Page    int            `json:"page"`
		Results []StandingsRow `json:"results"`
	} `json:"standings"`
}
