// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

// Package harvest drives the periodic mirror refresh: when a new fully
// finished gameweek appears it persists the bootstrap snapshot, merges the
// gameweek's live stats, and fans per-entry patch updates out under a
// bounded concurrency window and a soft wall-clock budget.
package harvest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/gwmirror/internal/config"
	"github.com/tomtom215/gwmirror/internal/logging"
	"github.com/tomtom215/gwmirror/internal/metrics"
	"github.com/tomtom215/gwmirror/internal/models"
	"github.com/tomtom215/gwmirror/internal/season"
	"github.com/tomtom215/gwmirror/internal/store"
)

// Report statuses.
const (
	StatusNoop      = "noop"
	StatusDelayed   = "delayed"
	StatusCompleted = "completed"
)

// Report is the structured outcome of a harvest invocation.
type Report struct {
	RunID      string        `json:"run_id"`
	Status     string        `json:"status"`
	Season     string        `json:"season"`
	GW         int           `json:"gw,omitempty"`
	Candidates int           `json:"candidates"`
	Updated    int           `json:"updated"`
	Failed     int           `json:"failed"`
	BudgetHit  bool          `json:"budget_hit"`
	Duration   time.Duration `json:"duration"`
}

// StatsAPI is the slice of the upstream client harvest consumes.
type StatsAPI interface {
	Bootstrap(ctx context.Context) (*models.Bootstrap, error)
	LiveStats(ctx context.Context, gw int) (*models.LiveStats, error)
	EntrySummary(ctx context.Context, entryID int) (*models.EntrySummary, error)
	EntryHistory(ctx context.Context, entryID int) ([]models.HistoryRow, error)
	EntryTransfers(ctx context.Context, entryID int) ([]models.Transfer, error)
	EntryPicks(ctx context.Context, entryID, gw int) (*models.PicksRecord, error)
}

// Orchestrator coordinates harvest passes.
type Orchestrator struct {
	api      StatsAPI
	kv       store.KV
	detector *season.Detector
	cfg      *config.HarvestConfig

	// now is injectable for tests. Defaults to time.Now.
	now func() time.Time
}

// NewOrchestrator creates a harvest orchestrator.
func NewOrchestrator(api StatsAPI, kv store.KV, detector *season.Detector, cfg *config.HarvestConfig) *Orchestrator {
	return &Orchestrator{api: api, kv: kv, detector: detector, cfg: cfg, now: time.Now}
}

// WithClock replaces the orchestrator's clock. Test hook.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// HarvestIfNeeded checks for a newly finished gameweek and, when one
// exists, refreshes the mirror for every entry with a completed blob.
//
// No-ops (zero writes) when no gameweek is fully finished or the persisted
// high-water mark already covers the latest one. A positive delay returns
// "delayed" without side effects; callers use it to defer harvesting right
// after a gameweek flips finished while bonus points may still settle.
//
// The pass fans out per-entry updates with a fixed concurrency window under
// a soft wall-clock budget: once the budget is reached no new updates are
// launched, in-flight ones finish. The high-water mark is written only when
// every candidate was covered, so a budget-clipped pass resumes on the next
// cycle. Per-entry updates are independently idempotent.
func (o *Orchestrator) HarvestIfNeeded(ctx context.Context, delay time.Duration) (Report, error) {
	report := Report{RunID: uuid.NewString(), Status: StatusNoop}
	start := o.now()
	defer func() {
		report.Duration = time.Since(start)
		metrics.HarvestDuration.Observe(report.Duration.Seconds())
	}()

	report.Season = o.detector.GetEffectiveSeason(ctx)

	bootstrap, err := o.api.Bootstrap(ctx)
	if err != nil {
		return report, fmt.Errorf("harvest: fetch bootstrap: %w", err)
	}

	prevID := season.DetectLatestFinishedGW(bootstrap)
	if prevID == 0 {
		return report, nil
	}
	report.GW = prevID

	var snapshot models.SnapshotCurrent
	found, err := o.kv.GetJSON(ctx, store.SnapshotCurrentKey(report.Season), &snapshot)
	if err != nil {
		return report, fmt.Errorf("harvest: read snapshot: %w", err)
	}
	if found && snapshot.LastGW >= prevID {
		return report, nil
	}

	if delay > 0 {
		report.Status = StatusDelayed
		return report, nil
	}

	logger := logging.With().Str("run_id", report.RunID).Str("season", report.Season).Int("gw", prevID).Logger()
	logger.Info().Msg("harvest pass starting")

	if err := o.kv.PutJSON(ctx, store.BootstrapKey(report.Season), bootstrap, 0); err != nil {
		return report, fmt.Errorf("harvest: persist bootstrap snapshot: %w", err)
	}

	if err := o.mergeLiveStats(ctx, report.Season, prevID); err != nil {
		return report, err
	}

	candidates, err := o.listCandidates(ctx, report.Season)
	if err != nil {
		return report, err
	}
	report.Candidates = len(candidates)

	deadline := start.Add(o.cfg.TimeBudget)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		launched  int
		updated   int
		failed    int
		budgetHit bool
	)
	sem := make(chan struct{}, o.cfg.Concurrency)

	for _, entryID := range candidates {
		// Budget check only at fan-out boundaries; an individual slow
		// fetch can overrun the soft deadline.
		if time.Now().After(deadline) {
			budgetHit = true
			break
		}
		sem <- struct{}{}
		launched++
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := o.updateEntry(ctx, report.Season, id, prevID); err != nil {
				logger.Warn().Err(err).Int("entry_id", id).Msg("harvest entry update failed")
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			metrics.HarvestEntriesUpdated.Inc()
			mu.Lock()
			updated++
			mu.Unlock()
		}(entryID)
	}
	wg.Wait()

	report.Updated = updated
	report.Failed = failed
	report.BudgetHit = budgetHit
	report.Status = StatusCompleted

	if budgetHit {
		metrics.HarvestBudgetExhausted.Inc()
		logger.Warn().
			Int("launched", launched).
			Int("candidates", len(candidates)).
			Msg("harvest budget exhausted, remaining entries resume next cycle")
		// High-water mark withheld so the next cycle continues the pass.
		return report, nil
	}

	snapshot = models.SnapshotCurrent{Season: report.Season, LastGW: prevID}
	if err := o.kv.PutJSON(ctx, store.SnapshotCurrentKey(report.Season), &snapshot, 0); err != nil {
		return report, fmt.Errorf("harvest: write high-water mark: %w", err)
	}

	logger.Info().
		Int("candidates", len(candidates)).
		Int("updated", updated).
		Int("failed", failed).
		Msg("harvest pass completed")
	return report, nil
}

// mergeLiveStats appends the gameweek's live stats into SeasonElements.
// Idempotent: a gameweek already present is never re-fetched or rewritten.
func (o *Orchestrator) mergeLiveStats(ctx context.Context, seasonID string, gw int) error {
	key := store.SeasonElementsKey(seasonID)

	var elements models.SeasonElements
	found, err := o.kv.GetJSON(ctx, key, &elements)
	if err != nil {
		return fmt.Errorf("harvest: read season elements: %w", err)
	}
	if !found {
		elements = models.SeasonElements{GWs: make(map[int]models.LiveStats)}
	}
	if elements.GWs == nil {
		elements.GWs = make(map[int]models.LiveStats)
	}
	if _, have := elements.GWs[gw]; have {
		return nil
	}

	live, err := o.api.LiveStats(ctx, gw)
	if err != nil {
		return fmt.Errorf("harvest: fetch live stats gw %d: %w", gw, err)
	}
	elements.GWs[gw] = *live
	if gw > elements.LastGWProcessed {
		elements.LastGWProcessed = gw
	}
	if err := o.kv.PutJSON(ctx, key, &elements, 0); err != nil {
		return fmt.Errorf("harvest: write season elements: %w", err)
	}
	return nil
}

// listCandidates enumerates every entry with a completed blob for the
// season via a cursor-paginated prefix scan.
func (o *Orchestrator) listCandidates(ctx context.Context, seasonID string) ([]int, error) {
	prefix := store.EntryBlobPrefix(seasonID)
	candidates := make([]int, 0)
	cursor := ""
	for {
		page, err := o.kv.List(ctx, prefix, cursor, o.cfg.ScanPageSize)
		if err != nil {
			return nil, fmt.Errorf("harvest: list candidates: %w", err)
		}
		for _, key := range page.Keys {
			id, err := store.EntryIDFromKey(key)
			if err != nil {
				logging.Warn().Err(err).Str("key", key).Msg("skipping malformed blob key")
				continue
			}
			candidates = append(candidates, id)
		}
		if page.Complete {
			return candidates, nil
		}
		cursor = page.Cursor
	}
}

// updateEntry applies the incremental patch for one entry: the new
// gameweek's summary and picks if absent, plus transfers and profile
// summary when past their staleness windows. Each sub-resource is gated
// independently; re-running the same update is a no-op.
func (o *Orchestrator) updateEntry(ctx context.Context, seasonID string, entryID, gw int) error {
	blobKey := store.EntryBlobKey(seasonID, entryID)

	var blob models.EntrySeasonBlob
	found, err := o.kv.GetJSON(ctx, blobKey, &blob)
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}
	if !found {
		// Blob deleted between enumeration and update; nothing to patch.
		return nil
	}
	if blob.GWSummaries == nil {
		blob.GWSummaries = make(map[int]models.GWSummary)
	}
	if blob.PicksByGW == nil {
		blob.PicksByGW = make(map[int]models.PicksRecord)
	}

	now := o.now()
	dirty := false

	if _, have := blob.GWSummaries[gw]; !have {
		history, err := o.api.EntryHistory(ctx, entryID)
		if err != nil {
			return fmt.Errorf("fetch history: %w", err)
		}
		for _, row := range history {
			if _, exists := blob.GWSummaries[row.Event]; !exists {
				blob.GWSummaries[row.Event] = models.SummaryFromHistoryRow(row)
				dirty = true
			}
		}
	}

	if _, have := blob.PicksByGW[gw]; !have {
		if _, played := blob.GWSummaries[gw]; played {
			picks, err := o.api.EntryPicks(ctx, entryID, gw)
			if err != nil {
				return fmt.Errorf("fetch picks: %w", err)
			}
			blob.PicksByGW[gw] = *picks
			dirty = true
		}
	}

	if now.Sub(blob.TransfersRefreshedAt) > o.cfg.TransfersStaleness {
		transfers, err := o.api.EntryTransfers(ctx, entryID)
		if err != nil {
			return fmt.Errorf("fetch transfers: %w", err)
		}
		blob.Transfers = transfers
		blob.TransfersRefreshedAt = now
		dirty = true
	}

	if now.Sub(blob.SummaryRefreshedAt) > o.cfg.SummaryStaleness {
		summary, err := o.api.EntrySummary(ctx, entryID)
		if err != nil {
			return fmt.Errorf("fetch summary: %w", err)
		}
		blob.ProfileSummary = *summary
		blob.SummaryRefreshedAt = now
		dirty = true
	}

	if !dirty {
		return nil
	}

	if _, played := blob.GWSummaries[gw]; played && gw > blob.LastGWProcessed {
		blob.LastGWProcessed = gw
	}
	blob.UpdatedAt = now
	blob.Version++
	if err := o.kv.PutJSON(ctx, blobKey, &blob, 0); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}
