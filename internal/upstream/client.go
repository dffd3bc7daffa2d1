// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

// Package upstream provides the resilient fetch client for the remote stats
// API: bounded retries with exponential backoff, Retry-After handling for
// rate-limited responses, a politeness rate limiter, and a circuit breaker
// that fails fast while the upstream is unhealthy.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/gwmirror/internal/config"
	"github.com/tomtom215/gwmirror/internal/logging"
	"github.com/tomtom215/gwmirror/internal/metrics"
	"github.com/tomtom215/gwmirror/internal/models"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics, preventing unbounded allocation on large error pages.
const maxErrorBodySize = 64 * 1024

// maxRateLimitDelay caps the backoff applied to 429/503 responses when the
// upstream does not send a usable Retry-After header.
const maxRateLimitDelay = 10 * time.Second

// Client is the resilient fetch client. All methods are safe for
// concurrent use; the breaker and limiter are shared across callers.
type Client struct {
	baseURL        string
	http           *http.Client
	breaker        *CircuitBreaker
	limiter        *rate.Limiter
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewClient creates a fetch client from configuration. The breaker is
// injected by the composition root so it can be replaced in tests.
func NewClient(cfg *config.UpstreamConfig, breaker *CircuitBreaker) *Client {
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		http:           &http.Client{Timeout: cfg.Timeout},
		breaker:        breaker,
		limiter:        rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
	}
}

// Breaker exposes the client's circuit breaker for diagnostics.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// getJSON performs one logical GET with retries, breaker accounting, and
// JSON decoding into out.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, out interface{}) error {
	if c.breaker.IsOpen() {
		metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "rejected").Inc()
		return &CircuitOpenError{Until: c.breaker.OpenUntil()}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	reqURL := c.baseURL + path
	start := time.Now()
	defer func() {
		metrics.UpstreamRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return fmt.Errorf("create request for %s: %w", endpoint, err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.breaker.RecordFailure()
			lastErr = &TransientError{Err: err}
			if waitErr := c.sleep(ctx, c.backoff(attempt)); waitErr != nil {
				return waitErr
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			// Entity absence, not upstream unhealth: no breaker failure.
			_ = resp.Body.Close()
			metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "not_found").Inc()
			return &NotFoundError{URL: reqURL}

		case resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == http.StatusServiceUnavailable:
			c.breaker.RecordFailure()
			delay := c.rateLimitDelay(resp, attempt)
			_ = resp.Body.Close()
			lastErr = &TransientError{
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%s rate limited or unavailable", endpoint),
			}
			logging.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Dur("delay", delay).
				Int("attempt", attempt+1).
				Msg("upstream throttled, backing off")
			if waitErr := c.sleep(ctx, delay); waitErr != nil {
				return waitErr
			}
			continue

		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			c.breaker.RecordFailure()
			body := readBodyForError(resp.Body)
			_ = resp.Body.Close()
			lastErr = &TransientError{
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%s returned %d: %s", endpoint, resp.StatusCode, body),
			}
			if waitErr := c.sleep(ctx, c.backoff(attempt)); waitErr != nil {
				return waitErr
			}
			continue
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		_ = resp.Body.Close()
		if err != nil {
			c.breaker.RecordFailure()
			metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "transient").Inc()
			return &TransientError{
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("decode %s response: %w", endpoint, err),
			}
		}

		c.breaker.RecordSuccess()
		metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "success").Inc()
		return nil
	}

	metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "transient").Inc()
	return lastErr
}

// backoff returns the exponential backoff delay for an attempt index.
func (c *Client) backoff(attempt int) time.Duration {
	return c.retryBaseDelay * time.Duration(1<<uint(attempt))
}

// rateLimitDelay honors Retry-After when present, else applies the capped
// exponential backoff.
func (c *Client) rateLimitDelay(resp *http.Response, attempt int) time.Duration {
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	delay := c.backoff(attempt)
	if delay > maxRateLimitDelay {
		delay = maxRateLimitDelay
	}
	return delay
}

// sleep waits for the delay or until the context is canceled.
func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("... (truncated)")...)
	}
	return body
}

// Bootstrap retrieves the global bootstrap payload (gameweek descriptors).
func (c *Client) Bootstrap(ctx context.Context) (*models.Bootstrap, error) {
	var out models.Bootstrap
	if err := c.getJSON(ctx, "bootstrap", "/bootstrap-static/", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EntrySummary retrieves the profile summary for an entry.
func (c *Client) EntrySummary(ctx context.Context, entryID int) (*models.EntrySummary, error) {
	var out models.EntrySummary
	path := fmt.Sprintf("/entry/%d/", entryID)
	if err := c.getJSON(ctx, "entry_summary", path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EntryHistory retrieves the per-gameweek history rows for an entry.
func (c *Client) EntryHistory(ctx context.Context, entryID int) ([]models.HistoryRow, error) {
	var out models.EntryHistory
	path := fmt.Sprintf("/entry/%d/history/", entryID)
	if err := c.getJSON(ctx, "entry_history", path, &out); err != nil {
		return nil, err
	}
	return out.Current, nil
}

// EntryTransfers retrieves the full transfers list for an entry.
func (c *Client) EntryTransfers(ctx context.Context, entryID int) ([]models.Transfer, error) {
	var out []models.Transfer
	path := fmt.Sprintf("/entry/%d/transfers/", entryID)
	if err := c.getJSON(ctx, "entry_transfers", path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EntryPicks retrieves the picks for an entry in one gameweek.
func (c *Client) EntryPicks(ctx context.Context, entryID, gw int) (*models.PicksRecord, error) {
	var out models.PicksRecord
	path := fmt.Sprintf("/entry/%d/event/%d/picks/", entryID, gw)
	if err := c.getJSON(ctx, "entry_picks", path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LiveStats retrieves the live per-element stats for one gameweek.
func (c *Client) LiveStats(ctx context.Context, gw int) (*models.LiveStats, error) {
	var out models.LiveStats
	path := fmt.Sprintf("/event/%d/live/", gw)
	if err := c.getJSON(ctx, "live_stats", path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StandingsPage retrieves one page of classic league standings.
func (c *Client) StandingsPage(ctx context.Context, leagueID, page int) (*models.StandingsPage, error) {
	var out models.StandingsPage
	path := fmt.Sprintf("/leagues-classic/%d/standings/?page_standings=%d", leagueID, page)
	if err := c.getJSON(ctx, "standings", path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
