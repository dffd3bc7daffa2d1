// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

// Package store provides the key-value store abstraction the mirror is
// built on, with a BadgerDB implementation for production and an in-memory
// implementation for tests.
//
// Consistency may be eventual; callers tolerate staleness through
// idempotent re-checks and staleness windows rather than transactions.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// ListPage is one page of a prefix scan.
type ListPage struct {
	Keys []string

	// Cursor resumes the scan after the last returned key. Empty when
	// Complete is true.
	Cursor string

	// Complete is true when the scan reached the end of the prefix.
	Complete bool
}

// KV is the key-value store surface the mirror consumes. Implementations
// must be safe for concurrent use.
type KV interface {
	// Get returns the raw value, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetJSON unmarshals the value into out. Returns (false, nil) when the
	// key does not exist.
	GetJSON(ctx context.Context, key string, out interface{}) (bool, error)

	// Put stores the value. A ttl of zero means no expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// PutJSON marshals v and stores it. A ttl of zero means no expiry.
	PutJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List scans keys under prefix starting after cursor, returning at
	// most limit keys.
	List(ctx context.Context, prefix, cursor string, limit int) (ListPage, error)
}

// Key layout. Entry-scoped keys embed the season so a season rollover
// starts from a clean namespace.
const (
	entryStatePrefix     = "entrystate:"
	entryBlobPrefix      = "entryblob:"
	seasonElementsPrefix = "seasonelements:"
	snapshotPrefix       = "snapshot:current:"
	bootstrapPrefix      = "bootstrap:"
	healthPrefix         = "health:"

	// DetectedSeasonKey caches the season detection result (1h TTL).
	DetectedSeasonKey = "season:detected"
)

// EntryStateKey returns the EntryState key for an entry in a season.
func EntryStateKey(season string, entryID int) string {
	return entryStatePrefix + season + ":" + strconv.Itoa(entryID)
}

// EntryStatePrefix returns the scan prefix for all entry states in a season.
func EntryStatePrefix(season string) string {
	return entryStatePrefix + season + ":"
}

// EntryBlobKey returns the EntrySeasonBlob key for an entry in a season.
func EntryBlobKey(season string, entryID int) string {
	return entryBlobPrefix + season + ":" + strconv.Itoa(entryID)
}

// EntryBlobPrefix returns the scan prefix for all entry blobs in a season.
func EntryBlobPrefix(season string) string {
	return entryBlobPrefix + season + ":"
}

// SeasonElementsKey returns the SeasonElements key for a season.
func SeasonElementsKey(season string) string {
	return seasonElementsPrefix + season
}

// SnapshotCurrentKey returns the harvest high-water mark key for a season.
func SnapshotCurrentKey(season string) string {
	return snapshotPrefix + season
}

// BootstrapKey returns the persisted bootstrap snapshot key for a season.
func BootstrapKey(season string) string {
	return bootstrapPrefix + season
}

// HealthSummaryKey returns the precomputed health summary key for a season.
func HealthSummaryKey(season string) string {
	return healthPrefix + season
}

// EntryIDFromKey extracts the trailing entry ID from an entry-scoped key.
func EntryIDFromKey(key string) (int, error) {
	idx := strings.LastIndexByte(key, ':')
	if idx < 0 || idx == len(key)-1 {
		return 0, fmt.Errorf("store: malformed entry key %q", key)
	}
	id, err := strconv.Atoi(key[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("store: malformed entry key %q: %w", key, err)
	}
	return id, nil
}
