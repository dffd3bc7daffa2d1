// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/gwmirror/internal/logging"
)

// BadgerKV implements KV on BadgerDB for durable storage across restarts.
type BadgerKV struct {
	db *badger.DB
}

// NewBadgerKV wraps an already-opened BadgerDB handle.
func NewBadgerKV(db *badger.DB) *BadgerKV {
	return &BadgerKV{db: db}
}

// OpenBadgerKV opens a BadgerDB at path and wraps it. The caller owns Close.
func OpenBadgerKV(path string) (*BadgerKV, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // routed through zerolog below instead of badger's own logger
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	logging.Info().Str("path", path).Msg("badger store opened")
	return &BadgerKV{db: db}, nil
}

// Close closes the underlying database.
func (s *BadgerKV) Close() error {
	return s.db.Close()
}

// Get returns the raw value, or ErrNotFound.
func (s *BadgerKV) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// GetJSON unmarshals the value into out. Returns (false, nil) when missing.
func (s *BadgerKV) GetJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	value, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(value, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Put stores the value. A ttl of zero means no expiry.
func (s *BadgerKV) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		if err := txn.SetEntry(entry); err != nil {
			return fmt.Errorf("put %s: %w", key, err)
		}
		return nil
	})
}

// PutJSON marshals v and stores it.
func (s *BadgerKV) PutJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Put(ctx, key, data, ttl)
}

// Delete removes the key. Deleting a missing key is not an error.
func (s *BadgerKV) Delete(_ context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	})
}

// List scans keys under prefix starting after cursor, returning at most
// limit keys. The cursor is the last key of the previous page (exclusive).
func (s *BadgerKV) List(_ context.Context, prefix, cursor string, limit int) (ListPage, error) {
	if limit <= 0 {
		limit = 100
	}

	page := ListPage{Keys: make([]string, 0, limit)}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefixBytes := []byte(prefix)
		seek := prefixBytes
		if cursor != "" {
			// Resume strictly after the cursor key.
			seek = append([]byte(cursor), 0x00)
		}

		for it.Seek(seek); it.ValidForPrefix(prefixBytes); it.Next() {
			if len(page.Keys) == limit {
				// One more key exists beyond the page, so the scan is
				// not complete.
				page.Cursor = page.Keys[len(page.Keys)-1]
				return nil
			}
			page.Keys = append(page.Keys, string(it.Item().KeyCopy(nil)))
		}
		page.Complete = true
		return nil
	})
	if err != nil {
		return ListPage{}, fmt.Errorf("list %s: %w", prefix, err)
	}
	return page, nil
}
