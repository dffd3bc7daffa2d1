// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// MemoryKV implements KV in process memory. Used by tests and available as
// a throwaway backend for local development.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string][]byte
	expiry map[string]time.Time

	// Now is injectable for TTL tests. Defaults to time.Now.
	Now func() time.Time
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		values: make(map[string][]byte),
		expiry: make(map[string]time.Time),
		Now:    time.Now,
	}
}

func (s *MemoryKV) expired(key string) bool {
	if exp, ok := s.expiry[key]; ok && !s.Now().Before(exp) {
		return true
	}
	return false
}

// Get returns the raw value, or ErrNotFound.
func (s *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	if !ok || s.expired(key) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// GetJSON unmarshals the value into out. Returns (false, nil) when missing.
func (s *MemoryKV) GetJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	value, err := s.Get(ctx, key)
	if err != nil {
		return false, nil
	}
	if err := json.Unmarshal(value, out); err != nil {
		return false, err
	}
	return true, nil
}

// Put stores the value. A ttl of zero means no expiry.
func (s *MemoryKV) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.values[key] = stored
	if ttl > 0 {
		s.expiry[key] = s.Now().Add(ttl)
	} else {
		delete(s.expiry, key)
	}
	return nil
}

// PutJSON marshals v and stores it.
func (s *MemoryKV) PutJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, data, ttl)
}

// Delete removes the key.
func (s *MemoryKV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	delete(s.expiry, key)
	return nil
}

// List scans keys under prefix starting after cursor, in lexical order.
func (s *MemoryKV) List(_ context.Context, prefix, cursor string, limit int) (ListPage, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]string, 0)
	for key := range s.values {
		if strings.HasPrefix(key, prefix) && !s.expired(key) && key > cursor {
			matched = append(matched, key)
		}
	}
	sort.Strings(matched)

	page := ListPage{}
	if len(matched) > limit {
		page.Keys = matched[:limit]
		page.Cursor = page.Keys[len(page.Keys)-1]
	} else {
		page.Keys = matched
		page.Complete = true
	}
	return page, nil
}
