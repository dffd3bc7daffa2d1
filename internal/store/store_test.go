// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kvUnderTest runs the shared conformance checks against any KV backend.
func kvUnderTest(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := kv.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		var out map[string]int
		found, err := kv.GetJSON(ctx, "missing", &out)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("put get roundtrip", func(t *testing.T) {
		type record struct {
			Name  string `json:"name"`
			Count int    `json:"count"`
		}
		require.NoError(t, kv.PutJSON(ctx, "rt", &record{Name: "a", Count: 3}, 0))

		var out record
		found, err := kv.GetJSON(ctx, "rt", &out)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, record{Name: "a", Count: 3}, out)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, kv.Put(ctx, "gone", []byte("x"), 0))
		require.NoError(t, kv.Delete(ctx, "gone"))
		require.NoError(t, kv.Delete(ctx, "gone"))
		_, err := kv.Get(ctx, "gone")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("paginated list", func(t *testing.T) {
		for i := 0; i < 7; i++ {
			key := fmt.Sprintf("scan:%02d", i)
			require.NoError(t, kv.Put(ctx, key, []byte("v"), 0))
		}
		// Key outside the prefix must not appear.
		require.NoError(t, kv.Put(ctx, "scax:99", []byte("v"), 0))

		page1, err := kv.List(ctx, "scan:", "", 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"scan:00", "scan:01", "scan:02"}, page1.Keys)
		assert.False(t, page1.Complete)
		require.NotEmpty(t, page1.Cursor)

		page2, err := kv.List(ctx, "scan:", page1.Cursor, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"scan:03", "scan:04", "scan:05"}, page2.Keys)
		assert.False(t, page2.Complete)

		page3, err := kv.List(ctx, "scan:", page2.Cursor, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"scan:06"}, page3.Keys)
		assert.True(t, page3.Complete)
	})

	t.Run("exact page boundary completes", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			require.NoError(t, kv.Put(ctx, fmt.Sprintf("exact:%d", i), []byte("v"), 0))
		}
		page, err := kv.List(ctx, "exact:", "", 4)
		require.NoError(t, err)
		assert.Len(t, page.Keys, 4)
		assert.True(t, page.Complete, "page filled exactly must still report complete")
	})
}

func TestMemoryKV(t *testing.T) {
	kvUnderTest(t, NewMemoryKV())
}

func TestBadgerKV(t *testing.T) {
	kv, err := OpenBadgerKV(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	kvUnderTest(t, kv)
}

func TestMemoryKVTTL(t *testing.T) {
	current := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	kv := NewMemoryKV()
	kv.Now = func() time.Time { return current }
	ctx := context.Background()

	require.NoError(t, kv.Put(ctx, "ttl", []byte("v"), time.Hour))

	_, err := kv.Get(ctx, "ttl")
	require.NoError(t, err)

	current = current.Add(time.Hour + time.Second)
	_, err = kv.Get(ctx, "ttl")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "entrystate:2025:91928", EntryStateKey("2025", 91928))
	assert.Equal(t, "entryblob:2025:91928", EntryBlobKey("2025", 91928))
	assert.Equal(t, "seasonelements:2025", SeasonElementsKey("2025"))
	assert.Equal(t, "snapshot:current:2025", SnapshotCurrentKey("2025"))
	assert.Equal(t, "bootstrap:2025", BootstrapKey("2025"))
	assert.Equal(t, "health:2025", HealthSummaryKey("2025"))
}

func TestEntryIDFromKey(t *testing.T) {
	id, err := EntryIDFromKey(EntryStateKey("2025", 4711))
	require.NoError(t, err)
	assert.Equal(t, 4711, id)

	_, err = EntryIDFromKey("entrystate:2025:")
	assert.Error(t, err)

	_, err = EntryIDFromKey("entrystate:2025:abc")
	assert.Error(t, err)

	_, err = EntryIDFromKey("noseparator")
	assert.Error(t, err)
}
