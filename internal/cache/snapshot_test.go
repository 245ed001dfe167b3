package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Cache Snapshot Tests
// =============================================================================
// The exact layer persists as a JSON file written atomically. Loading
// is forgiving: a missing file is fine, expired entries are skipped,
// and recency order survives the round trip.
// =============================================================================

func TestSnapshot_RoundTripKeepsEntriesAndOrder(t *testing.T) {
	// Given: three answers with q1 freshly read
	path := filepath.Join(t.TempDir(), "cache.json")
	ctx := context.Background()
	c := newTestCache(&fakeEmbedder{}, DefaultConfig())
	c.Store(ctx, "q1", answer{Text: "1"}, false)
	c.Store(ctx, "q2", answer{Text: "2"}, false)
	c.Store(ctx, "q3", answer{Text: "3"}, false)
	_, ok := c.Lookup(ctx, "q1")
	require.True(t, ok)

	// When: saving and loading into a fresh cache
	require.NoError(t, c.SaveSnapshot(path))
	restored := newTestCache(&fakeEmbedder{}, DefaultConfig())
	n, err := restored.LoadSnapshot(path)

	// Then: all entries return in the same recency order
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, c.exact.Keys(), restored.exact.Keys())

	got, ok := restored.Lookup(ctx, "q2")
	require.True(t, ok)
	assert.Equal(t, answer{Text: "2"}, got)
}

func TestSnapshot_MissingFileIsNotAnError(t *testing.T) {
	c := newTestCache(&fakeEmbedder{}, DefaultConfig())

	n, err := c.LoadSnapshot(filepath.Join(t.TempDir(), "absent.json"))

	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSnapshot_SkipsExpiredEntriesOnLoad(t *testing.T) {
	// Given: a snapshot holding one fresh and one stale entry
	path := filepath.Join(t.TempDir(), "cache.json")
	snap := snapshotFile[answer]{
		Version:   snapshotVersion,
		Namespace: "t1/audit",
		SavedAt:   time.Now(),
		Entries: []snapshotEntry[answer]{
			{Key: hashQuestion("fresh"), Record: answer{Text: "f"}, InsertedAt: time.Now().Add(-time.Hour)},
			{Key: hashQuestion("stale"), Record: answer{Text: "s"}, InsertedAt: time.Now().Add(-8 * 24 * time.Hour)},
		},
	}
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	// When: loading
	c := newTestCache(&fakeEmbedder{}, DefaultConfig())
	n, err := c.LoadSnapshot(path)

	// Then: only the fresh entry is restored
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := c.Lookup(context.Background(), "fresh")
	assert.True(t, ok)
	_, ok = c.Lookup(context.Background(), "stale")
	assert.False(t, ok)
}

func TestSnapshot_SaveSkipsExpiredEntries(t *testing.T) {
	// Given: one live entry and one already past its lifetime
	path := filepath.Join(t.TempDir(), "cache.json")
	c := newTestCache(&fakeEmbedder{}, DefaultConfig())
	c.exact.Add(hashQuestion("stale"), exactEntry[answer]{
		Record:     answer{Text: "s"},
		InsertedAt: time.Now().Add(-8 * 24 * time.Hour),
	})
	c.Store(context.Background(), "fresh", answer{Text: "f"}, false)

	// When: saving
	require.NoError(t, c.SaveSnapshot(path))

	// Then: the file holds only the live entry
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap snapshotFile[answer]
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, snapshotVersion, snap.Version)
	assert.Equal(t, "t1/audit", snap.Namespace)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, hashQuestion("fresh"), snap.Entries[0].Key)
}

func TestSnapshot_CorruptFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	c := newTestCache(&fakeEmbedder{}, DefaultConfig())
	_, err := c.LoadSnapshot(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestSnapshot_VersionMismatchErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	snap := snapshotFile[answer]{Version: 99}
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	c := newTestCache(&fakeEmbedder{}, DefaultConfig())
	_, err = c.LoadSnapshot(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestSnapshot_LeavesNoTempFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	c := newTestCache(&fakeEmbedder{}, DefaultConfig())
	c.Store(context.Background(), "q", answer{Text: "a"}, false)

	require.NoError(t, c.SaveSnapshot(path))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
