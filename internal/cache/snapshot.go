package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// snapshotVersion guards the on-disk layout of exact-layer snapshots.
const snapshotVersion = 1

type snapshotEntry[V any] struct {
	Key        string    `json:"key"`
	Record     V         `json:"record"`
	InsertedAt time.Time `json:"inserted_at"`
}

type snapshotFile[V any] struct {
	Version   int                `json:"version"`
	Namespace string             `json:"namespace"`
	SavedAt   time.Time          `json:"saved_at"`
	Entries   []snapshotEntry[V] `json:"entries"`
}

// SaveSnapshot writes the live exact-layer entries to path, oldest
// first so a later load reproduces the recency order. Uses atomic
// write (temp file + rename). The semantic layer is not persisted;
// its embeddings are cheap to regenerate and expire sooner.
func (c *Smart[V]) SaveSnapshot(path string) error {
	snap := snapshotFile[V]{
		Version:   snapshotVersion,
		Namespace: c.namespace,
		SavedAt:   time.Now(),
	}
	for _, key := range c.exact.Keys() {
		ent, ok := c.exact.Peek(key)
		if !ok {
			continue
		}
		if time.Since(ent.InsertedAt) > c.cfg.ExactTTL {
			continue
		}
		snap.Entries = append(snap.Entries, snapshotEntry[V]{
			Key:        key,
			Record:     ent.Record,
			InsertedAt: ent.InsertedAt,
		})
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save cache snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot restores exact-layer entries from path. A missing file
// is not an error; this runs on first use of a namespace and the
// snapshot usually does not exist yet. Entries past their lifetime
// are skipped. Returns the number of entries restored.
func (c *Smart[V]) LoadSnapshot(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cache snapshot: %w", err)
	}

	var snap snapshotFile[V]
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("failed to parse cache snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return 0, fmt.Errorf("unsupported cache snapshot version %d", snap.Version)
	}

	restored := 0
	for _, ent := range snap.Entries {
		if ent.Key == "" {
			continue
		}
		if time.Since(ent.InsertedAt) > c.cfg.ExactTTL {
			continue
		}
		c.exact.Add(ent.Key, exactEntry[V]{Record: ent.Record, InsertedAt: ent.InsertedAt})
		restored++
	}
	return restored, nil
}
