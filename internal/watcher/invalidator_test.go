package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DocQA-Labs/docrag/internal/namespace"
)

func TestInvalidator_HandleBatch_OncePerNamespace(t *testing.T) {
	// Given: an invalidator recording calls
	w, err := NewHybridWatcher(DefaultOptions())
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	var mu sync.Mutex
	var calls []namespace.ID
	inv := NewInvalidator(w, func(id namespace.ID) {
		mu.Lock()
		calls = append(calls, id)
		mu.Unlock()
	}, nil)

	// When: a batch touches one namespace three times and another once
	inv.handleBatch([]FileEvent{
		{Path: "acme/contracts/a.txt", Operation: OpModify},
		{Path: "acme/contracts/b.txt", Operation: OpCreate},
		{Path: "acme/contracts/c.md", Operation: OpDelete},
		{Path: "globex/support/faq.md", Operation: OpModify},
	})

	// Then: each namespace is invalidated exactly once
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 2)
	assert.Equal(t, "acme/contracts", calls[0].String())
	assert.Equal(t, "globex/support", calls[1].String())
}

func TestInvalidator_HandleBatch_SkipsNonDocumentChurn(t *testing.T) {
	w, err := NewHybridWatcher(DefaultOptions())
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	var calls int
	inv := NewInvalidator(w, func(namespace.ID) { calls++ }, nil)

	inv.handleBatch([]FileEvent{
		{Path: "acme", Operation: OpCreate, IsDir: true},
		{Path: "acme/contracts/archive.zip", Operation: OpCreate},
		{Path: "acme/contracts/sub/deep.txt", Operation: OpModify},
	})

	assert.Zero(t, calls)
}

func TestInvalidator_EndToEnd_DocumentChangeInvalidates(t *testing.T) {
	// Given: a running invalidator over a documents root
	tempDir := t.TempDir()
	nsDir := filepath.Join(tempDir, "acme", "contracts")
	require.NoError(t, os.MkdirAll(nsDir, 0o755))

	w, err := NewHybridWatcher(Options{
		DebounceWindow:  20 * time.Millisecond,
		EventBufferSize: 100,
	})
	require.NoError(t, err)

	invalidated := make(chan namespace.ID, 10)
	inv := NewInvalidator(w, func(id namespace.ID) {
		invalidated <- id
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = inv.Run(ctx, tempDir)
	}()
	time.Sleep(100 * time.Millisecond)

	// When: a document changes
	require.NoError(t, os.WriteFile(filepath.Join(nsDir, "policy.txt"), []byte("updated terms"), 0o644))

	// Then: the namespace is invalidated
	select {
	case id := <-invalidated:
		assert.Equal(t, "acme/contracts", id.String())
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for invalidation")
	}

	require.NoError(t, inv.Stop())
}
