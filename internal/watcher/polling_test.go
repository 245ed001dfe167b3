package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startPolling runs a polling watcher over a namespace-shaped temp
// tree and returns the root plus the scenario directory.
func startPolling(t *testing.T, w *PollingWatcher) (root, scenarioDir string) {
	t.Helper()
	root = t.TempDir()
	scenarioDir = filepath.Join(root, "acme", "support")
	require.NoError(t, os.MkdirAll(scenarioDir, 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = w.Start(ctx, root)
	}()

	// Wait for the baseline scan
	time.Sleep(100 * time.Millisecond)
	return root, scenarioDir
}

func TestPollingWatcher_DetectsDocumentCreation(t *testing.T) {
	// Given: a polling watcher over a namespace tree
	w := NewPollingWatcher(50 * time.Millisecond)
	_, scenarioDir := startPolling(t, w)

	// When: a new document is created
	require.NoError(t, os.WriteFile(filepath.Join(scenarioDir, "policy.md"), []byte("# refunds"), 0o644))

	// Then: a CREATE event is detected
	select {
	case event := <-w.Events():
		assert.Equal(t, OpCreate, event.Operation)
		assert.Contains(t, event.Path, "policy.md")
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for create event")
	}

	require.NoError(t, w.Stop())
}

func TestPollingWatcher_DetectsDocumentModification(t *testing.T) {
	// Given: a watched tree with an existing document
	w := NewPollingWatcher(50 * time.Millisecond)
	root := t.TempDir()
	scenarioDir := filepath.Join(root, "acme", "support")
	require.NoError(t, os.MkdirAll(scenarioDir, 0o755))
	doc := filepath.Join(scenarioDir, "faq.txt")
	require.NoError(t, os.WriteFile(doc, []byte("q1"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = w.Start(ctx, root)
	}()
	time.Sleep(100 * time.Millisecond)

	// When: the document is modified
	time.Sleep(50 * time.Millisecond) // Ensure different mtime
	require.NoError(t, os.WriteFile(doc, []byte("q1\n\nq2"), 0o644))

	// Then: a MODIFY event is detected
	select {
	case event := <-w.Events():
		assert.Equal(t, OpModify, event.Operation)
		assert.Contains(t, event.Path, "faq.txt")
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for modify event")
	}

	require.NoError(t, w.Stop())
}

func TestPollingWatcher_DetectsDocumentDeletion(t *testing.T) {
	// Given: a watched tree with an existing document
	w := NewPollingWatcher(50 * time.Millisecond)
	root := t.TempDir()
	scenarioDir := filepath.Join(root, "acme", "support")
	require.NoError(t, os.MkdirAll(scenarioDir, 0o755))
	doc := filepath.Join(scenarioDir, "obsolete.md")
	require.NoError(t, os.WriteFile(doc, []byte("old"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = w.Start(ctx, root)
	}()
	time.Sleep(100 * time.Millisecond)

	// When: the document is deleted
	require.NoError(t, os.Remove(doc))

	// Then: a DELETE event is detected
	select {
	case event := <-w.Events():
		assert.Equal(t, OpDelete, event.Operation)
		assert.Contains(t, event.Path, "obsolete.md")
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for delete event")
	}

	require.NoError(t, w.Stop())
}

func TestPollingWatcher_DetectsNewScenarioDirectory(t *testing.T) {
	// Given: a polling watcher over a namespace tree
	w := NewPollingWatcher(50 * time.Millisecond)
	root, _ := startPolling(t, w)

	// When: a new scenario directory with a document appears
	newDir := filepath.Join(root, "acme", "billing")
	require.NoError(t, os.MkdirAll(newDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(newDir, "rates.md"), []byte("# rates"), 0o644))

	// Then: CREATE events for both are detected
	events := collectEvents(w.Events(), 2, 500*time.Millisecond)
	require.GreaterOrEqual(t, len(events), 1, "expected at least one event")

	hasFileEvent := false
	for _, e := range events {
		if e.Operation == OpCreate && !e.IsDir {
			hasFileEvent = true
		}
	}
	assert.True(t, hasFileEvent, "expected document create event")

	require.NoError(t, w.Stop())
}

func TestPollingWatcher_IgnoresHiddenAndDeepPaths(t *testing.T) {
	// Given: a polling watcher over a namespace tree
	w := NewPollingWatcher(50 * time.Millisecond)
	_, scenarioDir := startPolling(t, w)

	// When: a hidden file and a file below the scenario level appear
	require.NoError(t, os.WriteFile(filepath.Join(scenarioDir, ".draft.md"), []byte("x"), 0o644))
	deep := filepath.Join(scenarioDir, "nested")
	require.NoError(t, os.MkdirAll(deep, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(deep, "deep.md"), []byte("x"), 0o644))

	// Then: only the nested directory itself can surface, never the
	// hidden file or the file below the scenario level
	events := collectEvents(w.Events(), 3, 400*time.Millisecond)
	for _, e := range events {
		assert.NotContains(t, e.Path, ".draft.md")
		assert.NotContains(t, e.Path, "deep.md")
	}

	require.NoError(t, w.Stop())
}

func TestPollingWatcher_Stop_HaltsPolling(t *testing.T) {
	// Given: a polling watcher
	w := NewPollingWatcher(50 * time.Millisecond)
	startPolling(t, w)

	// When: stopped
	require.NoError(t, w.Stop())

	// Then: channels are closed
	select {
	case _, ok := <-w.Events():
		assert.False(t, ok, "events channel should be closed")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestPollingWatcher_ContextCancellation(t *testing.T) {
	// Given: a polling watcher
	tempDir := t.TempDir()
	w := NewPollingWatcher(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		_ = w.Start(ctx, tempDir)
		close(done)
	}()

	<-started
	time.Sleep(100 * time.Millisecond)

	// When: context is cancelled
	cancel()

	// Then: Start returns
	select {
	case <-done:
		// Success
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for Start to return after context cancel")
	}
}

// collectEvents collects up to n events or until timeout.
func collectEvents(ch <-chan FileEvent, n int, timeout time.Duration) []FileEvent {
	var events []FileEvent
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for len(events) < n {
		select {
		case e, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, e)
		case <-timer.C:
			return events
		}
	}
	return events
}
