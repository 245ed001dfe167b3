package watcher

import (
	"context"
	"log/slog"

	"github.com/DocQA-Labs/docrag/internal/namespace"
)

// InvalidateFunc is called once per namespace whose documents changed.
type InvalidateFunc func(id namespace.ID)

// Invalidator consumes debounced file events and evicts the loaded
// indices of every namespace whose documents directory changed, so the
// next question or status call sees the namespace as stale instead of
// answering from indices that no longer match the corpus.
type Invalidator struct {
	watcher    *HybridWatcher
	invalidate InvalidateFunc
	logger     *slog.Logger
}

// NewInvalidator wires a watcher to an invalidate callback.
func NewInvalidator(w *HybridWatcher, fn InvalidateFunc, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{
		watcher:    w,
		invalidate: fn,
		logger:     logger,
	}
}

// Run starts the watcher on the documents root and processes events
// until the context is cancelled. Watcher errors are logged, not
// fatal.
func (inv *Invalidator) Run(ctx context.Context, documentsRoot string) error {
	go inv.consume(ctx)
	return inv.watcher.Start(ctx, documentsRoot)
}

func (inv *Invalidator) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-inv.watcher.Events():
			if !ok {
				return
			}
			inv.handleBatch(batch)
		case err, ok := <-inv.watcher.Errors():
			if !ok {
				return
			}
			inv.logger.Warn("document watcher error", "error", err)
		}
	}
}

// handleBatch invalidates each affected namespace once, no matter how
// many files in it changed.
func (inv *Invalidator) handleBatch(batch []FileEvent) {
	seen := make(map[namespace.ID]bool)
	for _, event := range batch {
		id, ok := event.Namespace()
		if !ok || seen[id] {
			continue
		}
		seen[id] = true

		inv.logger.Info("documents changed, invalidating namespace",
			"namespace", id.String(),
			"path", event.Path,
			"op", event.Operation.String(),
		)
		inv.invalidate(id)
	}
}

// Stop stops the underlying watcher.
func (inv *Invalidator) Stop() error {
	return inv.watcher.Stop()
}
