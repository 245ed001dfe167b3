// Package watcher keeps loaded namespaces honest when their source
// documents change on disk. It watches the documents root (one
// tenant/scenario directory per namespace), debounces the raw
// filesystem churn, and invalidates each affected namespace so the
// next question reloads or rebuilds instead of answering from stale
// indices.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify for efficient event-based watching
//   - Fallback: polling for environments where fsnotify fails
//     (network mounts, some container volumes)
//
// Usage:
//
//	w, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	inv := watcher.NewInvalidator(w, orch.InvalidateNamespace, logger)
//	go inv.Run(ctx, cfg.Paths.DocumentsDir())
package watcher
