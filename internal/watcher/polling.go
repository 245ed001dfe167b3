package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// PollingWatcher detects document changes by rescanning the documents
// root on an interval. It is the fallback when fsnotify cannot be
// used (network mounts, inotify limits).
type PollingWatcher struct {
	interval time.Duration
	snapshot map[string]docSnapshot
	events   chan FileEvent
	errors   chan error
	stopCh   chan struct{}
	mu       sync.RWMutex
	stopped  bool
	root     string
}

type docSnapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// NewPollingWatcher creates a polling watcher with the given rescan interval.
func NewPollingWatcher(interval time.Duration) *PollingWatcher {
	return &PollingWatcher{
		interval: interval,
		snapshot: make(map[string]docSnapshot),
		events:   make(chan FileEvent, 100),
		errors:   make(chan error, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start polls the documents root until the context is cancelled or
// Stop is called. The first scan establishes the baseline and emits
// nothing.
func (p *PollingWatcher) Start(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	p.root = abs

	if err := p.rescan(nil); err != nil {
		return fmt.Errorf("perform initial scan: %w", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.rescan(p.emitEvent); err != nil {
				// Non-fatal, surface and keep polling
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

// Stop stops the polling watcher.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}

	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns the channel of file events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns the channel of errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}

// rescan walks the documents root, diffs against the previous
// snapshot, and reports changes through emit. A nil emit records the
// baseline silently.
func (p *PollingWatcher) rescan(emit func(FileEvent)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := make(map[string]docSnapshot)

	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == p.root {
				return err
			}
			return nil // Skip entries we can't access
		}

		rel, err := filepath.Rel(p.root, path)
		if err != nil || rel == "." {
			return nil
		}
		if hiddenComponent(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		// The documents tree is tenant/scenario/file; anything deeper
		// is outside the scanner's reach.
		if strings.Count(filepath.ToSlash(rel), "/") > 2 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		snap := docSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		}
		current[rel] = snap

		if emit == nil {
			return nil
		}
		if prev, exists := p.snapshot[rel]; !exists {
			emit(FileEvent{
				Path:      rel,
				Operation: OpCreate,
				IsDir:     d.IsDir(),
				Timestamp: time.Now(),
			})
		} else if prev.modTime != snap.modTime || prev.size != snap.size {
			emit(FileEvent{
				Path:      rel,
				Operation: OpModify,
				IsDir:     d.IsDir(),
				Timestamp: time.Now(),
			})
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("walk documents root for changes: %w", err)
	}

	if emit != nil {
		for rel, snap := range p.snapshot {
			if _, exists := current[rel]; !exists {
				emit(FileEvent{
					Path:      rel,
					Operation: OpDelete,
					IsDir:     snap.isDir,
					Timestamp: time.Now(),
				})
			}
		}
	}

	p.snapshot = current
	return nil
}

// emitEvent sends an event to the events channel.
// Must be called with lock held.
func (p *PollingWatcher) emitEvent(event FileEvent) {
	if p.stopped {
		return
	}

	select {
	case p.events <- event:
	default:
		slog.Warn("polling watcher buffer full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()),
		)
	}
}
