package watcher

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/DocQA-Labs/docrag/internal/namespace"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was deleted.
	OpDelete
	// OpRename indicates a file or directory was renamed.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file system event under the documents root.
type FileEvent struct {
	// Path is relative to the watched documents root, so its first two
	// components are the tenant and scenario directories.
	Path string

	// Operation is the type of file system operation.
	Operation Operation

	// IsDir indicates if the event is for a directory.
	IsDir bool

	// Timestamp is when the event was detected.
	Timestamp time.Time
}

// Namespace maps the event path to the namespace it belongs to.
// Returns false for paths outside any tenant/scenario pair or for
// files the document scanner would never index.
func (e FileEvent) Namespace() (namespace.ID, bool) {
	parts := strings.Split(filepath.ToSlash(e.Path), "/")
	switch {
	case len(parts) < 2:
		// Tenant-level churn; nothing specific to invalidate.
		return namespace.ID{}, false
	case len(parts) == 2:
		// The scenario directory itself appeared or disappeared.
		if !e.IsDir && e.Operation != OpDelete {
			return namespace.ID{}, false
		}
	case len(parts) == 3:
		if e.IsDir || !indexableDocument(parts[2]) {
			return namespace.ID{}, false
		}
	default:
		// The scanner does not descend below the scenario directory.
		return namespace.ID{}, false
	}

	id, err := namespace.NewID(parts[0], parts[1])
	if err != nil {
		return namespace.ID{}, false
	}
	return id, true
}

// indexableDocument reports whether a file name is one the document
// scanner would pick up on the next build.
func indexableDocument(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch {
	case strings.HasSuffix(name, ".json"),
		strings.HasSuffix(name, ".txt"),
		strings.HasSuffix(name, ".md"),
		strings.HasSuffix(name, ".markdown"):
		return true
	}
	return false
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the time to wait before emitting coalesced events.
	// Default: 200ms
	DebounceWindow time.Duration

	// PollInterval is the interval for polling mode (fallback).
	// Default: 5s
	PollInterval time.Duration

	// EventBufferSize is the size of the event channel buffer.
	// Default: 1000
	EventBufferSize int
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 1000,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}
