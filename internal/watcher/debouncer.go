package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces bursts of document events so a namespace is not
// invalidated once per write syscall. Events for the same path within
// the window merge pairwise:
//   - CREATE then MODIFY stays CREATE (the document is still new)
//   - CREATE then DELETE cancels out (it never really existed)
//   - MODIFY then DELETE becomes DELETE (the document is gone)
//   - DELETE then CREATE becomes MODIFY (the document was replaced)
type Debouncer struct {
	window  time.Duration
	pending map[string]*pendingEvent
	mu      sync.Mutex
	output  chan []FileEvent
	timer   *time.Timer
	stopped bool
}

type pendingEvent struct {
	event   FileEvent
	firstOp Operation // the operation that opened this window
}

// NewDebouncer creates a debouncer that emits coalesced batches after
// the given quiet window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []FileEvent, 10),
	}
}

// Add folds an event into the current window.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	existing, ok := d.pending[event.Path]
	if !ok {
		d.pending[event.Path] = &pendingEvent{event: event, firstOp: event.Operation}
		d.scheduleFlush()
		return
	}

	merged, keep := mergeEvents(existing.firstOp, event)
	if !keep {
		delete(d.pending, event.Path)
	} else {
		existing.event = merged
	}
	d.scheduleFlush()
}

// mergeEvents applies the pairwise coalescing rules. The second
// return is false when the pair cancels out entirely.
func mergeEvents(firstOp Operation, next FileEvent) (FileEvent, bool) {
	switch {
	case firstOp == OpCreate && next.Operation == OpModify:
		// Still a brand-new document as far as the index is concerned.
		created := next
		created.Operation = OpCreate
		return created, true
	case firstOp == OpCreate && next.Operation == OpDelete:
		return FileEvent{}, false
	case firstOp == OpDelete && next.Operation == OpCreate:
		replaced := next
		replaced.Operation = OpModify
		return replaced, true
	default:
		return next, true
	}
}

// scheduleFlush resets the window timer.
func (d *Debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush emits everything accumulated in the window as one batch.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	events := make([]FileEvent, 0, len(d.pending))
	for _, pe := range d.pending {
		events = append(events, pe.event)
	}
	d.pending = make(map[string]*pendingEvent)

	// Non-blocking send
	select {
	case d.output <- events:
	default:
		slog.Warn("debouncer output full, dropping batch",
			slog.Int("batch_size", len(events)),
		)
	}
}

// Output returns the channel of debounced event batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop stops the debouncer and closes the output channel.
// Safe to call multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
