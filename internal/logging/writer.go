package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// RotatingWriter is an io.Writer over a log file that rotates by size:
// the live file becomes .1, .1 becomes .2, and the oldest copy is
// dropped once maxFiles is reached.
type RotatingWriter struct {
	path     string
	maxSize  int64
	maxFiles int

	mu            sync.Mutex
	file          *os.File
	written       int64
	syncEachWrite bool
}

// NewRotatingWriter opens (or creates) the log file at path, rotating
// once it exceeds maxSizeMB and keeping at most maxFiles rotated
// copies. Per-write sync starts enabled so a follower sees lines as
// they land.
func NewRotatingWriter(path string, maxSizeMB, maxFiles int) (*RotatingWriter, error) {
	w := &RotatingWriter{
		path:          path,
		maxSize:       int64(maxSizeMB) * 1024 * 1024,
		maxFiles:      maxFiles,
		syncEachWrite: true,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// SetImmediateSync toggles the per-write flush. Disable it when
// throughput matters more than `docrag-logs -f` latency.
func (w *RotatingWriter) SetImmediateSync(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.syncEachWrite = enabled
}

// Write appends p, rotating first when it would push the file past
// the size cap. A failed rotation is reported on stderr and the write
// proceeds against the current file.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.written+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	n, err := w.file.Write(p)
	w.written += int64(n)
	if err == nil && w.syncEachWrite {
		_ = w.file.Sync()
	}
	return n, err
}

// Sync flushes the live file to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the live file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	w.file = f
	w.written = info.Size()
	return nil
}

// rotate closes the live file, shifts every numbered copy one slot
// up (dropping copies at or past maxFiles), moves the live file to
// .1, and reopens a fresh one.
func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
		w.file = nil
	}

	for _, idx := range w.rotatedIndices() {
		if idx >= w.maxFiles {
			_ = os.Remove(fmt.Sprintf("%s.%d", w.path, idx))
		}
	}
	for n := w.maxFiles - 1; n >= 1; n-- {
		src := fmt.Sprintf("%s.%d", w.path, n)
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, fmt.Sprintf("%s.%d", w.path, n+1))
		}
	}

	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, w.path+".1"); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	w.written = 0
	return w.open()
}

// rotatedIndices lists the numeric suffixes of existing rotated
// copies. Non-numeric siblings (editor backups and the like) are
// ignored.
func (w *RotatingWriter) rotatedIndices() []int {
	matches, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return nil
	}

	base := filepath.Base(w.path) + "."
	var indices []int
	for _, m := range matches {
		n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(m), base))
		if err != nil {
			continue
		}
		indices = append(indices, n)
	}
	return indices
}
