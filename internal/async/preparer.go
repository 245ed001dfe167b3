package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DocQA-Labs/docrag/internal/ingest"
	"github.com/DocQA-Labs/docrag/internal/namespace"
)

// incompleteMarker is kept in the data root while a build runs. Finding it
// at startup means a previous build was interrupted.
const incompleteMarker = "prepare.incomplete"

// ErrBuildInProgress is returned by Start while a build for a different
// namespace is still running.
var ErrBuildInProgress = errors.New("another namespace build is already running")

// PrepareFunc runs one namespace build. The onEvent callback receives ingest
// progress events and must be safe to call from multiple goroutines.
type PrepareFunc func(ctx context.Context, id namespace.ID, force bool, onEvent func(ingest.Event)) (*ingest.Result, error)

// PreparerConfig configures the Preparer.
type PreparerConfig struct {
	// MarkerDir is where the incomplete-build marker is written, normally
	// the data root. Empty disables the marker.
	MarkerDir string
}

// Preparer runs namespace builds in background goroutines, one at a time,
// and keeps the last job per namespace for status polling.
type Preparer struct {
	config PreparerConfig

	// PrepareFunc is the build to run. It can be injected for testing.
	PrepareFunc PrepareFunc

	mu     sync.Mutex
	active *Job
	jobs   map[namespace.ID]*Job
}

// NewPreparer creates a preparer with no builds running.
func NewPreparer(cfg PreparerConfig) *Preparer {
	return &Preparer{
		config: cfg,
		jobs:   make(map[namespace.ID]*Job),
	}
}

// Start launches a background build for the namespace and returns
// immediately; poll the job's progress or call Wait on it. Starting a
// namespace whose build is still running returns the running job. Only one
// build runs at a time, so starting a different namespace while one is
// building returns ErrBuildInProgress.
func (p *Preparer) Start(ctx context.Context, id namespace.ID, force bool) (*Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil {
		if p.active.id == id {
			return p.active, nil
		}
		return nil, ErrBuildInProgress
	}
	if p.PrepareFunc == nil {
		return nil, errors.New("prepare function is not configured")
	}

	j := &Job{
		id:       id,
		force:    force,
		progress: NewBuildProgress(id.String()),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		running:  true,
	}
	p.active = j
	p.jobs[id] = j

	go p.run(ctx, j)
	return j, nil
}

// Job returns the most recent build job for the namespace, running or not.
func (p *Preparer) Job(id namespace.ID) (*Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	j, ok := p.jobs[id]
	return j, ok
}

// Active returns the currently running job, if any.
func (p *Preparer) Active() (*Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.active, p.active != nil
}

// Stop cancels the running build, if any, and waits for it to finish.
func (p *Preparer) Stop() {
	p.mu.Lock()
	j := p.active
	p.mu.Unlock()

	if j != nil {
		j.Stop()
	}
}

// run executes one build in the background.
func (p *Preparer) run(ctx context.Context, j *Job) {
	defer close(j.doneCh)
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()

		p.mu.Lock()
		if p.active == j {
			p.active = nil
		}
		p.mu.Unlock()
	}()

	// Merged context that respects both the parent and the stop channel.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-j.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	marker, err := p.writeMarker(j.id)
	if err != nil {
		j.fail(err)
		return
	}
	if marker != "" {
		defer func() { _ = os.Remove(marker) }()
	}

	slog.Info("background build started",
		"namespace", j.id.String(), "force", j.force)

	res, err := p.PrepareFunc(ctx, j.id, j.force, j.progress.Observe)
	if err != nil {
		slog.Warn("background build failed",
			"namespace", j.id.String(), "error", err)
		j.fail(err)
		return
	}
	j.finish(res)

	if res != nil {
		slog.Info("background build finished",
			"namespace", j.id.String(),
			"indexed", res.Indexed, "chunks", res.Chunks)
	}
}

// writeMarker drops the incomplete-build marker and returns its path, or ""
// when markers are disabled.
func (p *Preparer) writeMarker(id namespace.ID) (string, error) {
	if p.config.MarkerDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(p.config.MarkerDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create marker directory: %w", err)
	}
	path := filepath.Join(p.config.MarkerDir, incompleteMarker)
	line := id.String() + " " + time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(path, []byte(line), 0644); err != nil {
		return "", fmt.Errorf("failed to write build marker: %w", err)
	}
	return path, nil
}

// Job is one background build of a single namespace.
type Job struct {
	id       namespace.ID
	force    bool
	progress *BuildProgress

	stopCh chan struct{}
	doneCh chan struct{}
	stop   sync.Once

	mu      sync.Mutex
	running bool
	err     error
	result  *ingest.Result
}

// ID returns the namespace this job builds.
func (j *Job) ID() namespace.ID {
	return j.id
}

// Progress returns the progress tracker for this job.
func (j *Job) Progress() *BuildProgress {
	return j.progress
}

// IsRunning returns true while the build goroutine is active.
func (j *Job) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.running
}

// Wait blocks until the build completes and returns its error.
func (j *Job) Wait() error {
	<-j.doneCh
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.err
}

// Result returns the build result, or nil until the build succeeds.
func (j *Job) Result() *ingest.Result {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.result
}

// Stop signals the build to stop and waits for it to finish. It is safe to
// call more than once and after completion.
func (j *Job) Stop() {
	j.stop.Do(func() { close(j.stopCh) })
	<-j.doneCh
}

func (j *Job) fail(err error) {
	j.progress.SetError(err.Error())
	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
}

func (j *Job) finish(res *ingest.Result) {
	j.progress.SetDone(res)
	j.mu.Lock()
	j.result = res
	j.mu.Unlock()
}

// HasIncompleteBuild reports whether a previous build was interrupted
// before it could remove its marker, usually by a crash or kill.
func HasIncompleteBuild(dir string) bool {
	if dir == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(dir, incompleteMarker))
	return err == nil
}
