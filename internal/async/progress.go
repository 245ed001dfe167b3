// Package async runs namespace builds in the background and tracks their
// progress for status polling.
package async

import (
	"sync"
	"time"

	"github.com/DocQA-Labs/docrag/internal/ingest"
)

// BuildStatus is the overall state of one background build.
type BuildStatus string

const (
	// StatusBuilding indicates a build is in progress.
	StatusBuilding BuildStatus = "building"
	// StatusReady indicates the build finished and the namespace is queryable.
	StatusReady BuildStatus = "ready"
	// StatusError indicates the build failed.
	StatusError BuildStatus = "error"
)

// BuildSnapshot is an immutable snapshot of build progress.
type BuildSnapshot struct {
	Namespace      string         `json:"namespace"`
	Status         string         `json:"status"`
	Stage          string         `json:"stage"`
	FilesTotal     int            `json:"files_total"`
	FilesProcessed int            `json:"files_processed"`
	File           string         `json:"file,omitempty"`
	ProgressPct    float64        `json:"progress_pct"`
	ElapsedSeconds int            `json:"elapsed_seconds"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Result         *ingest.Result `json:"result,omitempty"`
}

// BuildProgress provides thread-safe tracking of one namespace build. It is
// fed through the ingest progress callback and read by status endpoints.
type BuildProgress struct {
	mu sync.RWMutex

	namespace string
	status    BuildStatus
	stage     ingest.Stage
	processed int
	total     int
	file      string
	startTime time.Time
	errMsg    string
	result    *ingest.Result
}

// NewBuildProgress creates a progress tracker for one namespace build.
func NewBuildProgress(namespace string) *BuildProgress {
	return &BuildProgress{
		namespace: namespace,
		status:    StatusBuilding,
		stage:     ingest.StageScanning,
		startTime: time.Now(),
	}
}

// stageRank orders build stages so that late events from overlapping
// workers cannot move progress backwards.
func stageRank(s ingest.Stage) int {
	switch s {
	case ingest.StageScanning:
		return 0
	case ingest.StageChunking:
		return 1
	case ingest.StageEmbedding:
		return 2
	case ingest.StageIndexing:
		return 3
	default:
		return -1
	}
}

// Observe folds one ingest event into the tracker. Build workers emit
// embedding and indexing events concurrently; the stage and counters only
// ever advance.
func (p *BuildProgress) Observe(ev ingest.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rank := stageRank(ev.Stage)
	switch current := stageRank(p.stage); {
	case rank < current:
		return
	case rank > current:
		p.stage = ev.Stage
		p.processed = 0
		p.total = 0
		p.file = ""
	}
	if ev.Total > p.total {
		p.total = ev.Total
	}
	if ev.Current > p.processed {
		p.processed = ev.Current
	}
	if ev.File != "" {
		p.file = ev.File
	}
}

// SetError marks the build as failed.
func (p *BuildProgress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusError
	p.errMsg = message
}

// SetDone marks the build as complete and records its result.
func (p *BuildProgress) SetDone(result *ingest.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusReady
	p.result = result
	if p.total > 0 {
		p.processed = p.total
	}
}

// IsBuilding returns true while the build is still in progress.
func (p *BuildProgress) IsBuilding() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status == StatusBuilding
}

// Snapshot returns an immutable copy of the current build state.
func (p *BuildProgress) Snapshot() BuildSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var pct float64
	if p.total > 0 {
		pct = float64(p.processed) / float64(p.total) * 100.0
	}

	return BuildSnapshot{
		Namespace:      p.namespace,
		Status:         string(p.status),
		Stage:          string(p.stage),
		FilesTotal:     p.total,
		FilesProcessed: p.processed,
		File:           p.file,
		ProgressPct:    pct,
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
		ErrorMessage:   p.errMsg,
		Result:         p.result,
	}
}
