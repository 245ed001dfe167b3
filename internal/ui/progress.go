package ui

import (
	"sync"
	"time"
)

// speedSampleInterval is how often throughput is recomputed. Updates
// arrive per embedding batch, so anything faster is mostly noise.
const speedSampleInterval = 500 * time.Millisecond

// etaSmoothingFactor weights new ETA estimates against the previous
// one. Batch embedding times vary a lot between calls; without
// smoothing the countdown jumps around.
const etaSmoothingFactor = 0.3

// SpeedStats is a throughput snapshot in items per second.
type SpeedStats struct {
	Current float64
	Avg     float64 // exponentially smoothed
	Peak    float64
}

// ProgressStats is a point-in-time snapshot of indexing progress.
type ProgressStats struct {
	Stage       Stage
	Current     int
	Total       int
	Progress    float64
	ETA         time.Duration
	CurrentFile string
	ErrorCount  int
	WarnCount   int
	Speed       SpeedStats
}

// speedMeter derives items/sec from successive progress counters.
type speedMeter struct {
	lastCount int
	lastAt    time.Time
	current   float64
	avg       float64
	peak      float64
	samples   int
}

func (m *speedMeter) reset(now time.Time) {
	*m = speedMeter{lastAt: now}
}

// observe returns the new reading and true when the sample interval
// has elapsed and progress advanced.
func (m *speedMeter) observe(count int, now time.Time) (float64, bool) {
	elapsed := now.Sub(m.lastAt)
	if elapsed < speedSampleInterval {
		return 0, false
	}
	delta := count - m.lastCount
	m.lastCount = count
	m.lastAt = now
	if delta <= 0 {
		return 0, false
	}

	speed := float64(delta) / elapsed.Seconds()
	m.current = speed
	m.samples++
	if m.samples == 1 {
		m.avg = speed
	} else {
		m.avg = 0.2*speed + 0.8*m.avg
	}
	if speed > m.peak {
		m.peak = speed
	}
	return speed, true
}

func (m *speedMeter) stats() SpeedStats {
	return SpeedStats{Current: m.current, Avg: m.avg, Peak: m.peak}
}

// ProgressTracker accumulates per-stage progress for the prepare
// renderers. Safe for concurrent use; ingest reports from worker
// goroutines while the TUI reads snapshots on its tick.
type ProgressTracker struct {
	mu          sync.RWMutex
	stage       Stage
	current     int
	total       int
	currentFile string
	startTime   time.Time
	stageStart  time.Time
	errors      []ErrorEvent
	warnings    []ErrorEvent

	lastETA   time.Duration
	speed     speedMeter
	sparkline *Sparkline
}

// NewProgressTracker returns a tracker starting in the scanning stage.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	t := &ProgressTracker{
		stage:      StageScanning,
		startTime:  now,
		stageStart: now,
		sparkline:  NewSparkline(60),
	}
	t.speed.reset(now)
	return t
}

// SetStage moves to a new stage and resets per-stage state.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.total = total
	p.current = 0
	p.currentFile = ""
	p.stageStart = time.Now()
	p.lastETA = 0
	p.speed.reset(p.stageStart)
	p.sparkline.Clear()
}

// Update records progress within the current stage.
func (p *ProgressTracker) Update(current int, file string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if file != "" {
		p.currentFile = file
	}
	if speed, ok := p.speed.observe(current, time.Now()); ok {
		p.sparkline.Add(speed)
	}
}

// AddError records an error or warning event.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
	} else {
		p.errors = append(p.errors, event)
	}
}

// Progress returns stage completion in the range 0 to 1.
func (p *ProgressTracker) Progress() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fraction()
}

func (p *ProgressTracker) fraction() float64 {
	if p.total == 0 {
		return 0
	}
	f := float64(p.current) / float64(p.total)
	if f > 1 {
		return 1
	}
	return f
}

// ETA estimates time remaining in the current stage.
// Takes the write lock: smoothing updates lastETA.
func (p *ProgressTracker) ETA() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.smoothedETA()
}

// Elapsed returns time since the tracker was created.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Since(p.startTime)
}

// Stats returns a full snapshot.
// Takes the write lock: smoothing updates lastETA.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		Stage:       p.stage,
		Current:     p.current,
		Total:       p.total,
		Progress:    p.fraction(),
		ETA:         p.smoothedETA(),
		CurrentFile: p.currentFile,
		ErrorCount:  len(p.errors),
		WarnCount:   len(p.warnings),
		Speed:       p.speed.stats(),
	}
}

// smoothedETA projects remaining time from elapsed stage time and
// applies exponential smoothing. Caller must hold the lock.
func (p *ProgressTracker) smoothedETA() time.Duration {
	if p.current == 0 || p.total == 0 {
		return 0
	}
	progress := float64(p.current) / float64(p.total)
	if progress <= 0 || progress >= 1 {
		return 0
	}

	elapsed := time.Since(p.stageStart)
	remaining := time.Duration(float64(elapsed)/progress) - elapsed
	if remaining < 0 {
		return 0
	}

	if p.lastETA == 0 {
		p.lastETA = remaining
		return remaining
	}
	p.lastETA = time.Duration(
		etaSmoothingFactor*float64(remaining) +
			(1-etaSmoothingFactor)*float64(p.lastETA),
	)
	return p.lastETA
}

// Errors returns a copy of recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]ErrorEvent, len(p.errors))
	copy(out, p.errors)
	return out
}

// Warnings returns a copy of recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]ErrorEvent, len(p.warnings))
	copy(out, p.warnings)
	return out
}

// RenderSparkline renders the throughput sparkline at the given width,
// or at full width when width is zero or negative.
func (p *ProgressTracker) RenderSparkline(width int) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.sparkline == nil {
		return ""
	}
	if width <= 0 {
		return p.sparkline.Render()
	}
	return p.sparkline.RenderWithWidth(width)
}

// SpeedStats returns current throughput numbers.
func (p *ProgressTracker) SpeedStats() SpeedStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.speed.stats()
}
