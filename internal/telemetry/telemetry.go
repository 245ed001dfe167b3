// Package telemetry records local question-processing metrics. All
// data stays on the host; nothing is reported externally.
package telemetry

import (
	"sync"
	"time"
)

// =============================================================================
// Processing Stages
// =============================================================================

// Stage names one timed phase of answering a question.
type Stage string

const (
	StageRetrieve Stage = "retrieve"
	StageRoute    Stage = "route"
	StageNavigate Stage = "navigate"
	StageGenerate Stage = "generate"
	StageVerify   Stage = "verify"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket is one histogram bucket for whole-question latency.
// Questions that touch the model run in seconds, so the buckets are
// much coarser than search-style histograms.
type LatencyBucket string

const (
	BucketP500   LatencyBucket = "p500"   // <500ms (cache hits)
	BucketP2000  LatencyBucket = "p2000"  // 500ms-2s
	BucketP5000  LatencyBucket = "p5000"  // 2-5s
	BucketP15000 LatencyBucket = "p15000" // 5-15s
	BucketPMax   LatencyBucket = "pmax"   // >=15s
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 500:
		return BucketP500
	case ms < 2000:
		return BucketP2000
	case ms < 5000:
		return BucketP5000
	case ms < 15000:
		return BucketP15000
	default:
		return BucketPMax
	}
}

// =============================================================================
// Question Event
// =============================================================================

// QuestionEvent is one answered question, as seen by the collector.
type QuestionEvent struct {
	Question     string
	Namespace    string
	QuestionType string // fact / analysis / guidance
	Mode         string // rag / pure_llm

	// CacheKind is exact or semantic on a cache hit, empty on a miss.
	CacheHit  bool
	CacheKind string

	// RetrievedCount is the hybrid retrieval result size, before
	// routing. Meaningless on cache hits.
	RetrievedCount int

	Stages    map[Stage]time.Duration
	Total     time.Duration
	Timestamp time.Time
}

// IsZeroResult reports whether retrieval came up empty for a question
// that actually ran retrieval.
func (e QuestionEvent) IsZeroResult() bool {
	return !e.CacheHit && e.RetrievedCount == 0
}

// ZeroResult is one retained zero-result question.
type ZeroResult struct {
	Question  string    `json:"question"`
	Namespace string    `json:"namespace"`
	At        time.Time `json:"at"`
}

// =============================================================================
// Ring Buffer
// =============================================================================

// Ring is a fixed-capacity buffer that evicts oldest-first.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	next  int
	count int
}

// NewRing creates a ring holding at most capacity items.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Add appends an item, evicting the oldest when full.
func (r *Ring[T]) Add(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.next] = item
	r.next = (r.next + 1) % len(r.items)
	if r.count < len(r.items) {
		r.count++
	}
}

// Items returns the retained items, oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, r.count)
	start := 0
	if r.count == len(r.items) {
		start = r.next
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.items[(start+i)%len(r.items)])
	}
	return out
}

// Len returns the number of retained items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Clear drops all retained items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next, r.count = 0, 0
}

// =============================================================================
// Stage Aggregates
// =============================================================================

// StageAgg is the persisted aggregate of one stage's latencies.
type StageAgg struct {
	Count   int64 `json:"count"`
	TotalMs int64 `json:"total_ms"`
	MaxMs   int64 `json:"max_ms"`
}

func (a *StageAgg) add(d time.Duration) {
	ms := d.Milliseconds()
	a.Count++
	a.TotalMs += ms
	if ms > a.MaxMs {
		a.MaxMs = ms
	}
}

func (a *StageAgg) merge(o StageAgg) {
	a.Count += o.Count
	a.TotalMs += o.TotalMs
	if o.MaxMs > a.MaxMs {
		a.MaxMs = o.MaxMs
	}
}

// AvgMs returns the mean stage latency in milliseconds.
func (a StageAgg) AvgMs() float64 {
	if a.Count == 0 {
		return 0
	}
	return float64(a.TotalMs) / float64(a.Count)
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is an immutable view of the collector since process start.
type Snapshot struct {
	QuestionTypeCounts  map[string]int64        `json:"question_type_counts"`
	ModeCounts          map[string]int64        `json:"mode_counts"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	StageLatencies      map[Stage]StageAgg      `json:"stage_latencies"`
	CacheHits           int64                   `json:"cache_hits"`
	CacheMisses         int64                   `json:"cache_misses"`
	CacheHitKinds       map[string]int64        `json:"cache_hit_kinds"`
	ZeroResultQuestions []ZeroResult            `json:"zero_result_questions"`
	TotalQuestions      int64                   `json:"total_questions"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	Since               time.Time               `json:"since"`
}

// CacheHitRate returns the fraction of questions served from cache.
func (s *Snapshot) CacheHitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

// ZeroResultPercentage returns the percentage of questions whose
// retrieval found nothing.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQuestions == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQuestions) * 100
}

// =============================================================================
// Collector
// =============================================================================

// Config tunes the collector.
type Config struct {
	// ZeroResultsCapacity bounds the retained zero-result questions.
	ZeroResultsCapacity int

	// FlushInterval is how often aggregates are persisted. Zero
	// disables auto-flush; Flush can still be called manually.
	FlushInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ZeroResultsCapacity: 100,
		FlushInterval:       60 * time.Second,
	}
}

// counters is one accumulation generation. The collector keeps a
// lifetime generation for Snapshot and a pending generation that
// Flush drains, so repeated flushes never double-count.
type counters struct {
	questionTypes map[string]int64
	modes         map[string]int64
	latencies     map[LatencyBucket]int64
	stages        map[Stage]*StageAgg
	cacheKinds    map[string]int64 // exact / semantic / miss
	zeroResults   []ZeroResult
}

func newCounters() *counters {
	return &counters{
		questionTypes: make(map[string]int64),
		modes:         make(map[string]int64),
		latencies:     make(map[LatencyBucket]int64),
		stages:        make(map[Stage]*StageAgg),
		cacheKinds:    make(map[string]int64),
	}
}

func (c *counters) record(event QuestionEvent) {
	if event.QuestionType != "" {
		c.questionTypes[event.QuestionType]++
	}
	if event.Mode != "" {
		c.modes[event.Mode]++
	}
	c.latencies[LatencyToBucket(event.Total)]++
	for stage, d := range event.Stages {
		agg := c.stages[stage]
		if agg == nil {
			agg = &StageAgg{}
			c.stages[stage] = agg
		}
		agg.add(d)
	}
	switch {
	case event.CacheHit && event.CacheKind != "":
		c.cacheKinds[event.CacheKind]++
	case event.CacheHit:
		c.cacheKinds["exact"]++
	default:
		c.cacheKinds["miss"]++
	}
}

// mergeInto folds this generation into another, used to restore
// pending counts after a failed flush.
func (c *counters) mergeInto(dst *counters) {
	for k, v := range c.questionTypes {
		dst.questionTypes[k] += v
	}
	for k, v := range c.modes {
		dst.modes[k] += v
	}
	for k, v := range c.latencies {
		dst.latencies[k] += v
	}
	for k, v := range c.stages {
		agg := dst.stages[k]
		if agg == nil {
			agg = &StageAgg{}
			dst.stages[k] = agg
		}
		agg.merge(*v)
	}
	for k, v := range c.cacheKinds {
		dst.cacheKinds[k] += v
	}
	dst.zeroResults = append(dst.zeroResults, c.zeroResults...)
}

// Collector aggregates question events in memory and periodically
// persists them. Safe for concurrent use. A nil store keeps metrics
// in memory only.
type Collector struct {
	mu sync.Mutex

	lifetime *counters
	pending  *counters

	zeroResults     *Ring[ZeroResult]
	totalQuestions  int64
	zeroResultCount int64
	startTime       time.Time

	store       Store
	cfg         Config
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// NewCollector creates a collector with default configuration.
func NewCollector(store Store) *Collector {
	return NewCollectorWithConfig(store, DefaultConfig())
}

// NewCollectorWithConfig creates a collector. Zero config fields take
// the defaults.
func NewCollectorWithConfig(store Store, cfg Config) *Collector {
	def := DefaultConfig()
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}

	c := &Collector{
		lifetime:    newCounters(),
		pending:     newCounters(),
		zeroResults: NewRing[ZeroResult](cfg.ZeroResultsCapacity),
		startTime:   time.Now(),
		store:       store,
		cfg:         cfg,
		stopCh:      make(chan struct{}),
	}
	if cfg.FlushInterval > 0 && store != nil {
		c.flushTicker = time.NewTicker(cfg.FlushInterval)
		go c.flushLoop()
	}
	return c
}

func (c *Collector) flushLoop() {
	for {
		select {
		case <-c.flushTicker.C:
			_ = c.Flush()
		case <-c.stopCh:
			return
		}
	}
}

// Record captures one answered question. Non-blocking; persistence
// happens on the flush cadence.
func (c *Collector) Record(event QuestionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.lifetime.record(event)
	c.pending.record(event)
	c.totalQuestions++

	if event.IsZeroResult() {
		c.zeroResultCount++
		zr := ZeroResult{
			Question:  event.Question,
			Namespace: event.Namespace,
			At:        event.Timestamp,
		}
		c.zeroResults.Add(zr)
		c.pending.zeroResults = append(c.pending.zeroResults, zr)
	}
}

// Snapshot returns the process-lifetime metrics.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	types := make(map[string]int64, len(c.lifetime.questionTypes))
	for k, v := range c.lifetime.questionTypes {
		types[k] = v
	}
	modes := make(map[string]int64, len(c.lifetime.modes))
	for k, v := range c.lifetime.modes {
		modes[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(c.lifetime.latencies))
	for k, v := range c.lifetime.latencies {
		latencies[k] = v
	}
	stages := make(map[Stage]StageAgg, len(c.lifetime.stages))
	for k, v := range c.lifetime.stages {
		stages[k] = *v
	}
	kinds := make(map[string]int64, len(c.lifetime.cacheKinds))
	var hits, misses int64
	for k, v := range c.lifetime.cacheKinds {
		if k == "miss" {
			misses += v
			continue
		}
		hits += v
		kinds[k] = v
	}

	return &Snapshot{
		QuestionTypeCounts:  types,
		ModeCounts:          modes,
		LatencyDistribution: latencies,
		StageLatencies:      stages,
		CacheHits:           hits,
		CacheMisses:         misses,
		CacheHitKinds:       kinds,
		ZeroResultQuestions: c.zeroResults.Items(),
		TotalQuestions:      c.totalQuestions,
		ZeroResultCount:     c.zeroResultCount,
		Since:               c.startTime,
	}
}

// Flush persists counts accumulated since the previous flush. Safe
// with no store configured.
func (c *Collector) Flush() error {
	if c.store == nil {
		return nil
	}

	c.mu.Lock()
	batch := c.pending
	c.pending = newCounters()
	c.mu.Unlock()

	date := time.Now().Format("2006-01-02")
	err := c.flushBatch(date, batch)
	if err != nil {
		// Put the drained counts back so the next flush retries them.
		c.mu.Lock()
		batch.mergeInto(c.pending)
		c.mu.Unlock()
	}
	return err
}

func (c *Collector) flushBatch(date string, batch *counters) error {
	if err := c.store.SaveTypeCounts(date, batch.questionTypes); err != nil {
		return err
	}
	if err := c.store.SaveModeCounts(date, batch.modes); err != nil {
		return err
	}
	if err := c.store.SaveLatencyCounts(date, batch.latencies); err != nil {
		return err
	}
	stages := make(map[Stage]StageAgg, len(batch.stages))
	for k, v := range batch.stages {
		stages[k] = *v
	}
	if err := c.store.SaveStageLatencies(date, stages); err != nil {
		return err
	}
	if err := c.store.SaveCacheCounts(date, batch.cacheKinds); err != nil {
		return err
	}
	for _, zr := range batch.zeroResults {
		if err := c.store.AddZeroResult(zr.Question, zr.Namespace, zr.At); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the flush loop, flushes once more and releases the
// collector. The store is not closed; the caller owns it.
func (c *Collector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.flushTicker != nil {
		c.flushTicker.Stop()
		close(c.stopCh)
	}
	return c.Flush()
}
