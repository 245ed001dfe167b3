package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DocQA-Labs/docrag/internal/llm"
)

// ErrNilDependency is returned when a required collaborator is missing.
var ErrNilDependency = errors.New("nil dependency")

// statBucket selects which counter a finished query lands in.
type statBucket int

const (
	bucketFailed statBucket = iota
	bucketBM25Only
	bucketVectorOnly
	bucketHybrid
)

// Engine is the hybrid retriever for one namespace: both legs run
// concurrently at twice the requested depth, then the two lists are
// fused by reciprocal rank.
type Engine struct {
	bm25   *BM25Retriever
	vector *VectorRetriever
	fusion *RRFFusion
	cfg    EngineConfig

	mu    sync.Mutex
	stats EngineStats
}

// NewEngine wires a hybrid engine over one namespace's indices. The
// gateway may be nil only when the vector leg is disabled.
func NewEngine(provider IndexProvider, gateway llm.Gateway, cfg EngineConfig) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: index provider", ErrNilDependency)
	}
	if cfg.UseVector && gateway == nil {
		return nil, fmt.Errorf("%w: llm gateway", ErrNilDependency)
	}
	if !cfg.UseBM25 && !cfg.UseVector {
		return nil, errors.New("no retrieval leg enabled")
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFConstant
	}
	if cfg.BM25Weight <= 0 && cfg.VectorWeight <= 0 {
		cfg.BM25Weight = 0.5
		cfg.VectorWeight = 0.5
	}

	e := &Engine{
		fusion: NewRRFFusionWithK(cfg.RRFK),
		cfg:    cfg,
	}
	if cfg.UseBM25 {
		e.bm25 = NewBM25Retriever(provider)
	}
	if cfg.UseVector {
		e.vector = NewVectorRetriever(provider, gateway, cfg.MinSimilarity)
	}
	return e, nil
}

// Retrieve runs the enabled legs concurrently at depth k·2, fuses when
// both produced hits, and returns the top k. One failed leg degrades
// to the other; only all enabled legs failing is an error.
func (e *Engine) Retrieve(ctx context.Context, query string, k int) ([]*Hit, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" || k <= 0 {
		return []*Hit{}, nil
	}

	depth := k * 2

	var (
		bm25Hits []*Hit
		vecHits  []*Hit
		bm25Err  error
		vecErr   error
	)

	g, gctx := errgroup.WithContext(ctx)

	if e.bm25 != nil {
		g.Go(func() error {
			hits, err := e.bm25.Retrieve(gctx, query, depth)
			if err != nil {
				bm25Err = err
				return nil // a failed leg never cancels the other
			}
			bm25Hits = hits
			return nil
		})
	}
	if e.vector != nil {
		g.Go(func() error {
			hits, err := e.vector.Retrieve(gctx, query, depth)
			if err != nil {
				vecErr = err
				return nil
			}
			vecHits = hits
			return nil
		})
	}
	_ = g.Wait()

	if bm25Err != nil {
		slog.Warn("bm25 leg failed", "error", bm25Err)
	}
	if vecErr != nil {
		slog.Warn("vector leg failed", "error", vecErr)
	}

	bothFailed := (e.bm25 == nil || bm25Err != nil) && (e.vector == nil || vecErr != nil)
	if bothFailed {
		e.record(start, bucketFailed)
		return nil, errors.Join(bm25Err, vecErr)
	}

	switch {
	case len(bm25Hits) == 0 && len(vecHits) == 0:
		e.record(start, bucketFailed)
		return []*Hit{}, nil
	case len(vecHits) == 0:
		e.record(start, bucketBM25Only)
		return truncateHits(bm25Hits, k), nil
	case len(bm25Hits) == 0:
		e.record(start, bucketVectorOnly)
		return truncateHits(vecHits, k), nil
	}

	fused := e.fusion.Fuse(bm25Hits, vecHits, Weights{
		BM25:   e.cfg.BM25Weight,
		Vector: e.cfg.VectorWeight,
	})
	e.record(start, bucketHybrid)
	return truncateHits(fused, k), nil
}

// Stats returns a snapshot of the rolling retrieval counters.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// record folds one finished query into the rolling counters.
func (e *Engine) record(start time.Time, bucket statBucket) {
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0

	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.TotalQueries++
	e.stats.AvgTimeMs += (elapsed - e.stats.AvgTimeMs) / float64(e.stats.TotalQueries)

	switch bucket {
	case bucketFailed:
		e.stats.Failed++
	case bucketBM25Only:
		e.stats.BM25Only++
	case bucketVectorOnly:
		e.stats.VectorOnly++
	case bucketHybrid:
		e.stats.Hybrid++
	}
}

func truncateHits(hits []*Hit, k int) []*Hit {
	if len(hits) > k {
		return hits[:k]
	}
	return hits
}
