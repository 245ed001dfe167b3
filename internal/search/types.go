// Package search implements the retrieval pipeline for one namespace:
// lexical and dense retrievers over the per-file indices, reciprocal
// rank fusion, and the agentic layer that analyzes questions, routes
// chunks, narrows context and verifies answers.
package search

import (
	"context"

	"github.com/DocQA-Labs/docrag/internal/store"
)

// Source identifies which retriever produced a hit.
type Source string

// Hit sources.
const (
	SourceBM25   Source = "bm25"
	SourceVector Source = "vector"
	SourceHybrid Source = "hybrid"
)

// Hit is one retrieved chunk with scoring provenance. Fields that only
// apply to one retriever stay zero elsewhere: a pure lexical hit has no
// vector rank, a fused hit carries both plus the combined score.
type Hit struct {
	Chunk store.Chunk `json:"chunk"`

	// Score is the sortable score of the producing stage: BM25 score,
	// cosine similarity, or fused RRF sum.
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`
	Source Source  `json:"source"`

	BM25Score   float64 `json:"bm25_score,omitempty"`
	VectorScore float64 `json:"vector_score,omitempty"`
	BM25Rank    int     `json:"bm25_rank,omitempty"`
	VectorRank  int     `json:"vector_rank,omitempty"`
	RRFScore    float64 `json:"rrf_score,omitempty"`

	// NeedsExpansion marks a chunk the navigator judged truncated.
	// The flag lives on the hit; stored chunks are never mutated.
	NeedsExpansion bool `json:"needs_expansion,omitempty"`
}

// IndexProvider hands the retrievers the per-file indices of one
// namespace, keyed by file ID. Implementations load lazily and must
// serve concurrent readers.
type IndexProvider interface {
	// KeywordIndexes returns the loaded per-file keyword indices.
	KeywordIndexes(ctx context.Context) (map[string]store.KeywordIndex, error)

	// VectorIndexes returns the loaded per-file vector indices.
	VectorIndexes(ctx context.Context) (map[string]store.VectorIndex, error)
}

// EngineConfig tunes the hybrid engine of one namespace.
type EngineConfig struct {
	// UseBM25 and UseVector toggle the retrieval legs.
	UseBM25   bool
	UseVector bool

	// RRFK is the rank smoothing constant (default DefaultRRFConstant).
	RRFK int

	// BM25Weight and VectorWeight split the fusion mass.
	BM25Weight   float64
	VectorWeight float64

	// MinSimilarity filters dense hits (default DefaultMinSimilarity).
	MinSimilarity float64
}

// DefaultEngineConfig returns the balanced hybrid setup.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		UseBM25:       true,
		UseVector:     true,
		RRFK:          DefaultRRFConstant,
		BM25Weight:    0.5,
		VectorWeight:  0.5,
		MinSimilarity: DefaultMinSimilarity,
	}
}

// EngineStats is a snapshot of the rolling retrieval counters.
// Failed counts queries where both legs came back empty.
type EngineStats struct {
	TotalQueries int64   `json:"total_queries"`
	AvgTimeMs    float64 `json:"avg_time_ms"`
	BM25Only     int64   `json:"bm25_only"`
	VectorOnly   int64   `json:"vector_only"`
	Hybrid       int64   `json:"hybrid"`
	Failed       int64   `json:"failed"`
}
