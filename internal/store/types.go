// Package store provides the per-file keyword and vector indices and the
// chunk list codec. This is the persistence layer for all indexed data:
// one BM25 bundle and one vector index per ingested document, grouped on
// disk by (tenant, scenario) namespace directories.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	ragerr "github.com/DocQA-Labs/docrag/internal/errors"
)

// ChunkIDSeparator joins file ID and ordinal into a chunk ID.
const ChunkIDSeparator = "#chunk#"

// Chunk is the retrieval unit: one passage of an ingested document.
// Chunks are immutable after ingestion; retrieval never mutates them.
type Chunk struct {
	ID         string // "{file_id}#chunk#{ordinal}"
	FileID     string // Parent document ID
	Ordinal    int    // 0-based position within the file
	Text       string // UTF-8 passage text
	PageNumber int    // 1-based source page, 0 when unknown
}

// ChunkID builds the canonical chunk ID for a file position.
func ChunkID(fileID string, ordinal int) string {
	return fileID + ChunkIDSeparator + strconv.Itoa(ordinal)
}

// ParseChunkID splits a chunk ID into its file ID and ordinal.
func ParseChunkID(id string) (fileID string, ordinal int, err error) {
	i := strings.LastIndex(id, ChunkIDSeparator)
	if i < 0 {
		return "", 0, fmt.Errorf("malformed chunk id %q", id)
	}
	ordinal, err = strconv.Atoi(id[i+len(ChunkIDSeparator):])
	if err != nil {
		return "", 0, fmt.Errorf("malformed chunk id %q: %w", id, err)
	}
	return id[:i], ordinal, nil
}

// KeywordHit is a single lexical search result from one file's index.
type KeywordHit struct {
	Chunk Chunk
	Score float64
}

// VectorHit is a single dense search result from one file's index.
// Similarity is cosine similarity (inner product of unit vectors).
type VectorHit struct {
	Chunk      Chunk
	Similarity float64
}

// KeywordStats provides statistics about a keyword index.
type KeywordStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// KeywordIndex provides lexical search over one file's chunks.
type KeywordIndex interface {
	// Add indexes chunks. Ordinals must be unique within the file.
	Add(ctx context.Context, chunks []Chunk) error

	// Search returns up to k chunks scored against the query,
	// best first. Ties go to the lower ordinal.
	Search(ctx context.Context, query string, k int) ([]KeywordHit, error)

	// Len returns the number of indexed chunks.
	Len() int

	// Stats returns index statistics.
	Stats() *KeywordStats

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// VectorIndex provides dense search over one file's chunk embeddings.
type VectorIndex interface {
	// Add inserts chunk vectors. Vectors are normalized to unit
	// length before storage so inner product equals cosine.
	Add(ctx context.Context, chunks []Chunk, vectors [][]float32) error

	// Search returns up to k chunks by descending cosine similarity
	// to the query vector. Ties go to the lower ordinal.
	Search(ctx context.Context, query []float32, k int) ([]VectorHit, error)

	// SetChunks attaches the aligned chunk list after Load. The list
	// length must equal the vector count.
	SetChunks(chunks []Chunk) error

	// Len returns the number of stored vectors.
	Len() int

	// Dimensions returns the vector dimension, 0 if not yet fixed.
	Dimensions() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Config configures the Okapi BM25 scorer.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.5)
	K1 float64

	// B is the length normalization parameter (default: 0.75)
	B float64
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1: 1.5,
		B:  0.75,
	}
}

// VectorConfig configures a vector index.
type VectorConfig struct {
	// Dimensions is the vector dimension. 0 means adopt the
	// dimension of the first added batch.
	Dimensions int

	// M is HNSW max connections per layer (hnsw backend only).
	M int

	// EfSearch is HNSW query-time search width (hnsw backend only).
	EfSearch int
}

// DefaultVectorConfig returns sensible defaults for a vector index.
func DefaultVectorConfig(dimensions int) VectorConfig {
	return VectorConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   20,
	}
}

// errDimensionMismatch builds the ERR_405 error for a vector of the
// wrong width.
func errDimensionMismatch(expected, got int) error {
	return ragerr.New(ragerr.ErrCodeDimensionMismatch,
		fmt.Sprintf("dimension mismatch: expected %d, got %d", expected, got), nil)
}
