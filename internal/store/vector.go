package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
)

// FlatVectorIndex is the default vector backend: every vector is kept
// and search is a brute-force inner product over all of them. Exact by
// construction, and fast enough at per-document scale. Vectors are unit
// length so the inner product is cosine similarity.
type FlatVectorIndex struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
	chunks  []Chunk
	closed  bool
}

// flatBundle is the persisted form of a FlatVectorIndex. Chunk texts
// live in the sibling chunks.json, not here.
type flatBundle struct {
	Dim     int
	Vectors [][]float32
}

// Verify interface implementation
var _ VectorIndex = (*FlatVectorIndex)(nil)

// NewFlatVectorIndex creates an empty flat index. A zero dimension is
// adopted from the first added batch.
func NewFlatVectorIndex(cfg VectorConfig) *FlatVectorIndex {
	return &FlatVectorIndex{
		dim: cfg.Dimensions,
	}
}

// Add appends chunk vectors. Each vector is copied and normalized to
// unit length before storage.
func (s *FlatVectorIndex) Add(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if s.dim == 0 {
		s.dim = len(vectors[0])
	}
	for _, v := range vectors {
		if len(v) != s.dim {
			return errDimensionMismatch(s.dim, len(v))
		}
	}

	for i := range vectors {
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)
		s.vectors = append(s.vectors, vec)
		s.chunks = append(s.chunks, chunks[i])
	}

	return nil
}

// Search returns the top k chunks by inner product with the query.
// The query is normalized first; ties go to the lower ordinal.
func (s *FlatVectorIndex) Search(ctx context.Context, query []float32, k int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	if k <= 0 || len(s.vectors) == 0 {
		return []VectorHit{}, nil
	}

	if len(query) != s.dim {
		return nil, errDimensionMismatch(s.dim, len(query))
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	hits := make([]VectorHit, 0, len(s.vectors))
	for i, v := range s.vectors {
		var chunk Chunk
		if i < len(s.chunks) {
			chunk = s.chunks[i]
		} else {
			chunk = Chunk{Ordinal: i}
		}
		hits = append(hits, VectorHit{
			Chunk:      chunk,
			Similarity: dotProduct(q, v),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Chunk.Ordinal < hits[j].Chunk.Ordinal
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// SetChunks attaches the aligned chunk list, typically after Load.
func (s *FlatVectorIndex) SetChunks(chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if len(chunks) != len(s.vectors) {
		return fmt.Errorf("chunk list misaligned: %d chunks for %d vectors", len(chunks), len(s.vectors))
	}

	s.chunks = chunks
	return nil
}

// Len returns the number of stored vectors.
func (s *FlatVectorIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// Dimensions returns the vector dimension, 0 if not yet fixed.
func (s *FlatVectorIndex) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Save persists the vectors as a gob file with an atomic rename.
func (s *FlatVectorIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	bundle := flatBundle{Dim: s.dim, Vectors: s.vectors}

	return writeFileAtomic(path, func(f *os.File) error {
		if err := gob.NewEncoder(f).Encode(&bundle); err != nil {
			return fmt.Errorf("encode vector index: %w", err)
		}
		return nil
	})
}

// Load replaces the stored vectors with a persisted file. The chunk
// list is cleared; call SetChunks with the matching chunks afterwards.
func (s *FlatVectorIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	defer f.Close()

	var bundle flatBundle
	if err := gob.NewDecoder(f).Decode(&bundle); err != nil {
		return fmt.Errorf("decode vector index %s: %w", path, err)
	}

	for _, v := range bundle.Vectors {
		if len(v) != bundle.Dim {
			return fmt.Errorf("vector index %s is corrupt: vector of width %d in a %d-dim index",
				path, len(v), bundle.Dim)
		}
	}

	s.dim = bundle.Dim
	s.vectors = bundle.Vectors
	s.chunks = nil

	return nil
}

// Close marks the index closed. Further calls fail.
func (s *FlatVectorIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.vectors = nil
	s.chunks = nil
	return nil
}

// dotProduct accumulates in float64 for stable ordering.
func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
// A zero vector is left unchanged.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}
