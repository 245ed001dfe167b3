package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWVectorIndex is the approximate vector backend, built on the pure
// Go coder/hnsw graph. Opt-in for large documents where brute force
// gets slow; the flat backend stays the default because it is exact.
// Graph keys are chunk ordinals.
type HNSWVectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	cfg    VectorConfig
	dim    int
	chunks []Chunk
	closed bool
}

// hnswMeta is the sidecar metadata persisted next to the graph file.
type hnswMeta struct {
	Dim      int
	Count    int
	M        int
	EfSearch int
}

// Verify interface implementation
var _ VectorIndex = (*HNSWVectorIndex)(nil)

// NewHNSWVectorIndex creates an empty HNSW index.
func NewHNSWVectorIndex(cfg VectorConfig) (*HNSWVectorIndex, error) {
	def := DefaultVectorConfig(cfg.Dimensions)
	if cfg.M <= 0 {
		cfg.M = def.M
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = def.EfSearch
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25 // level generation factor, roughly 1/ln(M)

	return &HNSWVectorIndex{
		graph: graph,
		cfg:   cfg,
		dim:   cfg.Dimensions,
	}, nil
}

// Add inserts chunk vectors keyed by ordinal. Each vector is copied
// and normalized before insertion. Ordinals must be unique.
func (s *HNSWVectorIndex) Add(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
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

	for i, chunk := range chunks {
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)

		s.graph.Add(hnsw.MakeNode(uint64(chunk.Ordinal), vec))
		s.chunks = append(s.chunks, chunk)
	}

	return nil
}

// Search returns the k nearest chunks by cosine similarity.
func (s *HNSWVectorIndex) Search(ctx context.Context, query []float32, k int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	if k <= 0 || s.graph.Len() == 0 {
		return []VectorHit{}, nil
	}

	if len(query) != s.dim {
		return nil, errDimensionMismatch(s.dim, len(query))
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	nodes := s.graph.Search(q, k)

	hits := make([]VectorHit, 0, len(nodes))
	for _, node := range nodes {
		chunk := s.chunkByOrdinal(int(node.Key))
		hits = append(hits, VectorHit{
			Chunk:      chunk,
			Similarity: dotProduct(q, node.Value),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Chunk.Ordinal < hits[j].Chunk.Ordinal
	})

	return hits, nil
}

// chunkByOrdinal resolves a graph key to its chunk. Callers hold the
// lock. A key without chunk data yields a bare ordinal-only chunk.
func (s *HNSWVectorIndex) chunkByOrdinal(ordinal int) Chunk {
	// Chunk lists are ordinal-ordered, so position usually matches.
	if ordinal >= 0 && ordinal < len(s.chunks) && s.chunks[ordinal].Ordinal == ordinal {
		return s.chunks[ordinal]
	}
	for i := range s.chunks {
		if s.chunks[i].Ordinal == ordinal {
			return s.chunks[i]
		}
	}
	return Chunk{Ordinal: ordinal}
}

// SetChunks attaches the aligned chunk list, typically after Load.
func (s *HNSWVectorIndex) SetChunks(chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if len(chunks) != s.graph.Len() {
		return fmt.Errorf("chunk list misaligned: %d chunks for %d vectors", len(chunks), s.graph.Len())
	}

	s.chunks = chunks
	return nil
}

// Len returns the number of stored vectors.
func (s *HNSWVectorIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return s.graph.Len()
}

// Dimensions returns the vector dimension, 0 if not yet fixed.
func (s *HNSWVectorIndex) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Save persists the graph and a metadata sidecar, both atomically.
func (s *HNSWVectorIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	err := writeFileAtomic(path, func(f *os.File) error {
		w := bufio.NewWriter(f)
		if err := s.graph.Export(w); err != nil {
			return fmt.Errorf("export graph: %w", err)
		}
		return w.Flush()
	})
	if err != nil {
		return err
	}

	meta := hnswMeta{
		Dim:      s.dim,
		Count:    s.graph.Len(),
		M:        s.cfg.M,
		EfSearch: s.cfg.EfSearch,
	}
	return writeFileAtomic(path+".meta", func(f *os.File) error {
		if err := gob.NewEncoder(f).Encode(&meta); err != nil {
			return fmt.Errorf("encode hnsw metadata: %w", err)
		}
		return nil
	})
}

// Load reads the metadata sidecar and imports the graph. The chunk
// list is cleared; call SetChunks with the matching chunks afterwards.
func (s *HNSWVectorIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	meta, err := readHNSWMeta(path + ".meta")
	if err != nil {
		return err
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = meta.M
	graph.EfSearch = meta.EfSearch
	graph.Ml = 0.25

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open hnsw index: %w", err)
	}
	defer f.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import graph %s: %w", path, err)
	}

	if graph.Len() != meta.Count {
		return fmt.Errorf("hnsw index %s is corrupt: %d nodes, metadata says %d",
			path, graph.Len(), meta.Count)
	}

	s.graph = graph
	s.dim = meta.Dim
	s.cfg.M = meta.M
	s.cfg.EfSearch = meta.EfSearch
	s.chunks = nil

	return nil
}

// readHNSWMeta decodes a metadata sidecar.
func readHNSWMeta(path string) (*hnswMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open hnsw metadata: %w", err)
	}
	defer f.Close()

	var meta hnswMeta
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode hnsw metadata %s: %w", path, err)
	}
	return &meta, nil
}

// Close releases the graph. Further calls fail.
func (s *HNSWVectorIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.graph = nil
	s.chunks = nil
	return nil
}
