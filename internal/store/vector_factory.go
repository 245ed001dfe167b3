package store

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// VectorBackend selects the vector index implementation.
type VectorBackend string

const (
	// VectorBackendFlat is the exact brute-force index (default).
	VectorBackendFlat VectorBackend = "flat"

	// VectorBackendHNSW is the approximate graph index, opt-in for
	// large documents.
	VectorBackendHNSW VectorBackend = "hnsw"
)

// NewVectorIndexWithBackend creates a VectorIndex using the given
// backend. basePath is the index path without extension; the backend
// appends its own (".faiss" for flat, ".hnsw" for hnsw). An existing
// index at that path is opened, otherwise an empty one is created.
// An empty basePath yields an in-memory index.
func NewVectorIndexWithBackend(basePath string, cfg VectorConfig, backend string) (VectorIndex, error) {
	switch backend {
	case string(VectorBackendFlat), "":
		idx := NewFlatVectorIndex(cfg)
		if basePath != "" {
			path := basePath + ".faiss"
			if fileExists(path) {
				if err := idx.Load(path); err != nil {
					return nil, err
				}
			}
		}
		return idx, nil

	case string(VectorBackendHNSW):
		idx, err := NewHNSWVectorIndex(cfg)
		if err != nil {
			return nil, err
		}
		if basePath != "" {
			path := basePath + ".hnsw"
			if fileExists(path) {
				if err := idx.Load(path); err != nil {
					return nil, err
				}
			}
		}
		return idx, nil

	default:
		return nil, fmt.Errorf("unknown vector backend: %s (valid options: flat, hnsw)", backend)
	}
}

// DetectVectorBackend reports which backend an existing index uses,
// based on what is on disk. Returns an empty string if no index exists.
func DetectVectorBackend(basePath string) VectorBackend {
	if fileExists(basePath + ".faiss") {
		return VectorBackendFlat
	}
	if fileExists(basePath + ".hnsw") {
		return VectorBackendHNSW
	}
	return ""
}

// VectorBasePath returns the extension-less vector index path for a
// document inside a namespace's vector directory.
func VectorBasePath(dir, fileID string) string {
	return filepath.Join(dir, fileID+"_vector")
}

// VectorIndexPath returns the full on-disk path for a document's
// vector index under the given backend.
func VectorIndexPath(dir, fileID, backend string) string {
	basePath := VectorBasePath(dir, fileID)
	switch backend {
	case string(VectorBackendHNSW):
		return basePath + ".hnsw"
	default:
		return basePath + ".faiss"
	}
}

// ChunkListPath returns the on-disk path of a document's chunk list,
// which sits next to its vector index.
func ChunkListPath(dir, fileID string) string {
	return filepath.Join(dir, fileID+"_chunks.json")
}

// ReadVectorIndexDimensions reads the dimension of a persisted vector
// index without materializing it as a searchable index. Returns 0 if
// no index exists at basePath. Used by preflight to compare an index
// against the configured embedder.
func ReadVectorIndexDimensions(basePath string) (int, error) {
	switch DetectVectorBackend(basePath) {
	case VectorBackendFlat:
		f, err := os.Open(basePath + ".faiss")
		if err != nil {
			return 0, fmt.Errorf("open vector index: %w", err)
		}
		defer f.Close()

		var bundle flatBundle
		if err := gob.NewDecoder(f).Decode(&bundle); err != nil {
			return 0, fmt.Errorf("decode vector index: %w", err)
		}
		return bundle.Dim, nil

	case VectorBackendHNSW:
		meta, err := readHNSWMeta(basePath + ".hnsw.meta")
		if err != nil {
			return 0, err
		}
		return meta.Dim, nil

	default:
		return 0, nil
	}
}
