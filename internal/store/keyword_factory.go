package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// KeywordBackend selects the keyword index implementation.
type KeywordBackend string

const (
	// KeywordBackendNative is the gob-persisted Okapi BM25 bundle
	// (default). One flat file per document, loaded whole.
	KeywordBackendNative KeywordBackend = "native"

	// KeywordBackendBleve uses bleve v2 with the same tokenizer.
	// One index directory per document, managed by bleve.
	KeywordBackendBleve KeywordBackend = "bleve"
)

// NewKeywordIndexWithBackend creates a KeywordIndex using the given
// backend. basePath is the index path without extension; the backend
// appends its own (".pkl" for native, ".bleve" for bleve). An existing
// index at that path is opened, otherwise an empty one is created.
// An empty basePath yields an in-memory index.
func NewKeywordIndexWithBackend(basePath string, cfg BM25Config, backend string) (KeywordIndex, error) {
	switch backend {
	case string(KeywordBackendNative), "":
		idx := NewBM25Index(cfg)
		if basePath != "" {
			path := basePath + ".pkl"
			if fileExists(path) {
				if err := idx.Load(path); err != nil {
					return nil, err
				}
			}
		}
		return idx, nil

	case string(KeywordBackendBleve):
		var path string
		if basePath != "" {
			path = basePath + ".bleve"
		}
		return NewBleveKeywordIndex(path)

	default:
		return nil, fmt.Errorf("unknown keyword backend: %s (valid options: native, bleve)", backend)
	}
}

// DetectKeywordBackend reports which backend an existing index uses,
// based on what is on disk. Returns an empty string if no index exists.
func DetectKeywordBackend(basePath string) KeywordBackend {
	if fileExists(basePath + ".pkl") {
		return KeywordBackendNative
	}
	if dirExists(basePath + ".bleve") {
		return KeywordBackendBleve
	}
	return ""
}

// KeywordBasePath returns the extension-less index path for a document
// inside a namespace's bm25 directory.
func KeywordBasePath(dir, fileID string) string {
	return filepath.Join(dir, fileID)
}

// KeywordIndexPath returns the full on-disk path for a document's
// keyword index under the given backend.
func KeywordIndexPath(dir, fileID, backend string) string {
	basePath := KeywordBasePath(dir, fileID)
	switch backend {
	case string(KeywordBackendBleve):
		return basePath + ".bleve"
	default:
		return basePath + ".pkl"
	}
}

// fileExists checks if a regular file exists at the given path.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirExists checks if a directory exists at the given path.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
