package namespace

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/DocQA-Labs/docrag/internal/search"
	"github.com/DocQA-Labs/docrag/internal/store"
)

// ManagerConfig carries the index settings a load needs.
type ManagerConfig struct {
	BM25   store.BM25Config
	Vector store.VectorConfig

	// KeywordBackend and VectorBackend apply when the on-disk files do
	// not identify themselves. Existing files always win.
	KeywordBackend string
	VectorBackend  string
}

// DefaultManagerConfig returns the stock index settings.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BM25:           store.DefaultBM25Config(),
		Vector:         store.DefaultVectorConfig(0),
		KeywordBackend: string(store.KeywordBackendNative),
		VectorBackend:  string(store.VectorBackendFlat),
	}
}

// Manager loads and serves one namespace's per-document indices.
// Reads run concurrently; loading and invalidation take the write
// lock, so each namespace has a single writer. The returned maps are
// shared snapshots and must not be mutated by callers.
type Manager struct {
	id     ID
	layout Layout
	cfg    ManagerConfig

	mu      sync.RWMutex
	loaded  bool
	keyword map[string]store.KeywordIndex
	vector  map[string]store.VectorIndex
}

var _ search.IndexProvider = (*Manager)(nil)

// NewManager builds a lazy index loader for one namespace. Nothing is
// read from disk until the first index request.
func NewManager(id ID, layout Layout, cfg ManagerConfig) *Manager {
	if cfg.KeywordBackend == "" {
		cfg.KeywordBackend = string(store.KeywordBackendNative)
	}
	if cfg.VectorBackend == "" {
		cfg.VectorBackend = string(store.VectorBackendFlat)
	}
	return &Manager{
		id:     id,
		layout: layout,
		cfg:    cfg,
	}
}

// ID returns the namespace this manager serves.
func (m *Manager) ID() ID {
	return m.id
}

// KeywordIndexes returns the per-document keyword indices, loading
// them on first use.
func (m *Manager) KeywordIndexes(ctx context.Context) (map[string]store.KeywordIndex, error) {
	if err := m.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keyword, nil
}

// VectorIndexes returns the per-document vector indices, loading them
// on first use.
func (m *Manager) VectorIndexes(ctx context.Context) (map[string]store.VectorIndex, error) {
	if err := m.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vector, nil
}

// IsLoaded reports whether the indices are resident.
func (m *Manager) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Status summarizes the in-memory index state.
type Status struct {
	Loaded       bool `json:"loaded"`
	KeywordFiles int  `json:"keyword_files"`
	VectorFiles  int  `json:"vector_files"`
	Files        int  `json:"files"`
	Chunks       int  `json:"chunks"`
}

// Status reports what is currently resident. It never triggers a load.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		Loaded:       m.loaded,
		KeywordFiles: len(m.keyword),
		VectorFiles:  len(m.vector),
	}

	files := make(map[string]struct{}, len(m.keyword)+len(m.vector))
	for id := range m.keyword {
		files[id] = struct{}{}
	}
	for id := range m.vector {
		files[id] = struct{}{}
	}
	st.Files = len(files)

	// Chunk counts prefer the vector side, which knows pages too.
	for id := range files {
		if v, ok := m.vector[id]; ok {
			st.Chunks += v.Len()
			continue
		}
		st.Chunks += m.keyword[id].Len()
	}
	return st
}

// Invalidate drops the loaded indices so the next read reloads from
// disk. In-flight searches holding the old maps keep working until a
// closed index surfaces, which the retrievers log and skip.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

// Close releases all loaded indices.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
	return nil
}

func (m *Manager) closeLocked() {
	for fileID, idx := range m.keyword {
		if err := idx.Close(); err != nil {
			slog.Warn("keyword index close failed",
				"namespace", m.id.String(), "file", fileID, "error", err)
		}
	}
	for fileID, idx := range m.vector {
		if err := idx.Close(); err != nil {
			slog.Warn("vector index close failed",
				"namespace", m.id.String(), "file", fileID, "error", err)
		}
	}
	m.keyword = nil
	m.vector = nil
	m.loaded = false
}

// ensureLoaded performs the one-time load under the write lock.
func (m *Manager) ensureLoaded(ctx context.Context) error {
	m.mu.RLock()
	loaded := m.loaded
	m.mu.RUnlock()
	if loaded {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	m.keyword = m.loadKeywordIndexes()
	m.vector = m.loadVectorIndexes()
	m.loaded = true

	slog.Info("namespace indices loaded",
		"namespace", m.id.String(),
		"keyword_files", len(m.keyword),
		"vector_files", len(m.vector),
		"elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// loadKeywordIndexes opens every keyword index in the namespace's bm25
// directory. An unreadable index is logged and skipped; the rest of
// the namespace stays searchable.
func (m *Manager) loadKeywordIndexes() map[string]store.KeywordIndex {
	dir := m.layout.KeywordDir(m.id)
	indexes := make(map[string]store.KeywordIndex)

	for _, fileID := range discoverKeywordFiles(dir) {
		basePath := store.KeywordBasePath(dir, fileID)
		backend := string(store.DetectKeywordBackend(basePath))
		if backend == "" {
			backend = m.cfg.KeywordBackend
		}
		idx, err := store.NewKeywordIndexWithBackend(basePath, m.cfg.BM25, backend)
		if err != nil {
			slog.Warn("keyword index skipped",
				"namespace", m.id.String(), "file", fileID, "error", err)
			continue
		}
		indexes[fileID] = idx
	}
	return indexes
}

func (m *Manager) loadVectorIndexes() map[string]store.VectorIndex {
	dir := m.layout.VectorDir(m.id)
	indexes := make(map[string]store.VectorIndex)

	for _, fileID := range discoverVectorFiles(dir) {
		idx, err := m.loadVectorIndex(dir, fileID)
		if err != nil {
			slog.Warn("vector index skipped",
				"namespace", m.id.String(), "file", fileID, "error", err)
			continue
		}
		indexes[fileID] = idx
	}
	return indexes
}

// loadVectorIndex opens one document's vector index and attaches its
// chunk list from the sibling chunks file.
func (m *Manager) loadVectorIndex(dir, fileID string) (store.VectorIndex, error) {
	basePath := store.VectorBasePath(dir, fileID)
	backend := string(store.DetectVectorBackend(basePath))
	if backend == "" {
		backend = m.cfg.VectorBackend
	}

	idx, err := store.NewVectorIndexWithBackend(basePath, m.cfg.Vector, backend)
	if err != nil {
		return nil, err
	}

	cl, err := store.LoadChunkList(store.ChunkListPath(dir, fileID))
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	if err := idx.SetChunks(cl.Materialize(fileID)); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return idx, nil
}

// discoverKeywordFiles lists document IDs with a keyword index in dir.
// A missing directory is an empty namespace, not an error.
func discoverKeywordFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		switch {
		case !e.IsDir() && strings.HasSuffix(name, ".pkl"):
			ids = append(ids, strings.TrimSuffix(name, ".pkl"))
		case e.IsDir() && strings.HasSuffix(name, ".bleve"):
			ids = append(ids, strings.TrimSuffix(name, ".bleve"))
		}
	}
	sort.Strings(ids)
	return ids
}

// discoverVectorFiles lists document IDs with a vector index in dir.
func discoverVectorFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, "_vector.faiss"):
			ids = append(ids, strings.TrimSuffix(name, "_vector.faiss"))
		case strings.HasSuffix(name, "_vector.hnsw"):
			ids = append(ids, strings.TrimSuffix(name, "_vector.hnsw"))
		}
	}
	sort.Strings(ids)
	return ids
}
