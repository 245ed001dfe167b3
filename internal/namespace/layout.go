package namespace

import (
	"path/filepath"

	"github.com/DocQA-Labs/docrag/internal/config"
)

// Layout maps namespaces onto the on-disk tree:
//
//	<data>/databases/vector_dbs/<tenant>/<scenario>/<file_id>_vector.faiss
//	<data>/databases/vector_dbs/<tenant>/<scenario>/<file_id>_chunks.json
//	<data>/databases/bm25/<tenant>/<scenario>/<file_id>.pkl
//	<data>/databases/meta/<tenant>/<scenario>/namespace.json
//	<data>/databases/cache/<tenant>/<scenario>.json
//	<data>/documents/<tenant>/<scenario>/
//
// The roots are plain strings so tests can point them anywhere.
type Layout struct {
	VectorRoot    string
	KeywordRoot   string
	DocumentsRoot string
	MetaRoot      string
	CacheRoot     string
}

// NewLayout derives the layout from the configured paths.
func NewLayout(p config.PathsConfig) Layout {
	return Layout{
		VectorRoot:    p.VectorDir(),
		KeywordRoot:   p.BM25Dir(),
		DocumentsRoot: p.DocumentsDir(),
		MetaRoot:      filepath.Join(p.DatabasesDir(), "meta"),
		CacheRoot:     p.CacheDir(),
	}
}

// VectorDir returns the namespace's vector index directory.
func (l Layout) VectorDir(id ID) string {
	return filepath.Join(l.VectorRoot, id.Tenant, id.Scenario)
}

// KeywordDir returns the namespace's keyword index directory.
func (l Layout) KeywordDir(id ID) string {
	return filepath.Join(l.KeywordRoot, id.Tenant, id.Scenario)
}

// DocumentsDir returns the namespace's document input directory.
func (l Layout) DocumentsDir(id ID) string {
	return filepath.Join(l.DocumentsRoot, id.Tenant, id.Scenario)
}

// MetaDir returns the namespace's metadata directory.
func (l Layout) MetaDir(id ID) string {
	return filepath.Join(l.MetaRoot, id.Tenant, id.Scenario)
}

// DescriptorPath returns the namespace descriptor file.
func (l Layout) DescriptorPath(id ID) string {
	return filepath.Join(l.MetaDir(id), "namespace.json")
}

// BuildLockPath returns the file lock taken while rebuilding indices,
// so two processes never write the same namespace at once.
func (l Layout) BuildLockPath(id ID) string {
	return filepath.Join(l.MetaDir(id), "build.lock")
}

// CacheSnapshotPath returns the answer-cache snapshot file.
func (l Layout) CacheSnapshotPath(id ID) string {
	return filepath.Join(l.CacheRoot, id.Tenant, id.Scenario+".json")
}
