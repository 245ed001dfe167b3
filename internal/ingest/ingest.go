// Package ingest builds a namespace's search indices from its
// documents directory. Pre-parsed chunk payloads pass through, text
// and markdown are chunked locally; every file gets a keyword index,
// a vector index and a chunk list, written atomically. A file lock
// keeps builds single-writer per namespace.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	ragerr "github.com/DocQA-Labs/docrag/internal/errors"
	"github.com/DocQA-Labs/docrag/internal/llm"
	"github.com/DocQA-Labs/docrag/internal/namespace"
	"github.com/DocQA-Labs/docrag/internal/store"
)

// Stage names a build phase for progress reporting.
type Stage string

// Build stages in pipeline order.
const (
	StageScanning  Stage = "scanning"
	StageChunking  Stage = "chunking"
	StageEmbedding Stage = "embedding"
	StageIndexing  Stage = "indexing"
)

// Event is one progress update during a build.
type Event struct {
	Stage   Stage
	Current int
	Total   int
	File    string
}

// Result summarizes a completed build.
type Result struct {
	// Parsed is the number of documents that produced chunks.
	Parsed int `json:"parsed"`

	// Indexed is the number of documents whose indices were written.
	Indexed int `json:"indexed"`

	// Chunks is the total chunk count across indexed documents.
	Chunks int `json:"chunks"`

	// Warnings counts documents skipped for parse failures.
	Warnings int `json:"warnings"`

	TotalTimeMs int64 `json:"total_time_ms"`
}

// Config tunes a build.
type Config struct {
	// ChunkSize and ChunkOverlap apply to text and markdown inputs,
	// in runes.
	ChunkSize    int
	ChunkOverlap int

	// Workers bounds the per-file build fan-out.
	Workers int

	// KeywordBackend and VectorBackend select the index
	// implementations written to disk.
	KeywordBackend string
	VectorBackend  string

	BM25   store.BM25Config
	Vector store.VectorConfig
}

// DefaultConfig returns the stock build settings.
func DefaultConfig() Config {
	return Config{
		ChunkSize:      DefaultChunkSize,
		ChunkOverlap:   DefaultChunkOverlap,
		Workers:        runtime.NumCPU(),
		KeywordBackend: string(store.KeywordBackendNative),
		VectorBackend:  string(store.VectorBackendFlat),
		BM25:           store.DefaultBM25Config(),
		Vector:         store.DefaultVectorConfig(0),
	}
}

// Builder runs namespace builds. One builder serves any number of
// namespaces; each Build call locks its own namespace.
type Builder struct {
	gateway    llm.Gateway
	layout     namespace.Layout
	cfg        Config
	onProgress func(Event)
}

// NewBuilder creates a builder. Zero config fields take the defaults.
func NewBuilder(gateway llm.Gateway, layout namespace.Layout, cfg Config) (*Builder, error) {
	if gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = def.ChunkOverlap
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.KeywordBackend == "" {
		cfg.KeywordBackend = def.KeywordBackend
	}
	if cfg.VectorBackend == "" {
		cfg.VectorBackend = def.VectorBackend
	}
	return &Builder{gateway: gateway, layout: layout, cfg: cfg}, nil
}

// SetProgress installs a progress callback. The callback is invoked
// from build goroutines and must be safe for concurrent use.
func (b *Builder) SetProgress(fn func(Event)) {
	b.onProgress = fn
}

func (b *Builder) progress(ev Event) {
	if b.onProgress != nil {
		b.onProgress(ev)
	}
}

// fileBuild pairs a parsed document with its chunks.
type fileBuild struct {
	doc    Document
	chunks []store.Chunk
}

// Build constructs every index of one namespace. Parse failures skip
// the document with a warning; embedding and write failures abort the
// whole build. With force, existing index trees are cleared first.
func (b *Builder) Build(ctx context.Context, id namespace.ID, force bool) (*Result, error) {
	start := time.Now()

	if err := os.MkdirAll(b.layout.MetaDir(id), 0755); err != nil {
		return nil, ragerr.IngestionError("failed to create metadata directory", err)
	}
	lock := flock.New(b.layout.BuildLockPath(id))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, ragerr.IngestionError("failed to acquire build lock", err)
	}
	if !locked {
		return nil, ragerr.New(ragerr.ErrCodeIngestion,
			fmt.Sprintf("namespace %s is already being built", id), nil).
			WithSuggestion("Wait for the running build to finish, or remove a stale build.lock if no build is running")
	}
	defer func() { _ = lock.Unlock() }()

	docsDir := b.layout.DocumentsDir(id)
	b.progress(Event{Stage: StageScanning})
	docs, err := ScanDocuments(docsDir)
	if err != nil {
		return nil, ragerr.IngestionError("failed to scan documents", err)
	}
	if len(docs) == 0 {
		return nil, ragerr.New(ragerr.ErrCodeIngestion,
			fmt.Sprintf("no documents found for namespace %s", id), nil).
			WithDetail("documents_dir", docsDir).
			WithSuggestion("Place chunk JSON, .txt or .md files under the documents directory and rerun prepare")
	}
	slog.Info("namespace build started",
		"namespace", id.String(), "documents", len(docs), "force", force)

	var builds []fileBuild
	warnings := 0
	for i, doc := range docs {
		b.progress(Event{Stage: StageChunking, Current: i + 1, Total: len(docs), File: doc.FileID})
		chunks, err := ParseDocument(doc, b.cfg.ChunkSize, b.cfg.ChunkOverlap)
		if err != nil {
			slog.Warn("document skipped",
				"namespace", id.String(), "file", doc.FileID, "error", err)
			warnings++
			continue
		}
		if len(chunks) == 0 {
			slog.Debug("document produced no chunks",
				"namespace", id.String(), "file", doc.FileID)
			warnings++
			continue
		}
		builds = append(builds, fileBuild{doc: doc, chunks: chunks})
	}
	if len(builds) == 0 {
		return nil, ragerr.New(ragerr.ErrCodeIngestion,
			fmt.Sprintf("no document in namespace %s could be parsed", id), nil)
	}

	vectorDir := b.layout.VectorDir(id)
	keywordDir := b.layout.KeywordDir(id)
	if force {
		for _, dir := range []string{vectorDir, keywordDir} {
			if err := os.RemoveAll(dir); err != nil {
				return nil, ragerr.IngestionError("failed to clear index directory", err)
			}
		}
	}
	for _, dir := range []string{vectorDir, keywordDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, ragerr.IngestionError("failed to create index directory", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)

	var mu sync.Mutex
	indexed, chunkTotal := 0, 0
	for _, fb := range builds {
		g.Go(func() error {
			b.progress(Event{Stage: StageEmbedding, Total: len(builds), File: fb.doc.FileID})
			if err := b.buildFile(gctx, id, fb.doc, fb.chunks); err != nil {
				return err
			}
			mu.Lock()
			indexed++
			chunkTotal += len(fb.chunks)
			current := indexed
			mu.Unlock()
			b.progress(Event{Stage: StageIndexing, Current: current, Total: len(builds), File: fb.doc.FileID})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, ragerr.IngestionError(
			fmt.Sprintf("namespace %s build failed", id), err)
	}

	b.saveDescriptor(id, indexed, chunkTotal)

	result := &Result{
		Parsed:      len(builds),
		Indexed:     indexed,
		Chunks:      chunkTotal,
		Warnings:    warnings,
		TotalTimeMs: time.Since(start).Milliseconds(),
	}
	slog.Info("namespace build complete",
		"namespace", id.String(),
		"parsed", result.Parsed,
		"indexed", result.Indexed,
		"chunks", result.Chunks,
		"warnings", result.Warnings,
		"elapsed_ms", result.TotalTimeMs)
	return result, nil
}

// buildFile embeds one document and writes its keyword index, vector
// index and chunk list.
func (b *Builder) buildFile(ctx context.Context, id namespace.ID, doc Document, chunks []store.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := b.gateway.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed %s: %w", doc.FileID, err)
	}
	if err := validateEmbeddings(doc.FileID, chunks, vectors, b.gateway.Dimensions()); err != nil {
		return err
	}

	keywordDir := b.layout.KeywordDir(id)
	basePath := store.KeywordBasePath(keywordDir, doc.FileID)
	removeKeywordArtifacts(basePath)
	kidx, err := store.NewKeywordIndexWithBackend(basePath, b.cfg.BM25, b.cfg.KeywordBackend)
	if err != nil {
		return fmt.Errorf("failed to create keyword index for %s: %w", doc.FileID, err)
	}
	if err := kidx.Add(ctx, chunks); err != nil {
		_ = kidx.Close()
		return fmt.Errorf("failed to index %s: %w", doc.FileID, err)
	}
	if err := kidx.Save(store.KeywordIndexPath(keywordDir, doc.FileID, b.cfg.KeywordBackend)); err != nil {
		_ = kidx.Close()
		return fmt.Errorf("failed to save keyword index for %s: %w", doc.FileID, err)
	}
	if err := kidx.Close(); err != nil {
		return fmt.Errorf("failed to close keyword index for %s: %w", doc.FileID, err)
	}

	vectorDir := b.layout.VectorDir(id)
	vectorBase := store.VectorBasePath(vectorDir, doc.FileID)
	removeVectorArtifacts(vectorDir, doc.FileID)
	vidx, err := store.NewVectorIndexWithBackend(vectorBase, b.cfg.Vector, b.cfg.VectorBackend)
	if err != nil {
		return fmt.Errorf("failed to create vector index for %s: %w", doc.FileID, err)
	}
	if err := vidx.Add(ctx, chunks, vectors); err != nil {
		_ = vidx.Close()
		return fmt.Errorf("failed to add vectors for %s: %w", doc.FileID, err)
	}
	if err := vidx.Save(store.VectorIndexPath(vectorDir, doc.FileID, b.cfg.VectorBackend)); err != nil {
		_ = vidx.Close()
		return fmt.Errorf("failed to save vector index for %s: %w", doc.FileID, err)
	}
	if err := vidx.Close(); err != nil {
		return fmt.Errorf("failed to close vector index for %s: %w", doc.FileID, err)
	}

	if err := store.SaveChunkList(store.ChunkListPath(vectorDir, doc.FileID), store.NewChunkList(chunks)); err != nil {
		return fmt.Errorf("failed to save chunk list for %s: %w", doc.FileID, err)
	}
	return nil
}

// saveDescriptor refreshes the namespace descriptor after a build.
// Best effort: indices are already on disk, a descriptor write
// failure only degrades listing metadata.
func (b *Builder) saveDescriptor(id namespace.ID, files, chunks int) {
	path := b.layout.DescriptorPath(id)
	d, err := namespace.LoadDescriptor(path)
	if err != nil {
		d = namespace.NewDescriptor(id)
	}
	d.Touch()
	d.UpdateIndexStats(files, chunks)
	if err := namespace.SaveDescriptor(path, d); err != nil {
		slog.Warn("descriptor write failed",
			"namespace", id.String(), "error", err)
	}
}

// validateEmbeddings enforces the index consistency contract before
// anything is written: one vector per chunk, uniform dimension, unit
// norms.
func validateEmbeddings(fileID string, chunks []store.Chunk, vectors [][]float32, dims int) error {
	if len(vectors) != len(chunks) {
		return ragerr.New(ragerr.ErrCodeIndexCorrupt,
			fmt.Sprintf("%s: %d embeddings for %d chunks", fileID, len(vectors), len(chunks)), nil)
	}
	for i, v := range vectors {
		if dims > 0 && len(v) != dims {
			return ragerr.New(ragerr.ErrCodeIndexCorrupt,
				fmt.Sprintf("%s: chunk %d has dimension %d, expected %d", fileID, i, len(v), dims), nil)
		}
		var normSq float64
		for _, x := range v {
			normSq += float64(x) * float64(x)
		}
		if math.IsNaN(normSq) || math.Abs(normSq-1) > 1e-5 {
			return ragerr.New(ragerr.ErrCodeIndexCorrupt,
				fmt.Sprintf("%s: chunk %d has a non-unit embedding (norm² %.6f)", fileID, i, normSq), nil)
		}
	}
	return nil
}

// removeKeywordArtifacts clears any previous keyword index of a file,
// regardless of which backend wrote it.
func removeKeywordArtifacts(basePath string) {
	_ = os.Remove(basePath + ".pkl")
	_ = os.RemoveAll(basePath + ".bleve")
}

// removeVectorArtifacts clears any previous vector index and chunk
// list of a file.
func removeVectorArtifacts(dir, fileID string) {
	basePath := store.VectorBasePath(dir, fileID)
	_ = os.Remove(basePath + ".faiss")
	_ = os.Remove(basePath + ".hnsw")
	_ = os.Remove(basePath + ".hnsw.meta")
	_ = os.Remove(store.ChunkListPath(dir, fileID))
}
