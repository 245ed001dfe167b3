package ingest

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/DocQA-Labs/docrag/internal/namespace"
	"github.com/DocQA-Labs/docrag/internal/store"
)

// IssueType classifies an index consistency problem.
type IssueType int

const (
	// IssueMissingVector means a file has a keyword index but no
	// vector index.
	IssueMissingVector IssueType = iota

	// IssueMissingKeyword means a file has a vector index but no
	// keyword index.
	IssueMissingKeyword

	// IssueMissingChunkList means a file has a vector index but no
	// chunk list next to it.
	IssueMissingChunkList

	// IssueCountMismatch means the chunk counts of a file's artifacts
	// disagree.
	IssueCountMismatch

	// IssueDimensionMismatch means a vector index was built with a
	// different embedding dimension than the one configured.
	IssueDimensionMismatch

	// IssueUnreadable means an artifact exists but cannot be loaded.
	IssueUnreadable
)

func (t IssueType) String() string {
	switch t {
	case IssueMissingVector:
		return "missing_vector"
	case IssueMissingKeyword:
		return "missing_keyword"
	case IssueMissingChunkList:
		return "missing_chunk_list"
	case IssueCountMismatch:
		return "count_mismatch"
	case IssueDimensionMismatch:
		return "dimension_mismatch"
	case IssueUnreadable:
		return "unreadable"
	default:
		return "unknown"
	}
}

// Issue is one consistency finding for one file.
type Issue struct {
	Type   IssueType `json:"type"`
	FileID string    `json:"file_id"`
	Detail string    `json:"detail"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s [%s]: %s", i.FileID, i.Type, i.Detail)
}

// CheckResult is the outcome of a namespace consistency check.
type CheckResult struct {
	// Checked is the number of distinct files examined.
	Checked int `json:"checked"`

	Issues []Issue `json:"issues,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Clean reports whether the check found no issues.
func (r *CheckResult) Clean() bool {
	return len(r.Issues) == 0
}

// CheckNamespace inspects one namespace's on-disk indices and reports
// every file whose artifacts are absent, misaligned or unreadable.
// expectedDims of 0 skips the dimension check. Missing index
// directories count as an empty, clean namespace.
func CheckNamespace(layout namespace.Layout, id namespace.ID, expectedDims int) (*CheckResult, error) {
	start := time.Now()

	keywordDir := layout.KeywordDir(id)
	vectorDir := layout.VectorDir(id)

	keywordFiles, err := listKeywordFiles(keywordDir)
	if err != nil {
		return nil, err
	}
	vectorFiles, chunkLists, err := listVectorFiles(vectorDir)
	if err != nil {
		return nil, err
	}

	fileIDs := make(map[string]bool, len(keywordFiles)+len(vectorFiles))
	for f := range keywordFiles {
		fileIDs[f] = true
	}
	for f := range vectorFiles {
		fileIDs[f] = true
	}
	ordered := make([]string, 0, len(fileIDs))
	for f := range fileIDs {
		ordered = append(ordered, f)
	}
	sort.Strings(ordered)

	result := &CheckResult{Checked: len(ordered)}
	for _, fileID := range ordered {
		result.Issues = append(result.Issues,
			checkFile(keywordDir, vectorDir, fileID,
				keywordFiles[fileID], vectorFiles[fileID], chunkLists[fileID],
				expectedDims)...)
	}
	result.Duration = time.Since(start)
	return result, nil
}

// checkFile runs every per-file check and returns the findings.
func checkFile(keywordDir, vectorDir, fileID string, hasKeyword, hasVector, hasChunkList bool, expectedDims int) []Issue {
	var issues []Issue
	report := func(t IssueType, format string, args ...any) {
		issues = append(issues, Issue{Type: t, FileID: fileID, Detail: fmt.Sprintf(format, args...)})
	}

	if hasKeyword && !hasVector {
		report(IssueMissingVector, "keyword index present, vector index absent")
	}
	if hasVector && !hasKeyword {
		report(IssueMissingKeyword, "vector index present, keyword index absent")
	}
	if hasVector && !hasChunkList {
		report(IssueMissingChunkList, "vector index present, chunk list absent")
	}

	keywordCount := -1
	if hasKeyword {
		basePath := store.KeywordBasePath(keywordDir, fileID)
		backend := store.DetectKeywordBackend(basePath)
		idx, err := store.NewKeywordIndexWithBackend(basePath, store.DefaultBM25Config(), string(backend))
		if err != nil {
			report(IssueUnreadable, "keyword index: %v", err)
		} else {
			keywordCount = idx.Len()
			_ = idx.Close()
		}
	}

	vectorCount := -1
	if hasVector {
		basePath := store.VectorBasePath(vectorDir, fileID)
		backend := store.DetectVectorBackend(basePath)
		idx, err := store.NewVectorIndexWithBackend(basePath, store.DefaultVectorConfig(0), string(backend))
		if err != nil {
			report(IssueUnreadable, "vector index: %v", err)
		} else {
			vectorCount = idx.Len()
			if expectedDims > 0 && idx.Dimensions() != expectedDims {
				report(IssueDimensionMismatch, "index dimension %d, embedder dimension %d", idx.Dimensions(), expectedDims)
			}
			_ = idx.Close()
		}
	}

	if hasChunkList {
		cl, err := store.LoadChunkList(store.ChunkListPath(vectorDir, fileID))
		switch {
		case err != nil:
			report(IssueUnreadable, "chunk list: %v", err)
		case vectorCount >= 0 && cl.Len() != vectorCount:
			report(IssueCountMismatch, "chunk list has %d chunks, vector index has %d", cl.Len(), vectorCount)
		}
	}
	if keywordCount >= 0 && vectorCount >= 0 && keywordCount != vectorCount {
		report(IssueCountMismatch, "keyword index has %d chunks, vector index has %d", keywordCount, vectorCount)
	}
	return issues
}

// listKeywordFiles scans a bm25 directory for index artifacts, keyed
// by file ID. A missing directory is an empty set.
func listKeywordFiles(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan keyword directory: %w", err)
	}
	files := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		switch {
		case !e.IsDir() && strings.HasSuffix(name, ".pkl"):
			files[strings.TrimSuffix(name, ".pkl")] = true
		case e.IsDir() && strings.HasSuffix(name, ".bleve"):
			files[strings.TrimSuffix(name, ".bleve")] = true
		}
	}
	return files, nil
}

// listVectorFiles scans a vector directory for index artifacts and
// chunk lists, keyed by file ID. A missing directory is an empty set.
func listVectorFiles(dir string) (indices, chunkLists map[string]bool, err error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan vector directory: %w", err)
	}
	indices = make(map[string]bool)
	chunkLists = make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, "_vector.faiss"):
			indices[strings.TrimSuffix(name, "_vector.faiss")] = true
		case strings.HasSuffix(name, "_vector.hnsw"):
			indices[strings.TrimSuffix(name, "_vector.hnsw")] = true
		case strings.HasSuffix(name, "_chunks.json"):
			chunkLists[strings.TrimSuffix(name, "_chunks.json")] = true
		}
	}
	return indices, chunkLists, nil
}
