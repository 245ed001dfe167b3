package ingest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/DocQA-Labs/docrag/internal/store"
)

// MaxDocumentSize is the largest input file a build will read. Larger
// files are skipped with a warning.
const MaxDocumentSize int64 = 100 * 1024 * 1024

// Kind classifies how a document file is turned into chunks.
type Kind string

// Document kinds.
const (
	// KindChunkList is a pre-parsed payload in the chunks.json shape.
	KindChunkList Kind = "chunks"

	// KindText is plain text, chunked by paragraphs.
	KindText Kind = "text"

	// KindMarkdown is markdown, chunked by headings then paragraphs.
	KindMarkdown Kind = "markdown"
)

// Document is one input file found in a namespace's documents
// directory. FileID keys every index artifact written for it.
type Document struct {
	FileID string
	Path   string
	Kind   Kind
	Size   int64
}

// ScanDocuments lists the buildable files in dir, sorted by file ID.
// A missing directory scans as empty. Hidden files, directories,
// oversized files and unsupported extensions are skipped.
func ScanDocuments(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read documents directory %s: %w", dir, err)
	}

	var docs []Document
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() > MaxDocumentSize {
			slog.Warn("skipping oversized document",
				"file", name, "size", info.Size(), "max", MaxDocumentSize)
			continue
		}

		var kind Kind
		var fileID string
		switch {
		case strings.HasSuffix(name, ".json"):
			kind = KindChunkList
			fileID = strings.TrimSuffix(name, ".json")
		case strings.HasSuffix(name, ".txt"):
			kind = KindText
			fileID = name
		case strings.HasSuffix(name, ".md"), strings.HasSuffix(name, ".markdown"):
			kind = KindMarkdown
			fileID = name
		default:
			slog.Debug("skipping unsupported document", "file", name)
			continue
		}

		docs = append(docs, Document{
			FileID: fileID,
			Path:   filepath.Join(dir, name),
			Kind:   kind,
			Size:   info.Size(),
		})
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].FileID < docs[j].FileID })
	return docs, nil
}

// ParseDocument turns one document into its chunk list. Chunk-list
// payloads pass through with their page metadata; text and markdown
// get synthetic ordinal pages.
func ParseDocument(doc Document, chunkSize, chunkOverlap int) ([]store.Chunk, error) {
	switch doc.Kind {
	case KindChunkList:
		cl, err := store.LoadChunkList(doc.Path)
		if err != nil {
			return nil, err
		}
		return compactChunks(doc.FileID, cl.Materialize(doc.FileID)), nil

	case KindText, KindMarkdown:
		content, err := os.ReadFile(doc.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read document %s: %w", doc.Path, err)
		}
		var texts []string
		if doc.Kind == KindMarkdown {
			texts = ChunkMarkdown(string(content), chunkSize, chunkOverlap)
		} else {
			texts = ChunkText(string(content), chunkSize, chunkOverlap)
		}
		return chunksFromTexts(doc.FileID, texts), nil

	default:
		return nil, fmt.Errorf("unsupported document kind %q", doc.Kind)
	}
}

// chunksFromTexts wraps chunked text in store records. Text inputs
// have no real pages, so the page is the 1-based ordinal.
func chunksFromTexts(fileID string, texts []string) []store.Chunk {
	chunks := make([]store.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = store.Chunk{
			ID:         store.ChunkID(fileID, i),
			FileID:     fileID,
			Ordinal:    i,
			Text:       text,
			PageNumber: i + 1,
		}
	}
	return chunks
}

// compactChunks drops blank chunks and renumbers the survivors so the
// keyword index and the vector chunk list assign identical IDs to the
// same text. Page metadata is preserved.
func compactChunks(fileID string, chunks []store.Chunk) []store.Chunk {
	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		c.ID = store.ChunkID(fileID, len(out))
		c.Ordinal = len(out)
		out = append(out, c)
	}
	return out
}
