package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ChunkMeta is the per-chunk metadata record in a chunk list file.
type ChunkMeta struct {
	PageNumber int `json:"page_number"`
}

// ChunkList is the on-disk chunk file format: two index-aligned arrays,
// one of passage texts and one of metadata records. The arrays align
// with the vector index of the same file.
type ChunkList struct {
	Chunks        []string    `json:"chunks"`
	ChunkMetadata []ChunkMeta `json:"chunk_metadata"`
}

// NewChunkList builds a chunk list from materialized chunks.
func NewChunkList(chunks []Chunk) *ChunkList {
	cl := &ChunkList{
		Chunks:        make([]string, len(chunks)),
		ChunkMetadata: make([]ChunkMeta, len(chunks)),
	}
	for i, c := range chunks {
		cl.Chunks[i] = c.Text
		cl.ChunkMetadata[i] = ChunkMeta{PageNumber: c.PageNumber}
	}
	return cl
}

// Materialize turns the aligned arrays into chunks for fileID.
// Missing metadata entries yield page 0 (unknown); surplus entries are
// ignored.
func (cl *ChunkList) Materialize(fileID string) []Chunk {
	chunks := make([]Chunk, len(cl.Chunks))
	for i, text := range cl.Chunks {
		page := 0
		if i < len(cl.ChunkMetadata) {
			page = cl.ChunkMetadata[i].PageNumber
		}
		chunks[i] = Chunk{
			ID:         ChunkID(fileID, i),
			FileID:     fileID,
			Ordinal:    i,
			Text:       text,
			PageNumber: page,
		}
	}
	return chunks
}

// Len returns the number of chunk texts.
func (cl *ChunkList) Len() int {
	return len(cl.Chunks)
}

// SaveChunkList writes a chunk list as JSON with an atomic rename.
func SaveChunkList(path string, cl *ChunkList) error {
	return writeFileAtomic(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		return enc.Encode(cl)
	})
}

// LoadChunkList reads a chunk list file.
func LoadChunkList(path string) (*ChunkList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chunk list: %w", err)
	}
	var cl ChunkList
	if err := json.Unmarshal(data, &cl); err != nil {
		return nil, fmt.Errorf("decode chunk list %s: %w", path, err)
	}
	return &cl, nil
}

// writeFileAtomic writes through a temp file in the target directory and
// renames into place, so a crashed writer never leaves a torn file.
func writeFileAtomic(path string, write func(f *os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
