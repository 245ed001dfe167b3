package search

// Shared in-memory fakes for the retriever and engine tests. The
// indices serve canned hits regardless of the query so tests control
// ordering and scores exactly.

import (
	"context"

	"github.com/DocQA-Labs/docrag/internal/store"
)

type fakeKeywordIndex struct {
	hits  []store.KeywordHit
	err   error
	lastK int
	calls int
}

func (f *fakeKeywordIndex) Add(ctx context.Context, chunks []store.Chunk) error { return nil }

func (f *fakeKeywordIndex) Search(ctx context.Context, query string, k int) ([]store.KeywordHit, error) {
	f.calls++
	f.lastK = k
	if f.err != nil {
		return nil, f.err
	}
	hits := f.hits
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *fakeKeywordIndex) Len() int                   { return len(f.hits) }
func (f *fakeKeywordIndex) Stats() *store.KeywordStats { return &store.KeywordStats{} }
func (f *fakeKeywordIndex) Save(path string) error     { return nil }
func (f *fakeKeywordIndex) Load(path string) error     { return nil }
func (f *fakeKeywordIndex) Close() error               { return nil }

type fakeVectorIndex struct {
	hits  []store.VectorHit
	err   error
	lastK int
	calls int
}

func (f *fakeVectorIndex) Add(ctx context.Context, chunks []store.Chunk, vectors [][]float32) error {
	return nil
}

func (f *fakeVectorIndex) Search(ctx context.Context, query []float32, k int) ([]store.VectorHit, error) {
	f.calls++
	f.lastK = k
	if f.err != nil {
		return nil, f.err
	}
	hits := f.hits
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *fakeVectorIndex) SetChunks(chunks []store.Chunk) error { return nil }
func (f *fakeVectorIndex) Len() int                             { return len(f.hits) }
func (f *fakeVectorIndex) Dimensions() int                      { return 8 }
func (f *fakeVectorIndex) Save(path string) error               { return nil }
func (f *fakeVectorIndex) Load(path string) error               { return nil }
func (f *fakeVectorIndex) Close() error                         { return nil }

type fakeProvider struct {
	keyword map[string]store.KeywordIndex
	vector  map[string]store.VectorIndex
	kwErr   error
	vecErr  error
}

func (f *fakeProvider) KeywordIndexes(ctx context.Context) (map[string]store.KeywordIndex, error) {
	if f.kwErr != nil {
		return nil, f.kwErr
	}
	return f.keyword, nil
}

func (f *fakeProvider) VectorIndexes(ctx context.Context) (map[string]store.VectorIndex, error) {
	if f.vecErr != nil {
		return nil, f.vecErr
	}
	return f.vector, nil
}

func chunkOf(fileID string, ordinal, page int, text string) store.Chunk {
	return store.Chunk{
		ID:         store.ChunkID(fileID, ordinal),
		FileID:     fileID,
		Ordinal:    ordinal,
		Text:       text,
		PageNumber: page,
	}
}

func kwHit(fileID string, ordinal, page int, score float64) store.KeywordHit {
	return store.KeywordHit{Chunk: chunkOf(fileID, ordinal, page, "正文"), Score: score}
}

func vecHit(fileID string, ordinal, page int, similarity float64) store.VectorHit {
	return store.VectorHit{Chunk: chunkOf(fileID, ordinal, page, "正文"), Similarity: similarity}
}
