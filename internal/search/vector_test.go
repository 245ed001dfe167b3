package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "github.com/DocQA-Labs/docrag/internal/errors"
	"github.com/DocQA-Labs/docrag/internal/llm"
	"github.com/DocQA-Labs/docrag/internal/store"
)

// =============================================================================
// Dense Retriever Tests
// =============================================================================
// The query is embedded once through the gateway, every file
// contributes doubled-depth candidates, low-similarity hits are
// filtered, and ties resolve toward the larger file ID then the
// smaller ordinal.
// =============================================================================

func TestVectorRetriever_FiltersBelowMinSimilarity(t *testing.T) {
	// Given: one file whose hits straddle the similarity cutoff
	provider := &fakeProvider{vector: map[string]store.VectorIndex{
		"a.pdf": &fakeVectorIndex{hits: []store.VectorHit{
			vecHit("a.pdf", 0, 1, 0.9),
			vecHit("a.pdf", 1, 1, 0.6),
			vecHit("a.pdf", 2, 1, 0.4),
		}},
	}}
	retriever := NewVectorRetriever(provider, llm.NewStaticGateway(8), 0)

	// When: retrieving
	hits, err := retriever.Retrieve(context.Background(), "差旅报销流程", 5)

	// Then: only hits at or above the default cutoff survive
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 0.9, hits[0].Score)
	assert.Equal(t, 0.6, hits[1].Score)
	for i, h := range hits {
		assert.Equal(t, i+1, h.Rank)
		assert.Equal(t, i+1, h.VectorRank)
		assert.Equal(t, SourceVector, h.Source)
		assert.Equal(t, h.Score, h.VectorScore)
	}
}

func TestVectorRetriever_TieBreaksByLargerFileThenOrdinal(t *testing.T) {
	// Given: three chunks with identical similarity across two files
	provider := &fakeProvider{vector: map[string]store.VectorIndex{
		"a.pdf": &fakeVectorIndex{hits: []store.VectorHit{
			vecHit("a.pdf", 1, 1, 0.8),
		}},
		"b.pdf": &fakeVectorIndex{hits: []store.VectorHit{
			vecHit("b.pdf", 2, 1, 0.8),
			vecHit("b.pdf", 0, 1, 0.8),
		}},
	}}
	retriever := NewVectorRetriever(provider, llm.NewStaticGateway(8), 0.5)

	// When: retrieving
	hits, err := retriever.Retrieve(context.Background(), "预算审批", 3)

	// Then: the larger file ID wins, then the smaller ordinal
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, store.ChunkID("b.pdf", 0), hits[0].Chunk.ID)
	assert.Equal(t, store.ChunkID("b.pdf", 2), hits[1].Chunk.ID)
	assert.Equal(t, store.ChunkID("a.pdf", 1), hits[2].Chunk.ID)
}

func TestVectorRetriever_EmbeddingFailurePropagates(t *testing.T) {
	// Given: a gateway that can no longer embed
	gw := llm.NewStaticGateway(8)
	require.NoError(t, gw.Close())
	provider := &fakeProvider{vector: map[string]store.VectorIndex{
		"a.pdf": &fakeVectorIndex{hits: []store.VectorHit{vecHit("a.pdf", 0, 1, 0.9)}},
	}}
	retriever := NewVectorRetriever(provider, gw, 0.5)

	// When: retrieving
	_, err := retriever.Retrieve(context.Background(), "预算审批", 3)

	// Then: the embedding failure surfaces with its code
	require.Error(t, err)
	assert.ErrorIs(t, err, ragerr.ErrEmbedding)
}

func TestVectorRetriever_NoIndicesSkipsEmbedding(t *testing.T) {
	// Given: a namespace without vector indices
	gw := llm.NewStaticGateway(8)
	retriever := NewVectorRetriever(&fakeProvider{}, gw, 0.5)

	// When: retrieving
	hits, err := retriever.Retrieve(context.Background(), "预算审批", 3)

	// Then: empty result and the gateway was never asked
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Zero(t, gw.EmbedCalls())
}

func TestVectorRetriever_SkipsBrokenFile(t *testing.T) {
	// Given: one broken index next to a healthy one
	provider := &fakeProvider{vector: map[string]store.VectorIndex{
		"broken.pdf": &fakeVectorIndex{err: errors.New("dimension mismatch")},
		"good.pdf": &fakeVectorIndex{hits: []store.VectorHit{
			vecHit("good.pdf", 0, 1, 0.7),
		}},
	}}
	retriever := NewVectorRetriever(provider, llm.NewStaticGateway(8), 0.5)

	// When: retrieving
	hits, err := retriever.Retrieve(context.Background(), "审批流程", 5)

	// Then: the surviving file still answers
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "good.pdf", hits[0].Chunk.FileID)
}

func TestVectorRetriever_RequestsDoubledDepthPerFile(t *testing.T) {
	// Given: a single file
	idx := &fakeVectorIndex{hits: []store.VectorHit{vecHit("a.pdf", 0, 1, 0.9)}}
	provider := &fakeProvider{vector: map[string]store.VectorIndex{"a.pdf": idx}}
	retriever := NewVectorRetriever(provider, llm.NewStaticGateway(8), 0.5)

	// When: retrieving the top 3
	_, err := retriever.Retrieve(context.Background(), "归档要求", 3)

	// Then: the file was asked for k·2 candidates
	require.NoError(t, err)
	assert.Equal(t, 6, idx.lastK)
}

func TestVectorRetriever_TruncatesToK(t *testing.T) {
	provider := &fakeProvider{vector: map[string]store.VectorIndex{
		"a.pdf": &fakeVectorIndex{hits: []store.VectorHit{
			vecHit("a.pdf", 0, 1, 0.95),
			vecHit("a.pdf", 1, 1, 0.90),
			vecHit("a.pdf", 2, 1, 0.85),
		}},
	}}
	retriever := NewVectorRetriever(provider, llm.NewStaticGateway(8), 0.5)

	hits, err := retriever.Retrieve(context.Background(), "制度", 2)

	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestVectorRetriever_ProviderError(t *testing.T) {
	retriever := NewVectorRetriever(&fakeProvider{vecErr: errors.New("namespace unavailable")},
		llm.NewStaticGateway(8), 0.5)

	_, err := retriever.Retrieve(context.Background(), "制度", 3)

	assert.ErrorContains(t, err, "namespace unavailable")
}
