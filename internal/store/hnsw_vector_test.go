package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "github.com/DocQA-Labs/docrag/internal/errors"
)

func TestHNSWVectorIndex_AddAndSearch_Basic(t *testing.T) {
	// Given: a small graph of distinct directions
	idx, err := NewHNSWVectorIndex(DefaultVectorConfig(3))
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	chunks := chunksFromTexts("doc", "预算条款", "审批条款", "归档条款")
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	require.NoError(t, idx.Add(context.Background(), chunks, vectors))
	assert.Equal(t, 3, idx.Len())

	// When: querying close to the first direction
	hits, err := idx.Search(context.Background(), []float32{0.9, 0.1, 0}, 2)
	require.NoError(t, err)

	// Then: the matching chunk comes back first with its text attached
	require.NotEmpty(t, hits)
	assert.Equal(t, 0, hits[0].Chunk.Ordinal)
	assert.Equal(t, "预算条款", hits[0].Chunk.Text)
	assert.Greater(t, hits[0].Similarity, 0.95)
}

func TestHNSWVectorIndex_DimensionMismatch(t *testing.T) {
	idx, err := NewHNSWVectorIndex(DefaultVectorConfig(3))
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	err = idx.Add(context.Background(), chunksFromTexts("d", "一"), [][]float32{{1, 0}})
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeDimensionMismatch, ragerr.GetCode(err))

	require.NoError(t, idx.Add(context.Background(),
		chunksFromTexts("d", "一"), [][]float32{{1, 0, 0}}))

	_, err = idx.Search(context.Background(), []float32{1, 0}, 5)
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeDimensionMismatch, ragerr.GetCode(err))
}

func TestHNSWVectorIndex_Persistence_RoundTrip(t *testing.T) {
	// Given: a saved graph with its metadata sidecar
	path := filepath.Join(t.TempDir(), "doc_vector.hnsw")

	idx1, err := NewHNSWVectorIndex(DefaultVectorConfig(3))
	require.NoError(t, err)
	chunks := chunksFromTexts("doc", "第一段", "第二段", "第三段")
	vectors := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	require.NoError(t, idx1.Add(context.Background(), chunks, vectors))
	require.NoError(t, idx1.Save(path))
	require.NoError(t, idx1.Close())

	_, err = os.Stat(path + ".meta")
	require.NoError(t, err, "metadata sidecar must exist")

	// When: loading into a fresh index
	idx2, err := NewHNSWVectorIndex(VectorConfig{})
	require.NoError(t, err)
	defer func() { _ = idx2.Close() }()
	require.NoError(t, idx2.Load(path))
	assert.Equal(t, 3, idx2.Len())
	assert.Equal(t, 3, idx2.Dimensions())
	require.NoError(t, idx2.SetChunks(chunks))

	// Then: search finds the same neighbors
	hits, err := idx2.Search(context.Background(), []float32{0, 0.9, 0.1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "第二段", hits[0].Chunk.Text)
}

func TestHNSWVectorIndex_SetChunks_RequiresAlignment(t *testing.T) {
	idx, err := NewHNSWVectorIndex(DefaultVectorConfig(2))
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Add(context.Background(),
		chunksFromTexts("d", "一", "二"), [][]float32{{1, 0}, {0, 1}}))

	err = idx.SetChunks(chunksFromTexts("d", "一"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "misaligned")
}

func TestHNSWVectorIndex_Load_MissingMetadata(t *testing.T) {
	idx, err := NewHNSWVectorIndex(VectorConfig{})
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	err = idx.Load(filepath.Join(t.TempDir(), "absent.hnsw"))
	require.Error(t, err)
}

func TestHNSWVectorIndex_ClosedOperationsFail(t *testing.T) {
	idx, err := NewHNSWVectorIndex(DefaultVectorConfig(2))
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	err = idx.Add(context.Background(), chunksFromTexts("d", "一"), [][]float32{{1, 0}})
	assert.ErrorContains(t, err, "closed")

	_, err = idx.Search(context.Background(), []float32{1, 0}, 3)
	assert.ErrorContains(t, err, "closed")
}
