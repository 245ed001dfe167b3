package namespace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DocQA-Labs/docrag/internal/store"
)

// =============================================================================
// Namespace Manager Tests
// =============================================================================
// The manager lazily loads every index file found under the namespace's
// directories on first access, serves concurrent readers from the loaded
// maps, and reloads from disk after Invalidate.
// =============================================================================

func TestManager_LoadsNamespaceFromDisk(t *testing.T) {
	// Given: two keyword files and one vector file on disk
	layout := testLayout(t)
	id := ID{Tenant: "t1", Scenario: "audit"}
	policy := nsChunks("policy.pdf", "差旅报销需提供发票", "合同签订流程说明", "项目验收标准条款")
	buildKeywordFixture(t, layout.KeywordDir(id), "policy.pdf", policy)
	buildKeywordFixture(t, layout.KeywordDir(id), "guide.pdf", nsChunks("guide.pdf", "员工手册总则"))
	buildVectorFixture(t, layout.VectorDir(id), "policy.pdf", policy[:2],
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}})

	m := NewManager(id, layout, DefaultManagerConfig())
	defer m.Close()

	// When: fetching the keyword side
	kw, err := m.KeywordIndexes(context.Background())

	// Then: both files are searchable
	require.NoError(t, err)
	require.Len(t, kw, 2)
	hits, err := kw["policy.pdf"].Search(context.Background(), "报销", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "差旅报销需提供发票", hits[0].Chunk.Text)
	assert.Equal(t, 1, hits[0].Chunk.PageNumber)

	// And: the vector side carries its chunk payloads
	vec, err := m.VectorIndexes(context.Background())
	require.NoError(t, err)
	require.Len(t, vec, 1)
	vhits, err := vec["policy.pdf"].Search(context.Background(), []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, vhits, 1)
	assert.Equal(t, "差旅报销需提供发票", vhits[0].Chunk.Text)
	assert.InDelta(t, 1.0, vhits[0].Similarity, 1e-5)

	assert.True(t, m.IsLoaded())
}

func TestManager_EmptyNamespaceLoadsEmpty(t *testing.T) {
	// A namespace with no index directories is empty, not an error.
	layout := testLayout(t)
	m := NewManager(ID{Tenant: "t9", Scenario: "fresh"}, layout, DefaultManagerConfig())
	defer m.Close()

	kw, err := m.KeywordIndexes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, kw)

	vec, err := m.VectorIndexes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, vec)
	assert.True(t, m.IsLoaded())
}

func TestManager_SkipsCorruptFiles(t *testing.T) {
	// Given: one valid and one corrupt file on each side
	layout := testLayout(t)
	id := ID{Tenant: "t1", Scenario: "audit"}
	good := nsChunks("good.pdf", "差旅报销需提供发票", "合同签订流程说明", "项目验收标准条款")
	buildKeywordFixture(t, layout.KeywordDir(id), "good.pdf", good)
	require.NoError(t, os.WriteFile(
		filepath.Join(layout.KeywordDir(id), "bad.pdf.pkl"), []byte("not an index"), 0644))

	buildVectorFixture(t, layout.VectorDir(id), "good.pdf", good[:2],
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}})
	buildVectorFixture(t, layout.VectorDir(id), "broken.pdf", good[:2],
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}})
	require.NoError(t, os.WriteFile(
		store.ChunkListPath(layout.VectorDir(id), "broken.pdf"), []byte("garbage"), 0644))

	m := NewManager(id, layout, DefaultManagerConfig())
	defer m.Close()

	// When: loading
	kw, err := m.KeywordIndexes(context.Background())
	require.NoError(t, err)
	vec, err := m.VectorIndexes(context.Background())
	require.NoError(t, err)

	// Then: the corrupt files are skipped, the valid ones survive
	assert.Len(t, kw, 1)
	assert.Contains(t, kw, "good.pdf")
	assert.Len(t, vec, 1)
	assert.Contains(t, vec, "good.pdf")
}

func TestManager_InvalidateForcesReload(t *testing.T) {
	// Given: a loaded namespace with one file
	layout := testLayout(t)
	id := ID{Tenant: "t1", Scenario: "audit"}
	buildKeywordFixture(t, layout.KeywordDir(id), "first.pdf",
		nsChunks("first.pdf", "差旅报销需提供发票"))

	m := NewManager(id, layout, DefaultManagerConfig())
	defer m.Close()
	kw, err := m.KeywordIndexes(context.Background())
	require.NoError(t, err)
	require.Len(t, kw, 1)

	// When: a second file appears on disk
	buildKeywordFixture(t, layout.KeywordDir(id), "second.pdf",
		nsChunks("second.pdf", "合同签订流程说明"))

	// Then: the loaded view is stable until Invalidate
	kw, err = m.KeywordIndexes(context.Background())
	require.NoError(t, err)
	assert.Len(t, kw, 1)

	m.Invalidate()
	assert.False(t, m.IsLoaded())

	kw, err = m.KeywordIndexes(context.Background())
	require.NoError(t, err)
	assert.Len(t, kw, 2)
}

func TestManager_StatusCountsUnion(t *testing.T) {
	// Given: a keyword-only file, a dual file, and a vector-only file
	layout := testLayout(t)
	id := ID{Tenant: "t1", Scenario: "audit"}
	a := nsChunks("a.pdf", "差旅报销需提供发票", "合同签订流程说明", "项目验收标准条款")
	b := nsChunks("b.pdf", "员工手册总则", "考勤管理制度")
	c := nsChunks("c.pdf", "供应商准入标准")
	buildKeywordFixture(t, layout.KeywordDir(id), "a.pdf", a)
	buildKeywordFixture(t, layout.KeywordDir(id), "b.pdf", b)
	buildVectorFixture(t, layout.VectorDir(id), "b.pdf", b, [][]float32{{1, 0}, {0, 1}})
	buildVectorFixture(t, layout.VectorDir(id), "c.pdf", c, [][]float32{{1, 0}})

	m := NewManager(id, layout, DefaultManagerConfig())
	defer m.Close()

	// Then: before loading the status is empty
	assert.False(t, m.Status().Loaded)
	assert.Zero(t, m.Status().Files)

	// When: loading
	_, err := m.KeywordIndexes(context.Background())
	require.NoError(t, err)

	// Then: files are a union, chunks are counted once per file
	st := m.Status()
	assert.True(t, st.Loaded)
	assert.Equal(t, 2, st.KeywordFiles)
	assert.Equal(t, 2, st.VectorFiles)
	assert.Equal(t, 3, st.Files)
	assert.Equal(t, 6, st.Chunks)
}

func TestManager_CanceledContext(t *testing.T) {
	layout := testLayout(t)
	m := NewManager(ID{Tenant: "t1", Scenario: "audit"}, layout, DefaultManagerConfig())
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.KeywordIndexes(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
