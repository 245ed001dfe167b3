package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DocQA-Labs/docrag/internal/config"
	"github.com/DocQA-Labs/docrag/internal/llm"
	"github.com/DocQA-Labs/docrag/internal/namespace"
	"github.com/DocQA-Labs/docrag/internal/rag"
	"github.com/DocQA-Labs/docrag/internal/store"
)

// newPipeline builds an orchestrator over a temp data dir with a
// scripted static gateway, the full stack a CLI 'prepare' followed by
// 'ask' would exercise.
func newPipeline(t *testing.T) (*rag.Orchestrator, *config.Config) {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Paths.DataDir = t.TempDir()
	cfg.LLM.Provider = "static"

	gw := llm.NewStaticGateway(64)
	t.Cleanup(func() { _ = gw.Close() })

	gw.SetChatFunc(func(_ context.Context, req llm.ChatRequest) (string, error) {
		switch req.Model {
		case cfg.LLM.FastModel:
			return `{"question_type": "fact", "keywords": ["报销", "发票"], "difficulty": "simple", "category": "财务"}`, nil
		case cfg.LLM.QualityModel:
			return `{"is_valid": true, "confidence": 0.9, "reasoning": "回答与资料一致"}`, nil
		default:
			if strings.Contains(req.User, "资料：") {
				return "根据第2页，差旅报销需提供发票。", nil
			}
			return "基于通用知识的回答。", nil
		}
	})

	orch, err := rag.New(cfg, gw)
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Close() })

	return orch, cfg
}

// seedNamespace drops a chunk-list, text, and markdown document into
// the namespace's documents directory.
func seedNamespace(t *testing.T, cfg *config.Config, tenant, scenario string) namespace.ID {
	t.Helper()

	id, err := namespace.NewID(tenant, scenario)
	require.NoError(t, err)

	dir := namespace.NewLayout(cfg.Paths).DocumentsDir(id)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	cl := store.NewChunkList([]store.Chunk{
		{Text: "差旅报销需提供发票", PageNumber: 2},
		{Text: "合同签订流程说明", PageNumber: 5},
		{Text: "项目验收标准条款", PageNumber: 9},
	})
	require.NoError(t, store.SaveChunkList(filepath.Join(dir, "policy.pdf.json"), cl))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("差旅流程第一步\n\n差旅流程第二步"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guide.md"), []byte("# 报销规则\n需要审批\n\n# 附录\n特殊情况"), 0o644))

	return id
}

func TestPipeline_PrepareThenAsk(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a prepared namespace
	orch, cfg := newPipeline(t)
	seedNamespace(t, cfg, "acme", "support")

	ctx := context.Background()
	res, err := orch.PrepareNamespace(ctx, "acme", "support", false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Indexed)
	assert.Greater(t, res.Chunks, 0)

	// When: asking a question against it
	record, err := orch.ProcessQuestion(ctx, "acme", "support", "差旅报销需要什么材料？", "")

	// Then: the answer is grounded, cites pages, and passes verification
	require.NoError(t, err)
	assert.Equal(t, rag.ModeRAG, record.Mode)
	assert.Contains(t, record.Answer, "发票")
	assert.Contains(t, record.RelevantPages, 2)
	assert.NotEmpty(t, record.SourceChunks)
	assert.True(t, record.Verification.IsValid)
	assert.Greater(t, record.Confidence, 0.0)
}

func TestPipeline_StatusReflectsPreparedNamespace(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: one prepared and one untouched namespace
	orch, cfg := newPipeline(t)
	seedNamespace(t, cfg, "acme", "support")

	ctx := context.Background()
	_, err := orch.PrepareNamespace(ctx, "acme", "support", false)
	require.NoError(t, err)

	// When: querying status for both
	prepared, err := orch.GetStatus(ctx, "acme", "support")
	require.NoError(t, err)
	missing, err := orch.GetStatus(ctx, "acme", "billing")
	require.NoError(t, err)

	// Then: only the prepared one reports indexed content
	assert.True(t, prepared.Prepared)
	assert.Equal(t, 3, prepared.IndexedFiles)
	assert.Greater(t, prepared.IndexedChunks, 0)
	assert.False(t, missing.Prepared)
}

func TestPipeline_NamespacesAreIsolated(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: two tenants with their own corpora
	orch, cfg := newPipeline(t)
	seedNamespace(t, cfg, "acme", "support")
	seedNamespace(t, cfg, "globex", "support")

	ctx := context.Background()
	_, err := orch.PrepareNamespace(ctx, "acme", "support", false)
	require.NoError(t, err)
	_, err = orch.PrepareNamespace(ctx, "globex", "support", false)
	require.NoError(t, err)

	// When: asking in each namespace
	a, err := orch.ProcessQuestion(ctx, "acme", "support", "差旅报销需要什么材料？", "")
	require.NoError(t, err)
	b, err := orch.ProcessQuestion(ctx, "globex", "support", "差旅报销需要什么材料？", "")
	require.NoError(t, err)

	// Then: each answer is grounded only in its own namespace's chunks
	for _, src := range a.SourceChunks {
		assert.NotContains(t, src.ChunkID, "globex")
	}
	require.NotEmpty(t, a.SourceChunks)
	require.NotEmpty(t, b.SourceChunks)
}

func TestPipeline_InvalidateThenReprepare(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a prepared namespace with loaded indices
	orch, cfg := newPipeline(t)
	id := seedNamespace(t, cfg, "acme", "support")

	ctx := context.Background()
	_, err := orch.PrepareNamespace(ctx, "acme", "support", false)
	require.NoError(t, err)

	_, err = orch.ProcessQuestion(ctx, "acme", "support", "差旅报销需要什么材料？", "")
	require.NoError(t, err)
	require.NotEmpty(t, orch.LoadedNamespaces())

	// When: the namespace is invalidated and a document is added
	orch.InvalidateNamespace(id)
	dir := namespace.NewLayout(cfg.Paths).DocumentsDir(id)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.md"), []byte("新增报销上限说明"), 0o644))

	res, err := orch.PrepareNamespace(ctx, "acme", "support", true)
	require.NoError(t, err)

	// Then: the rebuild picks up the new document and asking still works
	assert.Equal(t, 4, res.Indexed)
	record, err := orch.ProcessQuestion(ctx, "acme", "support", "差旅报销需要什么材料？", "")
	require.NoError(t, err)
	assert.Equal(t, rag.ModeRAG, record.Mode)
}

func TestPipeline_PrepareEmptyNamespaceErrors(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an empty documents directory
	orch, cfg := newPipeline(t)
	id, err := namespace.NewID("acme", "empty")
	require.NoError(t, err)
	dir := namespace.NewLayout(cfg.Paths).DocumentsDir(id)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	// When: preparing it
	_, err = orch.PrepareNamespace(context.Background(), "acme", "empty", false)

	// Then: the build is refused
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no documents")
}

func TestPipeline_UnpreparedNamespaceFallsBackToPureLLM(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a namespace nothing was ever prepared for
	orch, _ := newPipeline(t)

	// When: asking a question with nothing to retrieve
	record, err := orch.ProcessQuestion(context.Background(), "acme", "fresh", "差旅报销需要什么材料？", "")

	// Then: the answer comes back ungrounded
	require.NoError(t, err)
	assert.Equal(t, rag.ModePureLLM, record.Mode)
	assert.Empty(t, record.SourceChunks)
}
