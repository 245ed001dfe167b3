package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DocQA-Labs/docrag/internal/llm"
)

// =============================================================================
// Document Router Tests
// =============================================================================
// Small candidate sets skip the model and keep everything at 0.9.
// The model path validates the strict JSON pick and falls back to the
// first topK positions at 0.7 on any misbehavior. An empty pick from a
// well-formed response passes through.
// =============================================================================

// --- Helpers ---

func routerMarkers() RouterConfig {
	return RouterConfig{
		Model:               "qwen-turbo",
		ContinuationMarkers: []string{"（续", "接上"},
		NonTerminalSuffixes: []string{"：", "，"},
	}
}

func routableChunks(n int) []*Hit {
	chunks := make([]*Hit, n)
	for i := range chunks {
		chunks[i] = &Hit{
			Chunk: chunkOf("doc.pdf", i, i+1, strings.Repeat("条款内容", 30)),
			Score: 1.0 - float64(i)*0.01,
		}
	}
	return chunks
}

func newScriptedRouter(t *testing.T, response string, err error) (*Router, *llm.StaticGateway) {
	t.Helper()
	gw := llm.NewStaticGateway(8)
	gw.SetChatFunc(func(ctx context.Context, req llm.ChatRequest) (string, error) {
		return response, err
	})
	return NewRouter(gw, routerMarkers()), gw
}

// --- Routing Tests ---

func TestRouter_SmallInputSelectsAll(t *testing.T) {
	// Given: fewer chunks than the budget
	gw := llm.NewStaticGateway(8)
	router := NewRouter(gw, routerMarkers())

	// When: routing
	decision := router.Route(context.Background(), routableChunks(3), "问题", "", 5)

	// Then: everything is kept at high confidence without a model call
	assert.Equal(t, []int{0, 1, 2}, decision.SelectedIndices)
	assert.Equal(t, 0.9, decision.Confidence)
	assert.Zero(t, gw.ChatCalls())
}

func TestRouter_ModelPickHonored(t *testing.T) {
	// Given: a model that picks two specific chunks
	router, _ := newScriptedRouter(t,
		`{"selected_indices":[4,1],"reasoning":"第5段直接回答问题","confidence":0.8,"should_expand":true}`, nil)

	// When: routing six chunks into a budget of two
	decision := router.Route(context.Background(), routableChunks(6), "问题", "", 2)

	// Then: the pick is returned as-is
	assert.Equal(t, []int{4, 1}, decision.SelectedIndices)
	assert.Equal(t, 0.8, decision.Confidence)
	assert.True(t, decision.ShouldExpand)
	assert.Equal(t, "第5段直接回答问题", decision.Reasoning)
}

func TestRouter_DedupesModelIndices(t *testing.T) {
	// Given: a model that repeats an index
	router, _ := newScriptedRouter(t,
		`{"selected_indices":[3,3,1],"reasoning":"重复","confidence":0.6,"should_expand":false}`, nil)

	// When: routing
	decision := router.Route(context.Background(), routableChunks(6), "问题", "", 3)

	// Then: duplicates collapse, order kept
	assert.Equal(t, []int{3, 1}, decision.SelectedIndices)
}

func TestRouter_EmptySelectionPassesThrough(t *testing.T) {
	// Given: a well-formed response that selects nothing
	router, _ := newScriptedRouter(t,
		`{"selected_indices":[],"reasoning":"没有相关片段","confidence":0.4,"should_expand":false}`, nil)

	// When: routing
	decision := router.Route(context.Background(), routableChunks(6), "问题", "", 2)

	// Then: the empty pick is passed through, not replaced by fallback
	assert.Empty(t, decision.SelectedIndices)
	assert.Equal(t, 0.4, decision.Confidence)
}

func TestRouter_FallbackCases(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
	}{
		{"non-json", "我选第1段和第3段", nil},
		{"out of range", `{"selected_indices":[7],"reasoning":"","confidence":0.8,"should_expand":false}`, nil},
		{"negative index", `{"selected_indices":[-1],"reasoning":"","confidence":0.8,"should_expand":false}`, nil},
		{"over budget", `{"selected_indices":[0,1,2],"reasoning":"","confidence":0.8,"should_expand":false}`, nil},
		{"bad confidence", `{"selected_indices":[0],"reasoning":"","confidence":1.5,"should_expand":false}`, nil},
		{"chat error", "", errors.New("upstream down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newScriptedRouter(t, tt.response, tt.err)

			decision := router.Route(context.Background(), routableChunks(6), "问题", "", 2)

			// The first topK positions at reduced confidence
			assert.Equal(t, []int{0, 1}, decision.SelectedIndices)
			assert.Equal(t, 0.7, decision.Confidence)
		})
	}
}

func TestRouter_NilGatewayFallsBack(t *testing.T) {
	router := NewRouter(nil, routerMarkers())

	decision := router.Route(context.Background(), routableChunks(6), "问题", "", 2)

	assert.Equal(t, []int{0, 1}, decision.SelectedIndices)
	assert.Equal(t, 0.7, decision.Confidence)
}

func TestRouter_EmptyChunks(t *testing.T) {
	router := NewRouter(llm.NewStaticGateway(8), routerMarkers())

	decision := router.Route(context.Background(), nil, "问题", "", 2)

	assert.Empty(t, decision.SelectedIndices)
	assert.Zero(t, decision.Confidence)
}

func TestRouter_PromptShape(t *testing.T) {
	// Given: twenty chunks, more than the prompt will show
	var mu sync.Mutex
	var captured llm.ChatRequest
	gw := llm.NewStaticGateway(8)
	gw.SetChatFunc(func(ctx context.Context, req llm.ChatRequest) (string, error) {
		mu.Lock()
		captured = req
		mu.Unlock()
		return `{"selected_indices":[0],"reasoning":"","confidence":0.9,"should_expand":false}`, nil
	})
	router := NewRouter(gw, routerMarkers())
	chunks := routableChunks(20)
	chunks[0].Chunk.Text = strings.Repeat("超长条款", 50)

	// When: routing with history
	_ = router.Route(context.Background(), chunks, "差旅住宿上限是多少", "第1轮：从20段中选出10段", 8)

	// Then: only the first fifteen candidates are numbered, previews
	// are truncated, and the budget and history are spelled out
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "qwen-turbo", captured.Model)
	assert.Equal(t, 400, captured.MaxTokens)
	assert.Zero(t, captured.Temperature)
	assert.Contains(t, captured.User, "[0] 来源:doc.pdf")
	assert.Contains(t, captured.User, "[14]")
	assert.NotContains(t, captured.User, "[15]")
	assert.Contains(t, captured.User, "最多选择8个")
	assert.Contains(t, captured.User, "导航记录：")
	assert.Contains(t, captured.User, "第1轮：从20段中选出10段")
	assert.Contains(t, captured.User, "差旅住宿上限是多少")

	// 150 runes of preview plus the ellipsis, newline-free
	lines := strings.Split(captured.User, "\n")
	var first string
	for _, l := range lines {
		if strings.HasPrefix(l, "[0]") {
			first = l
			break
		}
	}
	require.NotEmpty(t, first)
	assert.True(t, strings.HasSuffix(first, "…"))
	assert.Less(t, len([]rune(first)), 180)
}

// --- Expansion Heuristic Tests ---

func TestRouter_ShouldExpandContext(t *testing.T) {
	longBody := strings.Repeat("条款内容详见制度原文", 12) // 120 runes

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"ellipsis unicode", longBody + "…", true},
		{"ellipsis ascii", longBody + "...", true},
		{"colon suffix", longBody + "：", true},
		{"comma suffix", longBody + "，", true},
		{"short text", "见附录B", true},
		{"continuation marker", longBody + "（续上表）内容如下。", true},
		{"joining marker", longBody + "接上一节的规定。", true},
		{"complete sentence", longBody + "。", false},
		{"empty", "", false},
		{"whitespace only", "   ", false},
	}

	router := NewRouter(nil, routerMarkers())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, router.ShouldExpandContext(tt.text), "text=%q", tt.text)
		})
	}
}
