package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DocQA-Labs/docrag/internal/llm"
)

// Routing limits.
const (
	// maxRoutingCandidates caps how many chunks are shown to the model.
	maxRoutingCandidates = 15

	// routingSnippetRunes caps the preview length per candidate line.
	routingSnippetRunes = 150

	// shortChunkRunes marks a chunk as expansion-worthy below this
	// length.
	shortChunkRunes = 100
)

const routePromptTemplate = `你是文档检索路由器。根据问题从候选片段中挑选最相关的片段，严格按照JSON格式输出，不要输出任何其他内容。

问题：%s
%s候选片段：
%s
最多选择%d个片段。输出格式：
{"selected_indices": [0, 2], "reasoning": "选择理由", "confidence": 0.8, "should_expand": false}

要求：
- selected_indices：片段编号列表，按相关性从高到低
- confidence：0到1之间的小数
- should_expand：所选片段是否明显被截断`

// RoutingDecision is the model's (or the fallback's) pick of chunks.
type RoutingDecision struct {
	SelectedIndices []int   `json:"selected_indices"`
	Reasoning       string  `json:"reasoning"`
	Confidence      float64 `json:"confidence"`
	ShouldExpand    bool    `json:"should_expand"`
}

// RouterConfig configures document routing for one scenario.
type RouterConfig struct {
	// Model is the fast chat model used for routing.
	Model string

	// ContinuationMarkers and NonTerminalSuffixes drive the
	// truncation heuristic.
	ContinuationMarkers []string
	NonTerminalSuffixes []string
}

// Router picks the most relevant chunks for a question. Small inputs
// skip the model entirely; a model that misbehaves degrades to a
// positional pick.
type Router struct {
	gateway llm.Gateway
	cfg     RouterConfig
}

// NewRouter creates a router.
func NewRouter(gateway llm.Gateway, cfg RouterConfig) *Router {
	return &Router{gateway: gateway, cfg: cfg}
}

// Route selects up to topK chunk indices. When everything already
// fits, every index is selected at confidence 0.9 without a model
// call. Any model failure falls back to the first topK positions at
// confidence 0.7. An empty selection from a well-formed response is
// passed through: it means the model found nothing relevant.
func (r *Router) Route(ctx context.Context, chunks []*Hit, question, history string, topK int) RoutingDecision {
	if len(chunks) == 0 {
		return RoutingDecision{SelectedIndices: []int{}, Reasoning: "无候选片段", Confidence: 0}
	}
	if topK <= 0 {
		topK = len(chunks)
	}

	if len(chunks) <= topK {
		indices := make([]int, len(chunks))
		for i := range indices {
			indices[i] = i
		}
		return RoutingDecision{
			SelectedIndices: indices,
			Reasoning:       "候选片段数量未超出上限，全部保留",
			Confidence:      0.9,
		}
	}

	decision, ok := r.routeWithModel(ctx, chunks, question, history, topK)
	if !ok {
		return fallbackDecision(chunks, topK)
	}
	return decision
}

// routeWithModel sends the numbered candidates and parses the strict
// JSON pick. Indices are validated against the candidates actually
// shown.
func (r *Router) routeWithModel(ctx context.Context, chunks []*Hit, question, history string, topK int) (RoutingDecision, bool) {
	if r.gateway == nil {
		return RoutingDecision{}, false
	}

	shown := chunks
	if len(shown) > maxRoutingCandidates {
		shown = shown[:maxRoutingCandidates]
	}

	resp, err := r.gateway.Chat(ctx, llm.ChatRequest{
		Model:       r.cfg.Model,
		User:        r.buildPrompt(shown, question, history, topK),
		Temperature: 0,
		MaxTokens:   400,
	})
	if err != nil {
		slog.Debug("routing call failed", "error", err)
		return RoutingDecision{}, false
	}

	var decision RoutingDecision
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp)), &decision); err != nil {
		slog.Debug("routing response not json", "error", err)
		return RoutingDecision{}, false
	}

	decision.SelectedIndices = dedupeIndices(decision.SelectedIndices)
	if !validDecision(decision, len(shown), topK) {
		return RoutingDecision{}, false
	}
	return decision, true
}

// buildPrompt numbers the candidates, one line each with source file,
// score and a short preview.
func (r *Router) buildPrompt(shown []*Hit, question, history string, topK int) string {
	var b strings.Builder
	for i, h := range shown {
		fmt.Fprintf(&b, "[%d] 来源:%s 得分:%.3f 内容:%s\n",
			i, h.Chunk.FileID, h.Score, snippet(h.Chunk.Text, routingSnippetRunes))
	}

	historyBlock := ""
	if strings.TrimSpace(history) != "" {
		historyBlock = fmt.Sprintf("导航记录：\n%s\n", history)
	}

	return fmt.Sprintf(routePromptTemplate, question, historyBlock, b.String(), topK)
}

// ShouldExpandContext reports whether a chunk text looks truncated: an
// ellipsis or non-terminal suffix ending, a body shorter than
// shortChunkRunes, or an explicit continuation marker.
func (r *Router) ShouldExpandContext(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}

	if strings.HasSuffix(trimmed, "…") || strings.HasSuffix(trimmed, "...") {
		return true
	}
	for _, suffix := range r.cfg.NonTerminalSuffixes {
		if suffix != "" && strings.HasSuffix(trimmed, suffix) {
			return true
		}
	}
	if len([]rune(trimmed)) < shortChunkRunes {
		return true
	}
	return containsAny(trimmed, r.cfg.ContinuationMarkers)
}

// fallbackDecision keeps the first topK positions.
func fallbackDecision(chunks []*Hit, topK int) RoutingDecision {
	if topK > len(chunks) {
		topK = len(chunks)
	}
	indices := make([]int, topK)
	for i := range indices {
		indices[i] = i
	}
	return RoutingDecision{
		SelectedIndices: indices,
		Reasoning:       "路由模型不可用，保留排名靠前的片段",
		Confidence:      0.7,
	}
}

// validDecision checks the parsed pick: within bounds, within budget,
// confidence in [0,1]. An empty pick is valid.
func validDecision(d RoutingDecision, shown, topK int) bool {
	if len(d.SelectedIndices) > topK {
		return false
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return false
	}
	for _, idx := range d.SelectedIndices {
		if idx < 0 || idx >= shown {
			return false
		}
	}
	return true
}

// dedupeIndices drops duplicate positions, keeping first-mention order.
func dedupeIndices(indices []int) []int {
	seen := make(map[int]struct{}, len(indices))
	result := make([]int, 0, len(indices))
	for _, idx := range indices {
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		result = append(result, idx)
	}
	return result
}

// snippet returns the first n runes of text with newlines flattened.
func snippet(text string, n int) string {
	text = strings.ReplaceAll(text, "\n", " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "…"
}
