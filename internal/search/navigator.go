package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DocQA-Labs/docrag/internal/llm"
)

// Navigation limits.
const (
	// DefaultMaxRounds caps routing rounds per question.
	DefaultMaxRounds = 3

	// DefaultTargetTokens is the context budget the navigator narrows
	// toward.
	DefaultTargetTokens = 2000

	// navigatorFallbackChunks is how many input chunks survive a
	// recovered panic.
	navigatorFallbackChunks = 5

	// minChunksToNarrow stops narrowing once the set is this small.
	minChunksToNarrow = 3

	// maxComfortableChunks is the count that, together with the token
	// budget, ends narrowing successfully.
	maxComfortableChunks = 10

	// minRoutingTopK floors the per-round selection width.
	minRoutingTopK = 5
)

// NavigationResult is the narrowed chunk set plus the per-round trace.
type NavigationResult struct {
	Chunks []*Hit   `json:"chunks"`
	Trace  []string `json:"trace"`
	Rounds int      `json:"rounds"`
}

// NavigatorConfig bounds the navigation loop.
type NavigatorConfig struct {
	MaxRounds    int
	TargetTokens int
}

// Navigator iteratively narrows a candidate set with the router until
// it fits the token budget. It never fails: a dead routing path stops
// the loop with the current set, and a panic degrades to a prefix of
// the input.
type Navigator struct {
	router *Router
	cfg    NavigatorConfig
}

// NewNavigator creates a navigator. Zero config fields take the
// defaults.
func NewNavigator(router *Router, cfg NavigatorConfig) *Navigator {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.TargetTokens <= 0 {
		cfg.TargetTokens = DefaultTargetTokens
	}
	return &Navigator{router: router, cfg: cfg}
}

// Navigate narrows chunks toward the token budget in at most MaxRounds
// routing rounds, halving the set each round. The surviving hits are
// annotated with expansion flags; chunk text is never touched. The
// trace carries one line per narrowing round and feeds back into the
// next round's routing prompt.
func (n *Navigator) Navigate(ctx context.Context, chunks []*Hit, question string) (result NavigationResult) {
	var trace []string
	rounds := 0

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("navigation recovered from panic", "panic", rec)
			fallback := chunks
			if len(fallback) > navigatorFallbackChunks {
				fallback = fallback[:navigatorFallbackChunks]
			}
			result = NavigationResult{Chunks: fallback, Trace: trace, Rounds: rounds}
		}
	}()

	current := chunks
	for rounds < n.cfg.MaxRounds {
		tokens := totalTokens(current)
		if tokens <= n.cfg.TargetTokens && len(current) <= maxComfortableChunks {
			break
		}
		if len(current) <= minChunksToNarrow {
			break
		}

		topK := len(current) / 2
		if topK < minRoutingTopK {
			topK = minRoutingTopK
		}

		decision := n.router.Route(ctx, current, question, strings.Join(trace, "\n"), topK)
		if len(decision.SelectedIndices) == 0 || len(decision.SelectedIndices) >= len(current) {
			break
		}

		selected := make([]*Hit, 0, len(decision.SelectedIndices))
		for _, idx := range decision.SelectedIndices {
			selected = append(selected, current[idx])
		}

		rounds++
		trace = append(trace, fmt.Sprintf("第%d轮：从%d段中选出%d段（置信度%.2f）",
			rounds, len(current), len(selected), decision.Confidence))
		current = selected
	}

	for _, h := range current {
		h.NeedsExpansion = n.router.ShouldExpandContext(h.Chunk.Text)
	}

	return NavigationResult{Chunks: current, Trace: trace, Rounds: rounds}
}

// totalTokens sums the approximate token counts of the chunk texts.
func totalTokens(hits []*Hit) int {
	total := 0
	for _, h := range hits {
		total += llm.CountTokensApprox(h.Chunk.Text)
	}
	return total
}
