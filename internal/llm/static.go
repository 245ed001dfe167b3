package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
)

// Weights for static vector generation.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// StaticGateway is the offline provider: deterministic hash-based
// embeddings and scripted chat responses. No network, no model. Used
// by tests and air-gapped deployments; semantic quality is reduced but
// identical texts always embed identically.
type StaticGateway struct {
	mu     sync.RWMutex
	dims   int
	chatFn func(ctx context.Context, req ChatRequest) (string, error)
	closed bool

	chatCalls  atomic.Int64
	embedCalls atomic.Int64
}

var _ Gateway = (*StaticGateway)(nil)

// NewStaticGateway creates a static gateway. dims <= 0 uses
// StaticDimensions.
func NewStaticGateway(dims int) *StaticGateway {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticGateway{dims: dims}
}

// SetChatFunc installs a scripted chat handler. A nil handler restores
// the default canned response.
func (g *StaticGateway) SetChatFunc(fn func(ctx context.Context, req ChatRequest) (string, error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chatFn = fn
}

// Chat returns the scripted response, or a fixed offline notice when no
// script is installed. The notice is deliberately not JSON so that
// JSON-expecting callers exercise their fallback paths.
func (g *StaticGateway) Chat(ctx context.Context, req ChatRequest) (string, error) {
	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		return "", fmt.Errorf("gateway is closed")
	}
	fn := g.chatFn
	g.mu.RUnlock()

	g.chatCalls.Add(1)

	if fn != nil {
		return fn(ctx, req)
	}
	return "离线模式：无法生成模型回答，请检查服务配置。", nil
}

// Embed generates a deterministic embedding for a single text.
func (g *StaticGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		return nil, fmt.Errorf("gateway is closed")
	}
	g.mu.RUnlock()

	g.embedCalls.Add(1)

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, g.dims), nil
	}
	return normalizeVector(g.generateVector(trimmed)), nil
}

// EmbedBatch embeds each text independently.
func (g *StaticGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := g.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = vec
	}
	return results, nil
}

// generateVector buckets tokens and character trigrams into hashed
// dimensions. Shared vocabulary between two texts raises their cosine
// similarity.
func (g *StaticGateway) generateVector(text string) []float32 {
	vector := make([]float32, g.dims)

	for _, token := range staticTokens(text) {
		vector[hashToIndex(token, g.dims)] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	for _, ngram := range extractNgrams(normalized, ngramSize) {
		vector[hashToIndex(ngram, g.dims)] += ngramWeight
	}

	return vector
}

// staticTokens splits text into CJK ideographs (one token each) and
// lowercased alphanumeric runs.
func staticTokens(text string) []string {
	var tokens []string
	var run strings.Builder

	flush := func() {
		if run.Len() > 0 {
			tokens = append(tokens, strings.ToLower(run.String()))
			run.Reset()
		}
	}

	for _, r := range text {
		switch {
		case r >= 0x4E00 && r <= 0x9FFF:
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			run.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	return tokens
}

// normalizeForNgrams keeps letters and digits only, lowercased.
func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// extractNgrams extracts n-rune sliding windows.
func extractNgrams(text string, n int) []string {
	runes := []rune(text)
	if len(runes) < n {
		return []string{}
	}

	ngrams := make([]string, 0, len(runes)-n+1)
	for i := 0; i <= len(runes)-n; i++ {
		ngrams = append(ngrams, string(runes[i:i+n]))
	}
	return ngrams
}

// hashToIndex uses FNV-64 to map a string to a dimension.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// Dimensions returns the embedding dimension.
func (g *StaticGateway) Dimensions() int {
	return g.dims
}

// ModelName returns the model identifier.
func (g *StaticGateway) ModelName() string {
	return "static"
}

// Available reports readiness (always true until closed).
func (g *StaticGateway) Available(_ context.Context) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return !g.closed
}

// Close releases resources.
func (g *StaticGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// ChatCalls reports how many chat completions were requested.
func (g *StaticGateway) ChatCalls() int64 {
	return g.chatCalls.Load()
}

// EmbedCalls reports how many texts were embedded.
func (g *StaticGateway) EmbedCalls() int64 {
	return g.embedCalls.Load()
}
