// Package llm is the gateway to the chat-completion and embedding
// service. One interface covers both call families; retry, rate
// shaping and error normalization are composed around it so the rest
// of the pipeline never sees provider error types.
package llm

import (
	"context"
	"math"
	"time"
)

// Common gateway constants.
const (
	// DefaultBatchSize is the number of texts per embedding request.
	DefaultBatchSize = 10

	// MaxBatchSize caps a single embedding request.
	MaxBatchSize = 25

	// DefaultChatTimeout is the per-call deadline for chat completions.
	DefaultChatTimeout = 60 * time.Second

	// DefaultEmbedTimeout is the per-call deadline for one embedding batch.
	DefaultEmbedTimeout = 30 * time.Second

	// ThrottleWait is how long to hold off after an explicit throttle
	// signal before the next attempt.
	ThrottleWait = 10 * time.Second

	// DefaultDimensions is the embedding dimension assumed when the
	// provider is never probed (text-embedding-v3 default).
	DefaultDimensions = 1024
)

// Static provider constants.
const (
	// StaticDimensions is the embedding dimension of the offline provider.
	StaticDimensions = 256
)

// ChatRequest is one chat-completion call. The model is chosen by the
// caller: routing uses the fast model, generation the mid model,
// verification the quality model.
type ChatRequest struct {
	Model       string
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// Gateway is the uniform synchronous interface to the model service.
type Gateway interface {
	// Chat runs one chat completion and returns the response text.
	Chat(ctx context.Context, req ChatRequest) (string, error)

	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, batching and
	// rate-shaping internally. Vectors come back L2-normalized.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the embedding model identifier.
	ModelName() string

	// Available checks if the service is reachable.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// interBatchDelay is the adaptive pause before sending batch number n
// (1-based count of batches already sent): min(0.5 + 0.2·n, 3.0) seconds.
func interBatchDelay(n int) time.Duration {
	secs := 0.5 + 0.2*float64(n)
	if secs > 3.0 {
		secs = 3.0
	}
	return time.Duration(secs * float64(time.Second))
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // zero vector stays as-is
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
