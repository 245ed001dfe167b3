package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	ragerr "github.com/DocQA-Labs/docrag/internal/errors"
)

// OpenAIConfig configures the OpenAI-compatible gateway.
type OpenAIConfig struct {
	BaseURL        string
	APIKey         string
	EmbeddingModel string

	// Dimensions pins the embedding dimension. 0 probes the provider
	// with a test embedding at construction.
	Dimensions int

	BatchSize    int
	ChatTimeout  time.Duration
	EmbedTimeout time.Duration

	// MaxRetries is the retry count on top of the initial attempt.
	MaxRetries int

	// SkipProbe skips the construction-time dimension probe.
	SkipProbe bool

	// PoolSize bounds idle connections to the endpoint.
	PoolSize int

	// EmbedCacheSize is the LRU capacity the factory uses when wrapping
	// the gateway with an embedding cache. 0 means DefaultEmbedCacheSize.
	EmbedCacheSize int
}

// DefaultOpenAIConfig returns the DashScope-compatible defaults.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:        "https://dashscope.aliyuncs.com/compatible-mode/v1",
		EmbeddingModel: "text-embedding-v3",
		BatchSize:      DefaultBatchSize,
		ChatTimeout:    DefaultChatTimeout,
		EmbedTimeout:   DefaultEmbedTimeout,
		MaxRetries:     4,
		PoolSize:       4,
	}
}

// OpenAIGateway talks to an OpenAI-compatible chat + embeddings service.
type OpenAIGateway struct {
	client    *openai.Client
	transport *http.Transport
	cfg       OpenAIConfig
	breaker   *ragerr.CircuitBreaker

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Gateway = (*OpenAIGateway)(nil)

// NewOpenAIGateway creates a gateway against cfg.BaseURL. Unless
// cfg.Dimensions is set or cfg.SkipProbe is true, it issues one test
// embedding to detect the vector dimension.
func NewOpenAIGateway(ctx context.Context, cfg OpenAIConfig) (*OpenAIGateway, error) {
	def := DefaultOpenAIConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = def.EmbeddingModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = def.ChatTimeout
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = def.EmbedTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}

	// Short idle timeout so CLI invocations clean their connections up
	// quickly after exit.
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	// No client-level timeout: per-attempt contexts carry the deadline,
	// and a static client timeout would override them.
	clientCfg.HTTPClient = &http.Client{Transport: transport}

	g := &OpenAIGateway{
		client:    openai.NewClientWithConfig(clientCfg),
		transport: transport,
		cfg:       cfg,
		breaker:   ragerr.NewCircuitBreaker("llm"),
		dims:      cfg.Dimensions,
	}

	if g.dims == 0 && !cfg.SkipProbe {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.EmbedTimeout)
		defer cancel()

		vecs, err := g.EmbedBatch(probeCtx, []string{"dimension probe"})
		if err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("failed to detect embedding dimensions: %w", err)
		}
		g.dims = len(vecs[0])
	}
	if g.dims == 0 {
		g.dims = DefaultDimensions
	}

	return g, nil
}

// errClass buckets a provider error for the retry loop.
type errClass int

const (
	classFatal errClass = iota
	classRetryable
	classThrottled
)

// classify normalizes provider errors. HTTP 429 is a throttle signal,
// 408 and 5xx are retryable, other statuses are fatal. Transport-level
// failures (resets, refused connections, attempt timeouts) default to
// retryable; the retry loop checks the parent context separately.
func classify(err error) errClass {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode)
	}
	return classRetryable
}

func classifyStatus(status int) errClass {
	switch {
	case status == http.StatusTooManyRequests:
		return classThrottled
	case status == http.StatusRequestTimeout:
		return classRetryable
	case status >= 500:
		return classRetryable
	default:
		return classFatal
	}
}

// callWithRetry runs fn under the given retry profile. Fatal errors
// stop immediately, throttle signals replace the backoff delay with
// ThrottleWait, and a dead parent context ends the loop.
func callWithRetry[T any](ctx context.Context, cfg ragerr.RetryConfig, op string, fn func() (T, error)) (T, error) {
	var zero T
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		class := classify(err)
		if class == classFatal {
			return zero, err
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		wait := delay
		if class == classThrottled {
			wait = ThrottleWait
			slog.Warn("llm_throttled",
				slog.String("op", op),
				slog.Duration("wait", wait))
		} else {
			slog.Debug("llm_retry",
				slog.String("op", op),
				slog.Int("attempt", attempt+1),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, cfg.MaxRetries+1, lastErr)
}

// guard rejects calls on a closed gateway or an open breaker before any
// request reaches the provider.
func (g *OpenAIGateway) guard() error {
	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed {
		return fmt.Errorf("gateway is closed")
	}
	if !g.breaker.Allow() {
		return ragerr.New(ragerr.ErrCodeLLMUpstream, "llm endpoint unavailable", ragerr.ErrCircuitOpen).
			WithDetail("breaker", g.breaker.Name()).
			WithSuggestion("The endpoint has been failing repeatedly. Wait for the breaker reset window and retry.")
	}
	return nil
}

// Chat runs one chat completion with the chat retry profile. Each
// exhausted retry loop counts as one failure against the breaker; a
// dead parent context does not.
func (g *OpenAIGateway) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if err := g.guard(); err != nil {
		return "", err
	}

	retryCfg := ragerr.ChatRetryConfig()
	retryCfg.MaxRetries = g.cfg.MaxRetries

	text, err := callWithRetry(ctx, retryCfg, "chat", func() (string, error) {
		return g.chatOnce(ctx, req)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		g.breaker.RecordFailure()
		return "", ragerr.New(ragerr.ErrCodeLLMUpstream, "chat completion failed", err).
			WithDetail("model", req.Model)
	}
	g.breaker.RecordSuccess()
	return text, nil
}

// chatOnce issues a single chat completion under the per-call deadline.
func (g *OpenAIGateway) chatOnce(ctx context.Context, req ChatRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.ChatTimeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	temperature := req.Temperature
	if temperature == 0 {
		// go-openai omits a zero temperature from the request body; the
		// smallest positive float keeps an explicit 0 on the wire.
		temperature = math.SmallestNonzeroFloat32
	}

	resp, err := g.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty chat response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed generates the embedding for a single text.
func (g *OpenAIGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in batches of cfg.BatchSize, pausing between
// batches with the adaptive delay. Blank texts become zero vectors
// without touching the provider. Returned vectors are L2-normalized.
func (g *OpenAIGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := g.guard(); err != nil {
		return nil, err
	}

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	pending := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, g.Dimensions())
		} else {
			pending = append(pending, i)
		}
	}

	retryCfg := ragerr.EmbedRetryConfig()
	retryCfg.MaxRetries = g.cfg.MaxRetries

	sent := 0
	for start := 0; start < len(pending); start += g.cfg.BatchSize {
		end := start + g.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}

		if sent > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interBatchDelay(sent)):
			}
		}

		batch := make([]string, 0, end-start)
		for _, idx := range pending[start:end] {
			batch = append(batch, texts[idx])
		}

		vecs, err := callWithRetry(ctx, retryCfg, "embed", func() ([][]float32, error) {
			return g.embedOnce(ctx, batch)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.breaker.RecordFailure()
			return nil, ragerr.New(ragerr.ErrCodeEmbedding, "embedding failed", err).
				WithDetail("model", g.cfg.EmbeddingModel)
		}
		if len(vecs) != len(batch) {
			g.breaker.RecordFailure()
			return nil, ragerr.New(ragerr.ErrCodeEmbedding,
				fmt.Sprintf("embedding count mismatch: sent %d texts, got %d vectors", len(batch), len(vecs)), nil)
		}
		g.breaker.RecordSuccess()

		for j, idx := range pending[start:end] {
			results[idx] = normalizeVector(vecs[j])
		}
		sent++
	}

	g.adoptDimensions(results)
	return results, nil
}

// embedOnce issues a single embedding request under the per-call deadline.
func (g *OpenAIGateway) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.EmbedTimeout)
	defer cancel()

	req := openai.EmbeddingRequest{
		Input: batch,
		Model: openai.EmbeddingModel(g.cfg.EmbeddingModel),
	}
	if g.cfg.Dimensions > 0 {
		req.Dimensions = g.cfg.Dimensions
	}

	resp, err := g.client.CreateEmbeddings(callCtx, req)
	if err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// adoptDimensions records the provider's dimension from the first
// non-empty result when none was configured.
func (g *OpenAIGateway) adoptDimensions(vecs [][]float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dims != 0 {
		return
	}
	for _, v := range vecs {
		if len(v) > 0 {
			g.dims = len(v)
			return
		}
	}
}

// Dimensions returns the embedding dimension.
func (g *OpenAIGateway) Dimensions() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.dims == 0 {
		return DefaultDimensions
	}
	return g.dims
}

// ModelName returns the embedding model identifier.
func (g *OpenAIGateway) ModelName() string {
	return g.cfg.EmbeddingModel
}

// Available checks endpoint reachability by listing models.
func (g *OpenAIGateway) Available(ctx context.Context) bool {
	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		return false
	}
	g.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := g.client.ListModels(checkCtx)
	return err == nil
}

// Close releases pooled connections.
func (g *OpenAIGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	g.transport.CloseIdleConnections()
	return nil
}
