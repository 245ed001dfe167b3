package llm

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockGateway is a test double that counts calls
type mockGateway struct {
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	chatCalls  atomic.Int64
	dims       int
	model      string
}

func newMockGateway(dims int) *mockGateway {
	return &mockGateway{dims: dims, model: "mock-model"}
}

func (m *mockGateway) vectorFor(text string) []float32 {
	vec := make([]float32, m.dims)
	for i := range vec {
		vec[i] = float32(len(text)+i) * 0.001
	}
	return vec
}

func (m *mockGateway) Chat(ctx context.Context, req ChatRequest) (string, error) {
	m.chatCalls.Add(1)
	return "mock answer", nil
}

func (m *mockGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	return m.vectorFor(text), nil
}

func (m *mockGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	result := make([][]float32, len(texts))
	for i, text := range texts {
		result[i] = m.vectorFor(text)
	}
	return result, nil
}

func (m *mockGateway) Dimensions() int                  { return m.dims }
func (m *mockGateway) ModelName() string                { return m.model }
func (m *mockGateway) Available(_ context.Context) bool { return true }
func (m *mockGateway) Close() error                     { return nil }

func TestCachedGateway_Embed_SecondCallHitsCache(t *testing.T) {
	inner := newMockGateway(64)
	cached := NewCachedGateway(inner, 100)
	defer func() { _ = cached.Close() }()

	first, err := cached.Embed(context.Background(), "差旅费标准")
	require.NoError(t, err)
	second, err := cached.Embed(context.Background(), "差旅费标准")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.embedCalls.Load())
}

func TestCachedGateway_EmbedBatch_OnlyMissesReachInner(t *testing.T) {
	// Given: one text already cached
	inner := newMockGateway(64)
	cached := NewCachedGateway(inner, 100)
	defer func() { _ = cached.Close() }()

	_, err := cached.Embed(context.Background(), "预算")
	require.NoError(t, err)

	// When: a batch includes the cached text
	vecs, err := cached.EmbedBatch(context.Background(), []string{"预算", "审批"})
	require.NoError(t, err)

	// Then: results align with inputs and only one batch call went out
	require.Len(t, vecs, 2)
	assert.Equal(t, inner.vectorFor("预算"), vecs[0])
	assert.Equal(t, inner.vectorFor("审批"), vecs[1])
	assert.Equal(t, int64(1), inner.batchCalls.Load())

	// And: a fully cached batch skips the inner gateway entirely
	_, err = cached.EmbedBatch(context.Background(), []string{"预算", "审批"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.batchCalls.Load())
}

func TestCachedGateway_Chat_PassesThroughUncached(t *testing.T) {
	inner := newMockGateway(64)
	cached := NewCachedGateway(inner, 100)
	defer func() { _ = cached.Close() }()

	for i := 0; i < 3; i++ {
		_, err := cached.Chat(context.Background(), ChatRequest{Model: "m", User: "q"})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), inner.chatCalls.Load())
}

func TestCachedGateway_Passthroughs(t *testing.T) {
	inner := newMockGateway(512)
	cached := NewCachedGateway(inner, 0) // zero size falls back to default

	assert.Equal(t, 512, cached.Dimensions())
	assert.Equal(t, "mock-model", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, inner, cached.Inner())
}
