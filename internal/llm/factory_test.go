package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		input string
		want  ProviderType
	}{
		{"openai", ProviderOpenAI},
		{"dashscope", ProviderOpenAI},
		{"OpenAI", ProviderOpenAI},
		{"static", ProviderStatic},
		{"offline", ProviderStatic},
		{" STATIC ", ProviderStatic},
		{"", ProviderOpenAI},
		{"mystery", ProviderOpenAI},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.input), func(t *testing.T) {
			assert.Equal(t, tt.want, ParseProvider(tt.input))
		})
	}
}

func TestNewGateway_StaticProvider(t *testing.T) {
	t.Setenv("DOCRAG_LLM_PROVIDER", "")
	t.Setenv("DOCRAG_EMBED_CACHE", "")

	g, err := NewGateway(context.Background(), ProviderStatic, OpenAIConfig{Dimensions: 64})
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	// The embedding path is cache-wrapped by default.
	cached, ok := g.(*CachedGateway)
	require.True(t, ok)
	assert.IsType(t, &StaticGateway{}, cached.Inner())
	assert.Equal(t, 64, g.Dimensions())
}

func TestNewGateway_EnvOverridesProvider(t *testing.T) {
	t.Setenv("DOCRAG_LLM_PROVIDER", "static")
	t.Setenv("DOCRAG_EMBED_CACHE", "")

	// The argument says openai, the environment wins. No endpoint is
	// contacted.
	g, err := NewGateway(context.Background(), ProviderOpenAI, OpenAIConfig{BaseURL: "http://localhost:1"})
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	cached, ok := g.(*CachedGateway)
	require.True(t, ok)
	assert.IsType(t, &StaticGateway{}, cached.Inner())
}

func TestNewGateway_CacheDisabledByEnv(t *testing.T) {
	t.Setenv("DOCRAG_LLM_PROVIDER", "")
	t.Setenv("DOCRAG_EMBED_CACHE", "false")

	g, err := NewGateway(context.Background(), ProviderStatic, OpenAIConfig{})
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	assert.IsType(t, &StaticGateway{}, g)
}

func TestNewGateway_APIKeyFromEnv(t *testing.T) {
	t.Setenv("DOCRAG_LLM_PROVIDER", "")
	t.Setenv("DOCRAG_EMBED_CACHE", "")
	t.Setenv("DOCRAG_API_KEY", "env-key")

	g, err := NewGateway(context.Background(), ProviderOpenAI, OpenAIConfig{
		BaseURL:    "http://localhost:1",
		Dimensions: 4,
		SkipProbe:  true,
	})
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	cached, ok := g.(*CachedGateway)
	require.True(t, ok)
	inner, ok := cached.Inner().(*OpenAIGateway)
	require.True(t, ok)
	assert.Equal(t, "env-key", inner.cfg.APIKey)
}

func TestNewGateway_UnknownProvider(t *testing.T) {
	t.Setenv("DOCRAG_LLM_PROVIDER", "")

	_, err := NewGateway(context.Background(), ProviderType("weird"), OpenAIConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown llm provider: weird")
	assert.Contains(t, err.Error(), "openai, static")
}

func TestNewGateway_EndpointFailureHintsOffline(t *testing.T) {
	t.Setenv("DOCRAG_LLM_PROVIDER", "")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Invalid API key","type":"invalid_request_error"}}`)
	}))
	t.Cleanup(srv.Close)

	_, err := NewGateway(context.Background(), ProviderOpenAI, OpenAIConfig{
		BaseURL: srv.URL,
		APIKey:  "bad-key",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm endpoint unavailable")
	assert.Contains(t, err.Error(), "DOCRAG_LLM_PROVIDER=static")
}
