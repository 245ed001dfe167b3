package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ProviderType selects a gateway backend.
type ProviderType string

const (
	// ProviderOpenAI talks to an OpenAI-compatible endpoint (default).
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic is the offline hash-based provider.
	ProviderStatic ProviderType = "static"
)

// NewGateway creates a gateway for the given provider. The
// DOCRAG_LLM_PROVIDER environment variable overrides the argument, and
// an empty API key falls back to DOCRAG_API_KEY then DASHSCOPE_API_KEY.
// The embedding path is wrapped with an LRU cache unless
// DOCRAG_EMBED_CACHE is set to false.
func NewGateway(ctx context.Context, provider ProviderType, cfg OpenAIConfig) (Gateway, error) {
	if env := os.Getenv("DOCRAG_LLM_PROVIDER"); env != "" {
		provider = ParseProvider(env)
	}

	var gateway Gateway
	switch provider {
	case ProviderStatic:
		gateway = NewStaticGateway(cfg.Dimensions)

	case ProviderOpenAI, "":
		if cfg.APIKey == "" {
			cfg.APIKey = firstEnv("DOCRAG_API_KEY", "DASHSCOPE_API_KEY")
		}
		g, err := NewOpenAIGateway(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("llm endpoint unavailable: %w\n\nTo fix:\n  1. Check base_url and api_key in the llm config block\n  2. Or run offline: DOCRAG_LLM_PROVIDER=static", err)
		}
		gateway = g

	default:
		return nil, fmt.Errorf("unknown llm provider: %s (valid options: openai, static)", provider)
	}

	if !isEmbedCacheDisabled() {
		size := cfg.EmbedCacheSize
		gateway = NewCachedGateway(gateway, size)
	}
	return gateway, nil
}

// ParseProvider converts a string to a ProviderType. Unrecognized
// values default to the OpenAI-compatible provider.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "static", "offline":
		return ProviderStatic
	case "openai", "dashscope":
		return ProviderOpenAI
	default:
		return ProviderOpenAI
	}
}

// String returns the string representation of the provider.
func (p ProviderType) String() string {
	return string(p)
}

// isEmbedCacheDisabled checks if the embedding cache is disabled via
// environment.
func isEmbedCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("DOCRAG_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// firstEnv returns the first non-empty value among the named
// environment variables.
func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
