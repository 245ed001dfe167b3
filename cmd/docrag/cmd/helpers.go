package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/DocQA-Labs/docrag/internal/config"
	"github.com/DocQA-Labs/docrag/internal/llm"
	"github.com/DocQA-Labs/docrag/internal/rag"
	"github.com/DocQA-Labs/docrag/internal/telemetry"
)

// newGateway builds the LLM gateway from the llm config block. The
// factory layers the provider env override and API-key fallbacks on top.
func newGateway(ctx context.Context, cfg *config.Config) (llm.Gateway, error) {
	gwCfg := llm.DefaultOpenAIConfig()
	if cfg.LLM.BaseURL != "" {
		gwCfg.BaseURL = cfg.LLM.BaseURL
	}
	if cfg.LLM.APIKey != "" {
		gwCfg.APIKey = cfg.LLM.APIKey
	}
	if cfg.LLM.EmbeddingModel != "" {
		gwCfg.EmbeddingModel = cfg.LLM.EmbeddingModel
	}
	if cfg.LLM.EmbeddingDimensions > 0 {
		gwCfg.Dimensions = cfg.LLM.EmbeddingDimensions
	}
	if cfg.LLM.EmbedCacheSize > 0 {
		gwCfg.EmbedCacheSize = cfg.LLM.EmbedCacheSize
	}
	gwCfg.ChatTimeout = config.DurationOrDefault(cfg.LLM.ChatTimeout, gwCfg.ChatTimeout)
	gwCfg.EmbedTimeout = config.DurationOrDefault(cfg.LLM.EmbedTimeout, gwCfg.EmbedTimeout)

	return llm.NewGateway(ctx, llm.ParseProvider(cfg.LLM.Provider), gwCfg)
}

// newOrchestrator assembles the full local pipeline: gateway,
// orchestrator and, when enabled, the telemetry collector. The returned
// cleanup releases all three.
func newOrchestrator(ctx context.Context, cfg *config.Config) (*rag.Orchestrator, func(), error) {
	gateway, err := newGateway(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	orch, err := rag.New(cfg, gateway)
	if err != nil {
		_ = gateway.Close()
		return nil, nil, err
	}

	var collector *telemetry.Collector
	if cfg.Telemetry.Enabled && cfg.Telemetry.DBPath != "" {
		if store, storeErr := telemetry.OpenStore(cfg.Telemetry.DBPath); storeErr == nil {
			collector = telemetry.NewCollector(store)
			orch.SetMetrics(collector)
		} else {
			slog.Warn("telemetry store unavailable, metrics disabled",
				slog.String("path", cfg.Telemetry.DBPath),
				slog.String("error", storeErr.Error()))
		}
	}

	cleanup := func() {
		if err := orch.Close(); err != nil {
			slog.Warn("orchestrator close failed", slog.String("error", err.Error()))
		}
		if collector != nil {
			_ = collector.Close()
		}
		_ = gateway.Close()
	}
	return orch, cleanup, nil
}

// splitNamespaceArgs accepts either "tenant scenario" or "tenant/scenario".
func splitNamespaceArgs(args []string) (tenant, scenario string, err error) {
	switch len(args) {
	case 1:
		t, s, found := strings.Cut(args[0], "/")
		if !found || t == "" || s == "" {
			return "", "", fmt.Errorf("expected tenant/scenario, got %q", args[0])
		}
		return t, s, nil
	case 2:
		return args[0], args[1], nil
	default:
		return "", "", fmt.Errorf("expected a tenant and a scenario")
	}
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// dirSize returns the total size of all files under a directory.
func dirSize(path string) int64 {
	var size int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}
