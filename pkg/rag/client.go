package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DocQA-Labs/docrag/internal/config"
	"github.com/DocQA-Labs/docrag/internal/llm"
	"github.com/DocQA-Labs/docrag/internal/namespace"
	"github.com/DocQA-Labs/docrag/internal/rag"
	"github.com/DocQA-Labs/docrag/internal/telemetry"
)

// Answer is one answered question.
type Answer struct {
	// Answer is the generated answer text.
	Answer string

	// Mode is "rag" when the answer is grounded in retrieved documents
	// and "pure_llm" when the model answered on its own.
	Mode string

	// Confidence is the verifier's confidence in [0, 1].
	Confidence float64

	// Pages are the distinct cited page numbers, ascending.
	Pages []int

	// Sources are the passages the answer was grounded on, best first.
	Sources []Source

	// Verified is false when verification flagged the answer.
	Verified bool

	// Reasoning is the verifier's explanation, when it ran.
	Reasoning string

	// Elapsed is the end-to-end processing time.
	Elapsed time.Duration
}

// Source is one retrieved passage.
type Source struct {
	File  string
	Page  int
	Score float64
	Text  string
}

// PrepareResult summarizes a namespace build.
type PrepareResult struct {
	Parsed  int
	Indexed int
	Chunks  int
	Elapsed time.Duration
}

// Status describes a namespace.
type Status struct {
	Prepared      bool
	IndexedFiles  int
	IndexedChunks int
	LastIndexed   time.Time
	IndicesLoaded bool
}

// options collects Open configuration.
type options struct {
	projectDir string
	config     *config.Config
	gateway    llm.Gateway
	telemetry  bool
}

// Option configures Open.
type Option func(*options)

// WithProjectDir anchors config discovery and the data directory at
// dir. Defaults to the current directory.
func WithProjectDir(dir string) Option {
	return func(o *options) { o.projectDir = dir }
}

// WithConfig supplies a prebuilt configuration, skipping file and
// environment loading. Mostly for tests.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithGateway supplies an LLM gateway, overriding the configured
// provider. The client does not close a supplied gateway.
func WithGateway(gw llm.Gateway) Option {
	return func(o *options) { o.gateway = gw }
}

// WithTelemetry enables question metrics collection when the config
// has a telemetry database path.
func WithTelemetry(enabled bool) Option {
	return func(o *options) { o.telemetry = enabled }
}

// Client is an embedded docrag pipeline.
type Client struct {
	orch        *rag.Orchestrator
	gateway     llm.Gateway
	ownsGateway bool
	collector   *telemetry.Collector
}

// Open builds a client. The context bounds gateway construction (the
// OpenAI provider probes the embedding endpoint once).
func Open(ctx context.Context, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.config
	if cfg == nil {
		dir := o.projectDir
		if dir == "" {
			dir = "."
		}
		loaded, err := config.Load(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	gateway := o.gateway
	ownsGateway := false
	if gateway == nil {
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

		gw, err := llm.NewGateway(ctx, llm.ParseProvider(cfg.LLM.Provider), gwCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build gateway: %w", err)
		}
		gateway = gw
		ownsGateway = true
	}

	orch, err := rag.New(cfg, gateway)
	if err != nil {
		if ownsGateway {
			_ = gateway.Close()
		}
		return nil, err
	}

	c := &Client{orch: orch, gateway: gateway, ownsGateway: ownsGateway}

	if o.telemetry && cfg.Telemetry.Enabled && cfg.Telemetry.DBPath != "" {
		if store, storeErr := telemetry.OpenStore(cfg.Telemetry.DBPath); storeErr == nil {
			c.collector = telemetry.NewCollector(store)
			orch.SetMetrics(c.collector)
		} else {
			slog.Warn("telemetry store unavailable, metrics disabled",
				slog.String("error", storeErr.Error()))
		}
	}

	return c, nil
}

// Ask processes a question against a namespace.
func (c *Client) Ask(ctx context.Context, tenant, scenario, question string) (*Answer, error) {
	record, err := c.orch.ProcessQuestion(ctx, tenant, scenario, question, "")
	if err != nil {
		return nil, err
	}
	return toAnswer(record), nil
}

// Prepare builds (or with force, rebuilds) a namespace's indices from
// its documents directory.
func (c *Client) Prepare(ctx context.Context, tenant, scenario string, force bool) (*PrepareResult, error) {
	res, err := c.orch.PrepareNamespace(ctx, tenant, scenario, force)
	if err != nil {
		return nil, err
	}
	return &PrepareResult{
		Parsed:  res.Parsed,
		Indexed: res.Indexed,
		Chunks:  res.Chunks,
		Elapsed: time.Duration(res.TotalTimeMs) * time.Millisecond,
	}, nil
}

// Status reports what is on disk and resident for a namespace.
func (c *Client) Status(ctx context.Context, tenant, scenario string) (*Status, error) {
	report, err := c.orch.GetStatus(ctx, tenant, scenario)
	if err != nil {
		return nil, err
	}
	return &Status{
		Prepared:      report.Prepared,
		IndexedFiles:  report.IndexedFiles,
		IndexedChunks: report.IndexedChunks,
		LastIndexed:   report.LastIndexed,
		IndicesLoaded: report.IndicesLoaded,
	}, nil
}

// Invalidate drops a namespace's resident indices and caches. The next
// question reloads from disk.
func (c *Client) Invalidate(tenant, scenario string) {
	c.orch.InvalidateNamespace(namespace.ID{Tenant: tenant, Scenario: scenario})
}

// Close releases resident namespaces and, when the client built it,
// the gateway.
func (c *Client) Close() error {
	err := c.orch.Close()
	if c.collector != nil {
		_ = c.collector.Close()
	}
	if c.ownsGateway {
		_ = c.gateway.Close()
	}
	return err
}

// toAnswer flattens an orchestrator record onto the public shape.
func toAnswer(r *rag.AnswerRecord) *Answer {
	sources := make([]Source, 0, len(r.SourceChunks))
	for _, sc := range r.SourceChunks {
		sources = append(sources, Source{
			File:  sc.FileID,
			Page:  sc.PageNumber,
			Score: sc.Score,
			Text:  sc.Text,
		})
	}
	return &Answer{
		Answer:     r.Answer,
		Mode:       r.Mode,
		Confidence: r.Confidence,
		Pages:      r.RelevantPages,
		Sources:    sources,
		Verified:   r.Verification.IsValid,
		Reasoning:  r.Verification.Reasoning,
		Elapsed:    time.Duration(r.ProcessingTimeMs) * time.Millisecond,
	}
}
