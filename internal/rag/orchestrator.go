// Package rag runs the question answering pipeline: cache, analyze,
// retrieve, route, navigate, generate, verify. It keeps one resident
// bundle of components per namespace and is the single entry point the
// serving surfaces (MCP, daemon, CLI) talk to.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DocQA-Labs/docrag/internal/config"
	ragerr "github.com/DocQA-Labs/docrag/internal/errors"
	"github.com/DocQA-Labs/docrag/internal/ingest"
	"github.com/DocQA-Labs/docrag/internal/llm"
	"github.com/DocQA-Labs/docrag/internal/namespace"
	"github.com/DocQA-Labs/docrag/internal/search"
	"github.com/DocQA-Labs/docrag/internal/store"
	"github.com/DocQA-Labs/docrag/internal/telemetry"
	"github.com/DocQA-Labs/docrag/internal/validation"
)

const (
	// DefaultRequestTimeout bounds one ProcessQuestion call end to end.
	DefaultRequestTimeout = 90 * time.Second

	// retrieveDepthFactor over-fetches candidates for routing to cut.
	retrieveDepthFactor = 3

	// routeDepthFactor caps what routing may keep for navigation.
	routeDepthFactor = 2

	answerTemperature = 0.3
	answerMaxTokens   = 1000
)

// Generation prompts. Answers are told to cite page numbers so the
// verifier's citation gate has something to hold them to.
const (
	ragUserPrompt = "请根据以下资料回答问题，并在回答中注明依据的页码（如：第3页）。\n\n资料：\n%s\n\n问题：%s"

	pureLLMUserPrompt = "知识库中没有检索到与该问题相关的资料。请基于通用知识简要回答，并说明回答未经文档核实。\n\n问题：%s"
)

// Orchestrator owns the per-namespace pipelines and the ingest
// builder. All methods are safe for concurrent use.
type Orchestrator struct {
	cfg     *config.Config
	gateway llm.Gateway
	layout  namespace.Layout
	builder *ingest.Builder
	catalog *namespace.Catalog

	// metrics is optional; nil drops events.
	metrics *telemetry.Collector

	mu      sync.Mutex
	bundles map[namespace.ID]*bundle
}

// New wires an orchestrator from the configuration and a connected
// gateway. The gateway stays owned by the caller.
func New(cfg *config.Config, gateway llm.Gateway) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if gateway == nil {
		return nil, errors.New("llm gateway is required")
	}

	layout := namespace.NewLayout(cfg.Paths)
	builder, err := ingest.NewBuilder(gateway, layout, ingest.Config{
		ChunkSize:      cfg.Ingest.ChunkSize,
		ChunkOverlap:   cfg.Ingest.ChunkOverlap,
		Workers:        cfg.Ingest.Workers,
		KeywordBackend: cfg.Retrieval.KeywordBackend,
		VectorBackend:  cfg.Retrieval.VectorBackend,
		BM25:           store.DefaultBM25Config(),
		Vector:         store.DefaultVectorConfig(cfg.LLM.EmbeddingDimensions),
	})
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:     cfg,
		gateway: gateway,
		layout:  layout,
		builder: builder,
		catalog: namespace.NewCatalog(layout),
		bundles: make(map[namespace.ID]*bundle),
	}, nil
}

// SetMetrics attaches a telemetry collector. The orchestrator records
// into it but never closes it.
func (o *Orchestrator) SetMetrics(m *telemetry.Collector) {
	o.metrics = m
}

// Metrics returns the lifetime telemetry snapshot, or nil when no
// collector is attached.
func (o *Orchestrator) Metrics() *telemetry.Snapshot {
	if o.metrics == nil {
		return nil
	}
	return o.metrics.Snapshot()
}

// Builder exposes the ingest pipeline so callers can attach progress
// rendering before PrepareNamespace.
func (o *Orchestrator) Builder() *ingest.Builder {
	return o.builder
}

// Catalog lists the namespaces known on disk.
func (o *Orchestrator) Catalog() *namespace.Catalog {
	return o.catalog
}

// Gateway returns the LLM gateway the orchestrator was built on.
func (o *Orchestrator) Gateway() llm.Gateway {
	return o.gateway
}

// ProcessQuestion answers one question against a namespace's documents.
//
// Stages after retrieval degrade rather than fail: a namespace with no
// usable context still gets an answer, marked ModePureLLM. Errors
// surface only for invalid input, a failed generation call, or the
// request deadline. A deadline hit after the answer text exists
// returns the answer unverified instead of an error.
func (o *Orchestrator) ProcessQuestion(ctx context.Context, tenantID, scenarioID, question, questionType string) (*AnswerRecord, error) {
	start := time.Now()

	q, err := validation.Question(question)
	if err != nil {
		return nil, err
	}
	qt, err := validation.QuestionType(questionType)
	if err != nil {
		return nil, err
	}
	id, err := namespace.NewID(tenantID, scenarioID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, config.DurationOrDefault(o.cfg.LLM.RequestTimeout, DefaultRequestTimeout))
	defer cancel()

	log := slog.With("request_id", uuid.NewString(), "namespace", id.String())

	b, err := o.bundleFor(id)
	if err != nil {
		return nil, err
	}

	event := telemetry.QuestionEvent{
		Question:  q,
		Namespace: id.String(),
		Timestamp: start,
	}
	stages := make(map[telemetry.Stage]time.Duration)

	// Cache before anything else. An exact hit replays the stored
	// record with zero model traffic; a semantic hit costs one
	// embedding.
	if b.cache != nil {
		if rec, kind, ok := b.cache.LookupKind(ctx, q); ok {
			log.Info("answer served from cache", "kind", kind, "elapsed_ms", time.Since(start).Milliseconds())
			event.CacheHit = true
			event.CacheKind = kind
			event.Mode = rec.Mode
			event.QuestionType = qt
			event.Total = time.Since(start)
			o.recordEvent(event)
			return &rec, nil
		}
	}

	analysis := b.analyzer.Analyze(ctx, q)
	if qt != "" {
		// A caller-provided type outranks the classifier.
		analysis.QuestionType = qt
	}
	event.QuestionType = analysis.QuestionType

	retrieveK := o.cfg.Retrieval.RetrieveK
	if retrieveK <= 0 {
		retrieveK = 5
	}

	t0 := time.Now()
	hits, err := b.engine.Retrieve(ctx, q, retrieveK*retrieveDepthFactor)
	stages[telemetry.StageRetrieve] = time.Since(t0)
	if err != nil {
		if ctx.Err() != nil {
			return nil, abortErr(ctx)
		}
		log.Warn("retrieval failed, answering without document context", "error", err)
		hits = nil
	}
	event.RetrievedCount = len(hits)

	var (
		contextHits []*search.Hit
		reasoning   string
	)
	if len(hits) > 0 {
		t0 = time.Now()
		decision := b.router.Route(ctx, hits, q, "", retrieveK*routeDepthFactor)
		stages[telemetry.StageRoute] = time.Since(t0)
		routed := pickHits(hits, decision.SelectedIndices)
		if len(routed) == 0 {
			routed = hits
		}
		reasoning = decision.Reasoning

		t0 = time.Now()
		nav := b.navigator.Navigate(ctx, routed, q)
		stages[telemetry.StageNavigate] = time.Since(t0)
		contextHits = nav.Chunks
		if len(contextHits) > retrieveK {
			contextHits = contextHits[:retrieveK]
		}
	}

	// Nothing generated yet; a spent deadline is still a clean abort.
	if ctx.Err() != nil {
		return nil, abortErr(ctx)
	}

	mode := ModeRAG
	if len(contextHits) == 0 {
		mode = ModePureLLM
		reasoning = "未检索到相关资料，改用模型自身知识作答"
	}

	t0 = time.Now()
	answer, err := o.generate(ctx, b, q, contextHits)
	stages[telemetry.StageGenerate] = time.Since(t0)
	if err != nil {
		if ctx.Err() != nil {
			return nil, abortErr(ctx)
		}
		return nil, ragerr.UpstreamError("answer generation failed", err)
	}

	rec := AnswerRecord{
		Question:      q,
		Answer:        answer,
		Reasoning:     reasoning,
		Mode:          mode,
		RelevantPages: distinctPages(contextHits),
		SourceChunks:  sourceChunks(contextHits),
	}

	// The answer exists, so a deadline now degrades instead of
	// failing: skip verification and return the record unverified.
	// Unverified records are never cached.
	if ctx.Err() != nil {
		rec.Mode = ModePureLLM
		rec.Reasoning = "生成完成后已到请求时限，跳过校验"
		rec.RelevantPages = nil
		rec.SourceChunks = nil
		rec.Verification = skippedVerification()
		rec.Confidence = pureLLMConfidence
		rec.ProcessingTimeMs = time.Since(start).Milliseconds()
		log.Warn("deadline reached after generation, returning unverified answer")
		event.Mode = rec.Mode
		event.Stages = stages
		event.Total = time.Since(start)
		o.recordEvent(event)
		return &rec, nil
	}

	if len(contextHits) > 0 {
		t0 = time.Now()
		rec.Verification = b.verifier.Verify(ctx, answer, contextHits, q)
		stages[telemetry.StageVerify] = time.Since(t0)
		rec.Confidence = rec.Verification.Confidence
	} else {
		rec.Verification = skippedVerification()
		rec.Confidence = pureLLMConfidence
	}
	rec.ProcessingTimeMs = time.Since(start).Milliseconds()

	if b.cache != nil {
		b.cache.Store(ctx, q, rec, true)
	}

	event.Mode = rec.Mode
	event.Stages = stages
	event.Total = time.Since(start)
	o.recordEvent(event)

	log.Info("question answered",
		"mode", rec.Mode,
		"type", analysis.QuestionType,
		"chunks", len(rec.SourceChunks),
		"confidence", rec.Confidence,
		"elapsed_ms", rec.ProcessingTimeMs)
	return &rec, nil
}

// PrepareNamespace builds or rebuilds a namespace's indices from its
// documents directory. A successful build unloads the namespace's
// resident indices and drops its cached answers; both may reference
// chunks that no longer exist.
func (o *Orchestrator) PrepareNamespace(ctx context.Context, tenantID, scenarioID string, force bool) (*ingest.Result, error) {
	id, err := namespace.NewID(tenantID, scenarioID)
	if err != nil {
		return nil, err
	}

	result, err := o.builder.Build(ctx, id, force)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if b, ok := o.bundles[id]; ok {
		b.manager.Invalidate()
		if b.cache != nil {
			b.cache.Purge()
		}
	}
	o.mu.Unlock()

	if o.cfg.Cache.Persist {
		// A stale snapshot would resurrect the purged answers.
		_ = os.Remove(o.layout.CacheSnapshotPath(id))
	}

	slog.Info("namespace prepared",
		"namespace", id.String(),
		"files", result.Indexed,
		"chunks", result.Chunks,
		"force", force,
		"elapsed_ms", result.TotalTimeMs)
	return result, nil
}

// GetStatus reports a namespace's disk and memory state. It never
// loads anything: an unloaded namespace stays unloaded.
func (o *Orchestrator) GetStatus(ctx context.Context, tenantID, scenarioID string) (*StatusReport, error) {
	id, err := namespace.NewID(tenantID, scenarioID)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{Namespace: id.String()}

	if desc, err := o.catalog.Get(id); err == nil {
		report.Prepared = true
		report.IndexedFiles = desc.IndexStats.FileCount
		report.IndexedChunks = desc.IndexStats.ChunkCount
		report.LastIndexed = desc.IndexStats.LastIndexed
	}

	if b := o.peekBundle(id); b != nil {
		st := b.manager.Status()
		report.IndicesLoaded = st.Loaded
		report.LoadedFiles = st.Files
		report.LoadedChunks = st.Chunks
		if b.cache != nil {
			report.CacheStats = b.cache.Stats()
		}
		report.RetrievalStats = b.engine.Stats()
	}
	return report, nil
}

// InvalidateNamespace drops a namespace's resident indices so the next
// question reloads them from disk. No-op when the namespace is not
// resident. Cached answers survive; only a rebuild drops them.
func (o *Orchestrator) InvalidateNamespace(id namespace.ID) {
	if b := o.peekBundle(id); b != nil {
		b.manager.Invalidate()
		slog.Info("namespace indices invalidated", "namespace", id.String())
	}
}

// Close retires every resident bundle, snapshotting answer caches when
// persistence is on. The gateway and the telemetry collector belong to
// the caller and stay open.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var firstErr error
	for id, b := range o.bundles {
		o.persistCache(b)
		if err := b.manager.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", id, err)
		}
		delete(o.bundles, id)
	}
	return firstErr
}

// generate produces the answer text. With context the mid-tier model
// answers from the documents; without, it answers from its own
// knowledge and says so.
func (o *Orchestrator) generate(ctx context.Context, b *bundle, question string, hits []*search.Hit) (string, error) {
	var user string
	if len(hits) == 0 {
		user = fmt.Sprintf(pureLLMUserPrompt, question)
	} else {
		user = fmt.Sprintf(ragUserPrompt, formatContext(hits), question)
	}
	return o.gateway.Chat(ctx, llm.ChatRequest{
		Model:       o.cfg.LLM.MidModel,
		System:      b.scenario.SystemPrompt,
		User:        user,
		Temperature: answerTemperature,
		MaxTokens:   answerMaxTokens,
	})
}

func (o *Orchestrator) recordEvent(ev telemetry.QuestionEvent) {
	if o.metrics != nil {
		o.metrics.Record(ev)
	}
}

// abortErr maps a spent context onto the pipeline's deadline error.
func abortErr(ctx context.Context) error {
	return ragerr.DeadlineError("question processing aborted before completion", ctx.Err())
}

// pickHits resolves routing indices against the candidate list,
// dropping out-of-range picks.
func pickHits(hits []*search.Hit, indices []int) []*search.Hit {
	out := make([]*search.Hit, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(hits) {
			out = append(out, hits[idx])
		}
	}
	return out
}

// formatContext renders chunks the way the prompt cites them:
// numbered blocks tagged with their source page.
func formatContext(hits []*search.Hit) string {
	var sb strings.Builder
	for i, h := range hits {
		if h.Chunk.PageNumber > 0 {
			fmt.Fprintf(&sb, "【片段%d·第%d页】%s\n\n", i+1, h.Chunk.PageNumber, h.Chunk.Text)
		} else {
			fmt.Fprintf(&sb, "【片段%d】%s\n\n", i+1, h.Chunk.Text)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
