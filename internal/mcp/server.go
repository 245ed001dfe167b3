package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DocQA-Labs/docrag/internal/async"
	"github.com/DocQA-Labs/docrag/internal/config"
	"github.com/DocQA-Labs/docrag/internal/namespace"
	"github.com/DocQA-Labs/docrag/internal/rag"
	"github.com/DocQA-Labs/docrag/pkg/version"
)

// Server is the MCP server for docrag. It bridges AI clients with the
// question-answering pipeline: ask a question, prepare a namespace,
// inspect a namespace's status.
type Server struct {
	mcp    *mcp.Server
	orch   *rag.Orchestrator
	config *config.Config
	logger *slog.Logger

	// preparer runs namespace builds in the background. Nil means
	// prepare_namespace builds synchronously within the tool call.
	preparer *async.Preparer

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// Tool descriptions double as client-facing guidance, so they say when
// to reach for each tool, not just what it does.
const (
	askDescription = "Answer a question over a tenant/scenario document corpus. " +
		"Combines keyword and semantic retrieval with LLM routing and citation verification. " +
		"Answers carry page references, source chunks, and a confidence score."

	prepareDescription = "Build or rebuild the search indices for a tenant/scenario namespace " +
		"from its documents directory. Run this once before asking questions, and again after " +
		"documents change. Set force to rebuild from scratch."

	statusDescription = "Inspect a namespace: whether it is indexed, what is resident in memory, " +
		"and live cache and retrieval counters. Use before asking to verify the namespace is prepared."
)

// NewServer creates a new MCP server around an orchestrator. The
// orchestrator stays owned by the caller.
func NewServer(orch *rag.Orchestrator, cfg *config.Config) (*Server, error) {
	if orch == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		orch:   orch,
		config: cfg,
		logger: slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "docrag",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	s.registerResources()

	return s, nil
}

// SetPreparer attaches a background build runner. With one attached,
// prepare_namespace returns immediately and namespace_status reports
// build progress.
func (s *Server) SetPreparer(p *async.Preparer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preparer = p
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "docrag", version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: "ask", Description: askDescription},
		{Name: "prepare_namespace", Description: prepareDescription},
		{Name: "namespace_status", Description: statusDescription},
	}
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ask",
		Description: askDescription,
	}, s.askHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "prepare_namespace",
		Description: prepareDescription,
	}, s.prepareHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "namespace_status",
		Description: statusDescription,
	}, s.statusHandler)

	s.logger.Debug("MCP tools registered", slog.Int("count", 3))
}

// askHandler is the MCP SDK handler for the ask tool.
func (s *Server) askHandler(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (
	*mcp.CallToolResult,
	AskOutput,
	error,
) {
	if strings.TrimSpace(input.Question) == "" {
		return nil, AskOutput{}, NewInvalidParamsError("question is required and must be non-empty")
	}

	start := time.Now()
	requestID := generateRequestID()
	s.logger.Info("ask started",
		slog.String("request_id", requestID),
		slog.String("tenant", input.Tenant),
		slog.String("scenario", input.Scenario))

	record, err := s.orch.ProcessQuestion(ctx, input.Tenant, input.Scenario, input.Question, input.QuestionType)
	if err != nil {
		s.logger.Error("ask failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, AskOutput{}, MapError(err)
	}

	s.logger.Info("ask completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.String("mode", record.Mode))

	result := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatAnswer(record)}},
	}
	return result, ToAskOutput(record), nil
}

// prepareHandler is the MCP SDK handler for the prepare_namespace tool.
func (s *Server) prepareHandler(ctx context.Context, _ *mcp.CallToolRequest, input PrepareInput) (
	*mcp.CallToolResult,
	PrepareOutput,
	error,
) {
	s.mu.RLock()
	preparer := s.preparer
	s.mu.RUnlock()

	requestID := generateRequestID()
	s.logger.Info("prepare started",
		slog.String("request_id", requestID),
		slog.String("tenant", input.Tenant),
		slog.String("scenario", input.Scenario),
		slog.Bool("force", input.Force))

	if preparer != nil {
		return s.prepareBackground(ctx, preparer, input)
	}

	result, err := s.orch.PrepareNamespace(ctx, input.Tenant, input.Scenario, input.Force)
	if err != nil {
		s.logger.Error("prepare failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return nil, PrepareOutput{}, MapError(err)
	}

	out := PrepareOutput{
		Namespace:   input.Tenant + "/" + input.Scenario,
		Parsed:      result.Parsed,
		Indexed:     result.Indexed,
		Chunks:      result.Chunks,
		Warnings:    result.Warnings,
		TotalTimeMs: result.TotalTimeMs,
	}
	text := fmt.Sprintf("Prepared %s: %d documents indexed, %d chunks (%d ms).",
		out.Namespace, out.Indexed, out.Chunks, out.TotalTimeMs)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, out, nil
}

// prepareBackground starts the build on the preparer and reports the
// initial snapshot. Clients poll namespace_status until ready.
func (s *Server) prepareBackground(ctx context.Context, preparer *async.Preparer, input PrepareInput) (
	*mcp.CallToolResult,
	PrepareOutput,
	error,
) {
	id, err := namespace.NewID(input.Tenant, input.Scenario)
	if err != nil {
		return nil, PrepareOutput{}, MapError(err)
	}

	job, err := preparer.Start(ctx, id, input.Force)
	if err != nil {
		if errors.Is(err, async.ErrBuildInProgress) {
			return nil, PrepareOutput{}, &MCPError{
				Code:    ErrCodeBuildBusy,
				Message: "Another namespace build is already running. Retry when it finishes.",
			}
		}
		return nil, PrepareOutput{}, MapError(err)
	}

	snap := job.Progress().Snapshot()
	text := fmt.Sprintf("Build started for %s (status: %s). Poll namespace_status for progress.",
		snap.Namespace, snap.Status)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, PrepareOutput{Namespace: snap.Namespace}, nil
}

// statusHandler is the MCP SDK handler for the namespace_status tool.
func (s *Server) statusHandler(ctx context.Context, _ *mcp.CallToolRequest, input StatusInput) (
	*mcp.CallToolResult,
	StatusOutput,
	error,
) {
	report, err := s.orch.GetStatus(ctx, input.Tenant, input.Scenario)
	if err != nil {
		return nil, StatusOutput{}, MapError(err)
	}

	gw := s.orch.Gateway()
	status := "ready"
	if !gw.Available(ctx) {
		status = "unavailable"
	}

	out := StatusOutput{
		Report: report,
		Embedding: EmbeddingInfo{
			Provider:   s.config.LLM.Provider,
			Model:      s.config.LLM.EmbeddingModel,
			Dimensions: gw.Dimensions(),
			Status:     status,
		},
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Namespace %s\n\n", report.Namespace)
	if report.Prepared {
		fmt.Fprintf(&sb, "**Indexed:** %d files, %d chunks (last build %s)\n",
			report.IndexedFiles, report.IndexedChunks, report.LastIndexed.Format(time.RFC3339))
	} else {
		sb.WriteString("**Indexed:** no — run prepare_namespace first\n")
	}
	if report.IndicesLoaded {
		fmt.Fprintf(&sb, "**Resident:** %d files, %d chunks loaded\n", report.LoadedFiles, report.LoadedChunks)
		fmt.Fprintf(&sb, "**Cache:** %.0f%% hit rate (%d entries)\n",
			report.CacheStats.HitRate()*100, report.CacheStats.ExactEntries)
	} else {
		sb.WriteString("**Resident:** not loaded\n")
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: sb.String()}},
	}, out, nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
			err = nil
		}
		return err
	case "sse":
		return fmt.Errorf("SSE transport not yet implemented")
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	// The MCP server stops when its context is canceled.
	return nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
