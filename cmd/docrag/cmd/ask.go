package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DocQA-Labs/docrag/internal/daemon"
	"github.com/DocQA-Labs/docrag/internal/logging"
	"github.com/DocQA-Labs/docrag/internal/output"
	"github.com/DocQA-Labs/docrag/internal/rag"
)

// askOptions holds CLI flags for ask.
type askOptions struct {
	questionType string // "", "fact", "guidance", "analysis"
	format       string // "text", "json"
	local        bool   // Force local pipeline (bypass daemon)
	showSources  bool
}

func newAskCmd() *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask <tenant> <scenario> <question>",
		Short: "Answer a question over a namespace's documents",
		Long: `Answer a question against one tenant/scenario document corpus.

The question is routed through analysis (type and keyword extraction),
hybrid retrieval (BM25 + semantic with reciprocal rank fusion), answer
generation, and citation verification. Answers carry page references
and a confidence score.

Examples:
  docrag ask acme contracts "合同的违约责任是什么"
  docrag ask acme contracts "如何申请续约" --type guidance
  docrag ask acme contracts "分析付款条款的风险" --format json`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			question := strings.Join(args[2:], " ")
			return runAsk(ctx, cmd, args[0], args[1], question, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.questionType, "type", "t", "", "Pin the question type: fact, guidance, analysis")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Answer in this process (bypass daemon)")
	cmd.Flags().BoolVar(&opts.showSources, "sources", false, "Show the source chunks behind the answer")

	return cmd
}

func runAsk(ctx context.Context, cmd *cobra.Command, tenant, scenario, question string, opts askOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	slog.Info("ask_started",
		slog.String("namespace", tenant+"/"+scenario),
		slog.String("question", question))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// The daemon keeps namespaces and caches resident between calls,
	// so an answered-before question comes back without touching the
	// gateway at all.
	if !opts.local {
		client := daemon.NewClient(daemon.FromConfig(cfg))
		if client.IsRunning() {
			record, err := client.Ask(ctx, daemon.AskParams{
				Tenant:       tenant,
				Scenario:     scenario,
				Question:     question,
				QuestionType: opts.questionType,
			})
			if err != nil {
				slog.Warn("daemon ask failed, falling back to local", slog.String("error", err.Error()))
			} else {
				slog.Info("ask_complete", slog.String("mode", "daemon"))
				return renderAnswer(cmd, record, opts)
			}
		}
	}

	orch, cleanup, err := newOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	record, err := orch.ProcessQuestion(ctx, tenant, scenario, question, opts.questionType)
	if err != nil {
		return err
	}
	slog.Info("ask_complete", slog.String("mode", "local"))

	return renderAnswer(cmd, record, opts)
}

func renderAnswer(cmd *cobra.Command, record *rag.AnswerRecord, opts askOptions) error {
	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	}

	out := output.New(cmd.OutOrStdout())

	out.Status("", record.Answer)
	out.Newline()

	meta := fmt.Sprintf("confidence %.2f | mode %s | %dms",
		record.Confidence, record.Mode, record.ProcessingTimeMs)
	if len(record.RelevantPages) > 0 {
		meta += " | pages " + formatPages(record.RelevantPages)
	}
	out.Status("", meta)

	if record.Verification.Reasoning != "" {
		out.Status("", "verification: "+record.Verification.Reasoning)
	}

	if opts.showSources && len(record.SourceChunks) > 0 {
		out.Newline()
		out.Statusf("", "Sources (%d):", len(record.SourceChunks))
		for i, src := range record.SourceChunks {
			location := src.FileID
			if src.PageNumber > 0 {
				location = fmt.Sprintf("%s p.%d", src.FileID, src.PageNumber)
			}
			out.Statusf("", "%d. %s (score: %.3f)", i+1, location, src.Score)
			for _, line := range snippetLines(src.Text, 3) {
				out.Status("", "   "+line)
			}
		}
	}

	return nil
}

// formatPages renders a page list as "3, 5, 12".
func formatPages(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprintf("%d", p)
	}
	return strings.Join(parts, ", ")
}

// snippetLines returns the first n non-trailing-empty lines of text.
func snippetLines(text string, n int) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
