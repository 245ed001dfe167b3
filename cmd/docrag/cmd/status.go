package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DocQA-Labs/docrag/internal/config"
	"github.com/DocQA-Labs/docrag/internal/daemon"
	"github.com/DocQA-Labs/docrag/internal/llm"
	"github.com/DocQA-Labs/docrag/internal/namespace"
	"github.com/DocQA-Labs/docrag/internal/rag"
	"github.com/DocQA-Labs/docrag/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <tenant> <scenario>",
		Short: "Show namespace index health and status",
		Long: `Display information about one namespace's indices including:
  - Number of indexed documents and chunks
  - Last build time
  - Storage sizes (keyword, vector, metadata)
  - Gateway configuration (provider, model)
  - Live cache and retrieval counters (when the daemon is running)`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tenant, scenario, err := splitNamespaceArgs(args)
			if err != nil {
				return err
			}
			return runStatus(ctx, cmd, tenant, scenario, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, tenant, scenario string, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	report, daemonLive, err := collectReport(ctx, cfg, tenant, scenario)
	if err != nil {
		return err
	}

	info := statusInfo(cfg, report, daemonLive)

	noColor := ui.DetectNoColor()
	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor)

	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

// collectReport asks the daemon first so live counters are included;
// otherwise it reads the on-disk state through a throwaway offline
// orchestrator (no gateway connection needed for status).
func collectReport(ctx context.Context, cfg *config.Config, tenant, scenario string) (*rag.StatusReport, bool, error) {
	client := daemon.NewClient(daemon.FromConfig(cfg))
	if client.IsRunning() {
		status, err := client.Status(ctx, daemon.StatusParams{Tenant: tenant, Scenario: scenario})
		if err == nil && status.Namespace != nil {
			return status.Namespace, true, nil
		}
	}

	gateway := llm.NewStaticGateway(cfg.LLM.EmbeddingDimensions)
	defer func() { _ = gateway.Close() }()

	orch, err := rag.New(cfg, gateway)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = orch.Close() }()

	report, err := orch.GetStatus(ctx, tenant, scenario)
	if err != nil {
		return nil, false, err
	}
	return report, false, nil
}

// statusInfo flattens the report and on-disk sizes into the renderer's model.
func statusInfo(cfg *config.Config, report *rag.StatusReport, daemonLive bool) ui.StatusInfo {
	info := ui.StatusInfo{
		Namespace:   report.Namespace,
		TotalFiles:  report.IndexedFiles,
		TotalChunks: report.IndexedChunks,
		LastIndexed: report.LastIndexed,
	}

	layout := namespace.NewLayout(cfg.Paths)
	if id, err := namespace.ParseID(report.Namespace); err == nil {
		info.BM25Size = dirSize(layout.KeywordDir(id))
		info.VectorSize = dirSize(layout.VectorDir(id))
		info.MetadataSize = dirSize(layout.MetaDir(id))
		info.TotalSize = info.BM25Size + info.VectorSize + info.MetadataSize
	}

	info.EmbedderType = cfg.LLM.Provider
	if info.EmbedderType == "" {
		info.EmbedderType = "openai"
	}
	info.EmbedderModel = cfg.LLM.EmbeddingModel
	info.EmbedderStatus = "offline"
	if daemonLive {
		info.EmbedderStatus = "ready"
	}

	info.WatcherStatus = "disabled"
	if cfg.Watcher.Enabled {
		info.WatcherStatus = "enabled"
	}

	return info
}
