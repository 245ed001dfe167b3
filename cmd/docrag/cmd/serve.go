package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/DocQA-Labs/docrag/internal/async"
	"github.com/DocQA-Labs/docrag/internal/config"
	"github.com/DocQA-Labs/docrag/internal/ingest"
	"github.com/DocQA-Labs/docrag/internal/logging"
	"github.com/DocQA-Labs/docrag/internal/mcp"
	"github.com/DocQA-Labs/docrag/internal/namespace"
	"github.com/DocQA-Labs/docrag/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server for AI client integration.

The server exposes three tools over the Model Context Protocol:
  ask                Answer a question over a tenant/scenario corpus
  prepare_namespace  Build or rebuild a namespace's search indices
  namespace_status   Inspect index state and live counters

With stdio transport (the default), stdout carries JSON-RPC messages
exclusively; all diagnostics go to the log file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), transport)
		},
	}

	cmd.Flags().StringVarP(&transport, "transport", "t", "stdio", "Transport type (stdio)")

	return cmd
}

func runServe(ctx context.Context, transport string) error {
	// stdio mode owns stdout, so logging goes to the file only.
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orch, cleanup, err := newOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	server, err := mcp.NewServer(orch, cfg)
	if err != nil {
		return err
	}

	// Background builds let prepare_namespace return immediately and be
	// polled through namespace_status.
	preparer := async.NewPreparer(async.PreparerConfig{MarkerDir: cfg.Paths.DataDir})
	preparer.PrepareFunc = func(ctx context.Context, id namespace.ID, force bool, onEvent func(ingest.Event)) (*ingest.Result, error) {
		b := orch.Builder()
		b.SetProgress(onEvent)
		defer b.SetProgress(nil)
		return orch.PrepareNamespace(ctx, id.Tenant, id.Scenario, force)
	}
	defer preparer.Stop()
	server.SetPreparer(preparer)

	if cfg.Watcher.Enabled {
		if stopWatch, err := startDocumentWatcher(ctx, cfg.Paths.DocumentsDir(), cfg.Watcher.Debounce, orch.InvalidateNamespace); err != nil {
			slog.Warn("document watcher unavailable", slog.String("error", err.Error()))
		} else {
			defer func() { _ = stopWatch() }()
		}
	}

	return server.Serve(ctx, transport)
}

// startDocumentWatcher wires filesystem changes under the documents root
// to namespace invalidation, so edited corpora are reloaded on the next
// question instead of serving stale indices.
func startDocumentWatcher(ctx context.Context, documentsRoot, debounce string, invalidate watcher.InvalidateFunc) (stop func() error, err error) {
	opts := watcher.DefaultOptions()
	opts.DebounceWindow = config.DurationOrDefault(debounce, opts.DebounceWindow)

	w, err := watcher.NewHybridWatcher(opts)
	if err != nil {
		return nil, err
	}

	inv := watcher.NewInvalidator(w, invalidate, slog.Default())
	go func() {
		if runErr := inv.Run(ctx, documentsRoot); runErr != nil {
			slog.Error("document watcher stopped", slog.String("error", runErr.Error()))
		}
	}()

	return inv.Stop, nil
}
