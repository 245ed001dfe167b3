package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/DocQA-Labs/docrag/internal/async"
	"github.com/DocQA-Labs/docrag/internal/config"
	"github.com/DocQA-Labs/docrag/internal/daemon"
	"github.com/DocQA-Labs/docrag/internal/ingest"
	"github.com/DocQA-Labs/docrag/internal/logging"
	"github.com/DocQA-Labs/docrag/internal/output"
	"github.com/DocQA-Labs/docrag/internal/ui"
)

func newPrepareCmd() *cobra.Command {
	var (
		force bool
		noTUI bool
		local bool
	)

	cmd := &cobra.Command{
		Use:   "prepare <tenant> <scenario>",
		Short: "Build the search indices for a namespace",
		Long: `Build the keyword and vector indices for one tenant/scenario namespace.

Scans the namespace's documents directory, chunks text and markdown,
embeds every chunk through the configured gateway, and writes per-file
BM25 and vector indices.

Document inputs live under <data_dir>/documents/<tenant>/<scenario>/:
  *.json           pre-chunked documents (chunk list with page numbers)
  *.txt, *.md      raw text, chunked by the configured chunk size

Use --force to rebuild indices that already exist.`,
		Example: `  # Prepare the contracts scenario for tenant acme
  docrag prepare acme contracts

  # Rebuild from scratch
  docrag prepare acme contracts --force

  # Plain text progress (no TUI)
  docrag prepare acme contracts --no-tui`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPrepare(ctx, cmd, args[0], args[1], force, noTUI, local)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Rebuild indices even if they already exist")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&local, "local", false, "Build in this process (bypass daemon)")

	return cmd
}

func runPrepare(ctx context.Context, cmd *cobra.Command, tenant, scenario string, force, noTUI, local bool) error {
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

	// A running daemon already holds the gateway connection and the
	// builder; hand the job to it and poll progress over the socket.
	if !local {
		client := daemon.NewClient(daemon.FromConfig(cfg))
		if client.IsRunning() {
			return runDaemonPrepare(ctx, cmd, client, tenant, scenario, force)
		}
	}

	return runLocalPrepare(ctx, cmd, cfg, tenant, scenario, force, noTUI)
}

// runDaemonPrepare starts a background build on the daemon and polls
// its status until the build leaves the building state.
func runDaemonPrepare(ctx context.Context, cmd *cobra.Command, client *daemon.Client, tenant, scenario string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	snap, err := client.Prepare(ctx, daemon.PrepareParams{
		Tenant:   tenant,
		Scenario: scenario,
		Force:    force,
	})
	if err != nil {
		return fmt.Errorf("daemon prepare failed: %w", err)
	}

	out.Statusf("", "Building %s/%s on the daemon...", tenant, scenario)

	lastPct := -1.0
	for snap.Status == string(async.StatusBuilding) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}

		status, err := client.Status(ctx, daemon.StatusParams{Tenant: tenant, Scenario: scenario})
		if err != nil {
			return fmt.Errorf("failed to poll build status: %w", err)
		}
		if status.Building == nil {
			break
		}
		snap = status.Building

		if snap.ProgressPct != lastPct {
			out.Progress(snap.FilesProcessed, snap.FilesTotal,
				fmt.Sprintf("%s %s", snap.Stage, snap.File))
			lastPct = snap.ProgressPct
		}
	}
	out.ProgressDone()

	if snap.Status == string(async.StatusError) {
		return fmt.Errorf("build failed: %s", snap.ErrorMessage)
	}

	if snap.Result != nil {
		out.Successf("Prepared %s/%s: %d documents, %d chunks in %s",
			tenant, scenario, snap.Result.Indexed, snap.Result.Chunks,
			(time.Duration(snap.Result.TotalTimeMs) * time.Millisecond).Round(time.Millisecond))
	} else {
		out.Successf("Prepared %s/%s", tenant, scenario)
	}
	return nil
}

// runLocalPrepare builds in-process with the progress renderer attached
// to the ingest pipeline.
func runLocalPrepare(ctx context.Context, cmd *cobra.Command, cfg *config.Config, tenant, scenario string, force, noTUI bool) error {
	uiCfg := ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(noTUI),
		ui.WithNamespace(tenant+"/"+scenario))
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}
	defer func() { _ = renderer.Stop() }()

	renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageScanning,
		Message: fmt.Sprintf("Connecting to %s gateway...", cfg.LLM.Provider),
	})

	orch, cleanup, err := newOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	builder := orch.Builder()
	builder.SetProgress(func(ev ingest.Event) {
		renderer.UpdateProgress(progressEvent(ev))
	})
	defer builder.SetProgress(nil)

	start := time.Now()
	result, err := orch.PrepareNamespace(ctx, tenant, scenario, force)
	if err != nil {
		return err
	}

	gw := orch.Gateway()
	renderer.Complete(ui.CompletionStats{
		Files:    result.Indexed,
		Chunks:   result.Chunks,
		Duration: time.Since(start),
		Warnings: result.Warnings,
		Embedder: ui.EmbedderInfo{
			Backend:    cfg.LLM.Provider,
			Model:      gw.ModelName(),
			Dimensions: gw.Dimensions(),
		},
	})

	return nil
}

// progressEvent maps an ingest build event onto the renderer's model.
func progressEvent(ev ingest.Event) ui.ProgressEvent {
	stage := ui.StageScanning
	switch ev.Stage {
	case ingest.StageChunking:
		stage = ui.StageChunking
	case ingest.StageEmbedding:
		stage = ui.StageEmbedding
	case ingest.StageIndexing:
		stage = ui.StageIndexing
	}
	return ui.ProgressEvent{
		Stage:       stage,
		Current:     ev.Current,
		Total:       ev.Total,
		CurrentFile: ev.File,
	}
}
