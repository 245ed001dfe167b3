// Package cmd provides the CLI commands for docrag.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/DocQA-Labs/docrag/internal/config"
	"github.com/DocQA-Labs/docrag/internal/logging"
	"github.com/DocQA-Labs/docrag/internal/preflight"
	"github.com/DocQA-Labs/docrag/internal/profiling"
	"github.com/DocQA-Labs/docrag/pkg/version"
)

// Profiling flags
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// Debug logging flag
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the docrag CLI.
func NewRootCmd() *cobra.Command {
	var offline bool
	var skipCheck bool

	cmd := &cobra.Command{
		Use:   "docrag",
		Short: "Agentic RAG engine for multi-tenant document QA",
		Long: `docrag answers questions over tenant/scenario document corpora.

It combines keyword (BM25) and semantic retrieval with reciprocal rank
fusion, routes each question through an LLM analysis step, and verifies
generated answers against their cited sources.

Running 'docrag' with no arguments starts the MCP server over stdio,
the mode AI clients such as Claude Code expect.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runSmartDefault(cmd.Context(), offline, skipCheck)
		},
	}

	cmd.SetVersionTemplate("docrag version {{.Version}}\n")

	// Root flags
	cmd.Flags().BoolVar(&offline, "offline", false, "Use the static offline provider (no API calls)")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip pre-flight system checks")

	// Profiling flags
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	// Debug logging flag
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.docrag/logs/")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newPrepareCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newNamespacesCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts CPU/trace profiling and debug logging if flags are set.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error

	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("Debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}

	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
	}

	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("failed to start trace: %w", err)
		}
	}

	return nil
}

// stopProfilingAndLogging stops profiling and logging, writes memory profile if requested.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}

	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}

	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}

	if loggingCleanup != nil {
		slog.Info("Debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}

	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// runSmartDefault starts the MCP server the way an AI client expects:
// stdout carries JSON-RPC exclusively, so nothing may be printed before
// the server takes over. Preflight runs silently against the log file;
// 'docrag doctor' is the human-facing version of the same checks.
func runSmartDefault(ctx context.Context, offline, skipCheck bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dataDir := cfg.Paths.DataDir

	if !skipCheck && preflight.NeedsCheck(dataDir) {
		checker := preflight.New(
			preflight.WithOffline(offline),
			preflight.WithOutput(io.Discard),
		)
		results := checker.RunAll(ctx, dataDir)

		if checker.HasCriticalFailures(results) {
			slog.Error("System check failed - run 'docrag doctor' for diagnostics")
			return fmt.Errorf("system check failed")
		}

		if err := preflight.MarkPassed(dataDir); err != nil {
			slog.Debug("Failed to mark preflight as passed", slog.String("error", err.Error()))
		}
	}

	if offline {
		// The env override is read by the gateway factory, so one flag
		// covers every construction site downstream.
		if err := os.Setenv("DOCRAG_LLM_PROVIDER", "static"); err != nil {
			return err
		}
	}

	return runServe(ctx, "stdio")
}

// loadConfig loads the layered configuration anchored at the project root.
func loadConfig() (*config.Config, error) {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
