package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/DocQA-Labs/docrag/internal/daemon"
	"github.com/DocQA-Labs/docrag/internal/logging"
	"github.com/DocQA-Labs/docrag/internal/output"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background answer daemon",
		Long: `The daemon keeps the gateway connection, loaded namespaces and answer
caches resident in memory between CLI invocations.

Commands:
  start   Start the daemon (runs in background by default)
  stop    Stop the running daemon
  status  Show daemon status and health

With the daemon running, 'docrag ask' answers over the socket instead
of rebuilding the pipeline per call, and repeated questions are served
from the resident answer cache.

Examples:
  docrag daemon start      # Start daemon in background
  docrag daemon start -f   # Run in foreground (for debugging)
  docrag daemon status     # Check if daemon is running
  docrag daemon stop       # Stop the daemon`,
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the background daemon",
		Long: `Start the answer daemon in the background.

The daemon connects to the LLM gateway once and serves every later
'docrag ask' from memory. By default, it runs in the background.

Use --foreground for debugging or to see logs in real-time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStart(cmd.Context(), cmd, foreground)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Long: `Stop the running answer daemon.

Sends SIGTERM to the daemon process for graceful shutdown; caches are
snapshotted to disk on the way down.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStop(cmd)
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long: `Show the current status of the answer daemon.

Displays whether the daemon is running, its process ID, uptime, the
gateway provider, and the namespaces resident in memory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dcfg, err := daemonConfig()
			if err != nil {
				return err
			}
			return runDaemonStatus(cmd.Context(), cmd, dcfg, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// daemonConfig derives the daemon config from the layered app config.
func daemonConfig() (daemon.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return daemon.Config{}, err
	}
	return daemon.FromConfig(cfg), nil
}

func runDaemonStart(ctx context.Context, cmd *cobra.Command, foreground bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dcfg := daemon.FromConfig(cfg)

	client := daemon.NewClient(dcfg)
	if client.IsRunning() {
		out.Status("", "Daemon is already running")
		return nil
	}

	if foreground {
		logCfg := logging.DefaultConfig()
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
		if logger, cleanup, err := logging.Setup(logCfg); err == nil {
			slog.SetDefault(logger)
			defer cleanup()
		}

		out.Status("", "Starting daemon in foreground...")
		out.Status("", fmt.Sprintf("Socket: %s", dcfg.SocketPath))
		out.Status("", fmt.Sprintf("Logs: %s", logging.DefaultLogPath()))
		out.Status("", "Press Ctrl+C to stop")
		out.Newline()

		slog.Info("Daemon starting in foreground mode",
			slog.String("socket", dcfg.SocketPath),
			slog.String("log_file", logging.DefaultLogPath()))

		orch, cleanup, err := newOrchestrator(ctx, cfg)
		if err != nil {
			slog.Error("Failed to build pipeline", slog.String("error", err.Error()))
			return fmt.Errorf("failed to build pipeline: %w", err)
		}
		defer cleanup()

		d, err := daemon.NewDaemon(dcfg, orch)
		if err != nil {
			slog.Error("Failed to create daemon", slog.String("error", err.Error()))
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		return d.Start(ctx)
	}

	// Run in background
	out.Status("", "Starting daemon in background...")

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	bgCmd := exec.Command(execPath, "daemon", "start", "--foreground")
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.Stdin = nil

	// Detach from parent
	bgCmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Reap the child on exit and catch premature failures.
	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < 20; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon process exited unexpectedly: %w", err)
			}
			return fmt.Errorf("daemon process exited unexpectedly with code 0")
		default:
		}

		time.Sleep(100 * time.Millisecond)
		if client.IsRunning() {
			out.Success(fmt.Sprintf("Daemon started (pid: %d)", bgCmd.Process.Pid))
			return nil
		}
	}

	return fmt.Errorf("daemon failed to start within timeout")
}

func runDaemonStop(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	dcfg, err := daemonConfig()
	if err != nil {
		return err
	}

	pidFile := daemon.NewPIDFile(dcfg.PIDPath)

	if !pidFile.IsRunning() {
		out.Status("", "Daemon is not running")
		return nil
	}

	pid, err := pidFile.Read()
	if err != nil {
		return fmt.Errorf("failed to read PID: %w", err)
	}

	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !pidFile.IsRunning() {
			out.Success(fmt.Sprintf("Daemon stopped (was pid: %d)", pid))
			return nil
		}
	}

	out.Status("", "Daemon not responding, sending SIGKILL...")
	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}

	out.Success("Daemon killed")
	return nil
}

func runDaemonStatus(ctx context.Context, cmd *cobra.Command, dcfg daemon.Config, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	client := daemon.NewClient(dcfg)

	if !client.IsRunning() {
		if jsonOutput {
			status := daemon.StatusResult{Running: false}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		}
		out.Status("", "Daemon is not running")
		out.Status("", "Run 'docrag daemon start' to start it")
		return nil
	}

	status, err := client.Status(ctx, daemon.StatusParams{})
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	out.Status("", "Daemon is running")
	out.Status("", fmt.Sprintf("  PID:        %d", status.PID))
	out.Status("", fmt.Sprintf("  Uptime:     %s", status.Uptime))
	out.Status("", fmt.Sprintf("  Gateway:    %s (%d dims)", status.Provider, status.Dimensions))
	out.Status("", fmt.Sprintf("  Namespaces: %d loaded", len(status.LoadedNamespaces)))
	for _, ns := range status.LoadedNamespaces {
		out.Status("", fmt.Sprintf("    %s", ns))
	}
	if status.Building != nil {
		out.Status("", fmt.Sprintf("  Building:   %s (%s, %.0f%%)",
			status.Building.Namespace, status.Building.Stage, status.Building.ProgressPct))
	}
	out.Status("", fmt.Sprintf("  Socket:     %s", dcfg.SocketPath))

	return nil
}
