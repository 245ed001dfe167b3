package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/DocQA-Labs/docrag/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
		offline    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run system diagnostics to ensure docrag can operate correctly.

Checks:
  - Disk space (100MB minimum)
  - Memory availability (1GB minimum)
  - Write permissions on the data directory
  - File descriptor limits (1024 minimum)
  - LLM gateway reachability
  - Embedding dimension match against the configured indices

Note: the gateway check is a non-critical warning. Without a reachable
gateway, docrag still works with DOCRAG_LLM_PROVIDER=static.

Use --verbose for detailed diagnostic information.
Use --json for machine-readable output.`,
		Example: `  # Run diagnostics
  docrag doctor

  # Skip the gateway probe
  docrag doctor --offline

  # JSON output for scripting
  docrag doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, verbose, jsonOutput, offline)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the gateway reachability probe")

	return cmd
}

func runDoctor(cmd *cobra.Command, verbose, jsonOutput, offline bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := []preflight.Option{
		preflight.WithOffline(offline),
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
		preflight.WithExpectedDimensions(cfg.LLM.EmbeddingDimensions),
	}

	// The gateway probe is best-effort: a construction failure shows up
	// as the "not configured" warning rather than aborting the checks.
	if !offline {
		gwCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		gateway, gwErr := newGateway(gwCtx, cfg)
		cancel()
		if gwErr == nil {
			defer func() { _ = gateway.Close() }()
			opts = append(opts, preflight.WithGateway(gateway))
		}
	}

	checker := preflight.New(opts...)
	results := checker.RunAll(ctx, cfg.Paths.DataDir)

	if jsonOutput {
		return outputJSON(cmd, checker, results)
	}

	checker.PrintResults(results)

	if !preflight.NeedsCheck(cfg.Paths.DataDir) {
		age := preflight.MarkerAge(cfg.Paths.DataDir)
		if age > 0 {
			cmd.Printf("\nLast successful check: %s ago\n", formatAge(age))
		}
	}

	if checker.HasCriticalFailures(results) {
		return &doctorError{message: "system check failed"}
	}

	return nil
}

// doctorError is a custom error for doctor command failures.
type doctorError struct {
	message string
}

func (e *doctorError) Error() string {
	return e.message
}

// JSONOutput is the structure for JSON output.
type JSONOutput struct {
	Status   string            `json:"status"`
	Checks   []JSONCheckResult `json:"checks"`
	Warnings []string          `json:"warnings,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
}

// JSONCheckResult is a single check result for JSON output.
type JSONCheckResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
	Details  string `json:"details,omitempty"`
}

func outputJSON(cmd *cobra.Command, checker *preflight.Checker, results []preflight.CheckResult) error {
	output := JSONOutput{
		Status: checker.SummaryStatus(results),
		Checks: make([]JSONCheckResult, len(results)),
	}

	for i, r := range results {
		output.Checks[i] = JSONCheckResult{
			Name:     r.Name,
			Status:   statusToString(r.Status),
			Message:  r.Message,
			Required: r.Required,
			Details:  r.Details,
		}

		if r.IsCritical() {
			output.Errors = append(output.Errors, r.Name+": "+r.Message)
		} else if r.Status == preflight.StatusWarn {
			output.Warnings = append(output.Warnings, r.Name+": "+r.Message)
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func statusToString(s preflight.CheckStatus) string {
	switch s {
	case preflight.StatusPass:
		return "pass"
	case preflight.StatusWarn:
		return "warn"
	case preflight.StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// formatAge renders a marker age in coarse human units.
func formatAge(d time.Duration) string {
	hours := int(d.Hours())
	switch {
	case hours < 1:
		return "less than 1 hour"
	case hours == 1:
		return "1 hour"
	case hours < 24:
		return fmt.Sprintf("%d hours", hours)
	case hours < 48:
		return "1 day"
	default:
		return fmt.Sprintf("%d days", hours/24)
	}
}
