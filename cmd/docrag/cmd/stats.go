package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/DocQA-Labs/docrag/internal/output"
	"github.com/DocQA-Labs/docrag/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show statistics and telemetry",
		Long:  `Display statistics about question patterns, performance, and cache behavior.`,
	}

	cmd.AddCommand(newStatsQuestionsCmd())
	return cmd
}

func newStatsQuestionsCmd() *cobra.Command {
	var jsonOutput bool
	var days int

	cmd := &cobra.Command{
		Use:   "questions",
		Short: "Show question pattern statistics",
		Long: `Display question telemetry including:
  - Question type distribution (fact/guidance/analysis)
  - Answer mode distribution (rag/pure_llm)
  - Cache hit breakdown (exact/semantic)
  - Zero-result questions
  - Latency distribution and per-stage latencies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatsQuestions(cmd, jsonOutput, days)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")

	return cmd
}

// StatsOutput is the JSON output format for question stats.
type StatsOutput struct {
	Summary             StatsSummary                           `json:"summary"`
	QuestionTypeCounts  map[string]int64                       `json:"question_type_counts"`
	ModeCounts          map[string]int64                       `json:"mode_counts"`
	CacheHitKinds       map[string]int64                       `json:"cache_hit_kinds"`
	LatencyDistribution map[string]int64                       `json:"latency_distribution"`
	StageLatencies      map[string]StatsStageLatency           `json:"stage_latencies"`
	ZeroResultQuestions []telemetry.ZeroResult                 `json:"zero_result_questions"`
}

// StatsSummary provides overview statistics.
type StatsSummary struct {
	Days           int    `json:"days"`
	TotalQuestions int64  `json:"total_questions"`
	From           string `json:"from"`
	To             string `json:"to"`
}

// StatsStageLatency is one pipeline stage's aggregate latency.
type StatsStageLatency struct {
	Count int64   `json:"count"`
	AvgMs float64 `json:"avg_ms"`
	MaxMs int64   `json:"max_ms"`
}

func runStatsQuestions(cmd *cobra.Command, jsonOutput bool, days int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !cfg.Telemetry.Enabled || cfg.Telemetry.DBPath == "" {
		return fmt.Errorf("telemetry is disabled\nEnable it in the telemetry config block to collect question stats")
	}
	if !fileExists(cfg.Telemetry.DBPath) {
		return fmt.Errorf("no telemetry recorded yet at %s\nAsk some questions first", cfg.Telemetry.DBPath)
	}

	store, err := telemetry.OpenStore(cfg.Telemetry.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open telemetry store: %w", err)
	}
	defer func() { _ = store.Close() }()

	stats, err := collectStats(store, days)
	if err != nil {
		return fmt.Errorf("failed to collect stats: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	return printStats(cmd, stats)
}

func collectStats(store telemetry.Store, days int) (*StatsOutput, error) {
	now := time.Now()
	from := now.AddDate(0, 0, -days).Format("2006-01-02")
	to := now.Format("2006-01-02")

	typeCounts, err := store.GetTypeCounts(from, to)
	if err != nil {
		return nil, err
	}
	modeCounts, err := store.GetModeCounts(from, to)
	if err != nil {
		return nil, err
	}
	latencyCounts, err := store.GetLatencyCounts(from, to)
	if err != nil {
		return nil, err
	}
	cacheCounts, err := store.GetCacheCounts(from, to)
	if err != nil {
		return nil, err
	}
	stageLatencies, err := store.GetStageLatencies(from, to)
	if err != nil {
		return nil, err
	}
	zeroResults, err := store.GetZeroResults(20)
	if err != nil {
		return nil, err
	}

	stats := &StatsOutput{
		Summary: StatsSummary{
			Days: days,
			From: from,
			To:   to,
		},
		QuestionTypeCounts:  typeCounts,
		ModeCounts:          modeCounts,
		CacheHitKinds:       cacheCounts,
		LatencyDistribution: make(map[string]int64, len(latencyCounts)),
		StageLatencies:      make(map[string]StatsStageLatency, len(stageLatencies)),
		ZeroResultQuestions: zeroResults,
	}

	for bucket, count := range latencyCounts {
		stats.LatencyDistribution[string(bucket)] = count
		stats.Summary.TotalQuestions += count
	}
	for stage, agg := range stageLatencies {
		stats.StageLatencies[string(stage)] = StatsStageLatency{
			Count: agg.Count,
			AvgMs: agg.AvgMs(),
			MaxMs: agg.MaxMs,
		}
	}

	return stats, nil
}

func printStats(cmd *cobra.Command, stats *StatsOutput) error {
	out := output.New(cmd.OutOrStdout())

	out.Statusf("", "Question stats, last %d days (%s to %s)",
		stats.Summary.Days, stats.Summary.From, stats.Summary.To)
	out.Statusf("", "Total questions: %d", stats.Summary.TotalQuestions)
	out.Newline()

	printCountSection(out, "By type", stats.QuestionTypeCounts)
	printCountSection(out, "By mode", stats.ModeCounts)
	printCountSection(out, "Cache hits", stats.CacheHitKinds)
	printCountSection(out, "Latency", stats.LatencyDistribution)

	if len(stats.StageLatencies) > 0 {
		out.Status("", "Stage latencies:")
		for _, stage := range sortedKeys(stats.StageLatencies) {
			agg := stats.StageLatencies[stage]
			out.Statusf("", "  %-10s avg %.0fms, max %dms (%d samples)",
				stage, agg.AvgMs, agg.MaxMs, agg.Count)
		}
		out.Newline()
	}

	if len(stats.ZeroResultQuestions) > 0 {
		out.Statusf("", "Zero-result questions (%d):", len(stats.ZeroResultQuestions))
		for _, zr := range stats.ZeroResultQuestions {
			out.Statusf("", "  [%s] %s", zr.Namespace, zr.Question)
		}
	}

	return nil
}

func printCountSection(out *output.Writer, title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	out.Status("", title+":")
	for _, key := range sortedKeys(counts) {
		out.Statusf("", "  %-10s %d", key, counts[key])
	}
	out.Newline()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
