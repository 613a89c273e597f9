package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trellis-ml/trellis/internal/config"
	"github.com/trellis-ml/trellis/internal/persistence"
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "Show recorded run history",
	Long: `Runs lists the recorded run history, newest first. With a run id it
shows that run's scores and, when one was recorded, its execution trace.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}
	path, err := cfg.HistoryPath()
	if err != nil {
		return err
	}
	store, err := persistence.NewSQLiteStore(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		return printRunDetail(ctx, store, args[0])
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No recorded runs")
		return nil
	}

	fmt.Printf("%-10s %-20s %-10s %-20s %-8s %-10s %s\n",
		"id", "created", "mode", "pipeline", "score", "policy", "duration")
	for _, r := range runs {
		fmt.Printf("%-10s %-20s %-10s %-20s %-8s %-10s %v\n",
			shortID(r.ID), r.CreatedAt.Format("2006-01-02 15:04:05"), r.Mode,
			r.Pipeline, meanScoreLabel(r), r.Policy, r.Duration)
	}
	return nil
}

// printRunDetail shows one run's record, scores and trace. Accepts a
// short id prefix.
func printRunDetail(ctx context.Context, store persistence.Store, id string) error {
	runs, err := store.ListRuns(ctx)
	if err != nil {
		return err
	}
	var run *persistence.Run
	for _, r := range runs {
		if r.ID == id || strings.HasPrefix(r.ID, id) {
			run = r
			break
		}
	}
	if run == nil {
		return fmt.Errorf("no recorded run matches %q", id)
	}

	fmt.Printf("Run: %s\n", run.ID)
	fmt.Printf("Created: %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Mode: %s\n", run.Mode)
	fmt.Printf("Pipeline: %s\n", run.Pipeline)
	fmt.Printf("Batches: %d\n", run.Batches)
	if run.Folds > 0 {
		fmt.Printf("Folds: %d\n", run.Folds)
	}
	fmt.Printf("Policy: %s (incremental=%t, same_fold=%t)\n", run.Policy, run.Incremental, run.SameFold)
	fmt.Printf("Duration: %v\n", run.Duration)
	if run.Error != "" {
		fmt.Printf("Error: %s\n", run.Error)
	}
	printStats(run.Stats)

	if len(run.Scores) > 0 {
		fmt.Println()
		for _, s := range run.Scores {
			fmt.Printf("  fold %s: %.4f\n", s.Fold, s.Score)
		}
	}

	trace, err := store.GetTrace(ctx, run.ID)
	if err != nil {
		return err
	}
	if len(trace) == 0 {
		return nil
	}
	fmt.Printf("\n%-6s %-8s %-12s %-16s %-14s %-8s %s\n",
		"seq", "kind", "op", "step", "batches", "heldout", "duration")
	for _, t := range trace {
		fmt.Printf("%-6d %-8s %-12s %-16s %-14s %-8s %v\n",
			t.Seq, t.Kind, t.Op, t.StepName, t.Batches, t.HeldOut, t.Duration)
	}
	return nil
}

// shortID trims a uuid for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// meanScoreLabel averages a run's scores, or "-" when none were recorded.
func meanScoreLabel(r *persistence.Run) string {
	if len(r.Scores) == 0 {
		return "-"
	}
	sum := 0.0
	for _, s := range r.Scores {
		sum += s.Score
	}
	return fmt.Sprintf("%.4f", sum/float64(len(r.Scores)))
}
