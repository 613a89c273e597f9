package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/trellis-ml/trellis/internal/config"
	"github.com/trellis-ml/trellis/internal/operators"
	"github.com/trellis-ml/trellis/internal/scheduler"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Compare the scheduling policies on one fit",
	Long: `Bench runs the same fit under every scheduling policy concurrently and
prints a table of task counts, cache traffic and wall time per policy.
A memory ceiling makes the differences visible.`,
	RunE: runBench,
}

var (
	benchData        dataFlags
	benchBatches     int
	benchMemory      string
	benchIncremental bool
)

func init() {
	rootCmd.AddCommand(benchCmd)
	benchData.register(benchCmd)
	benchCmd.Flags().IntVarP(&benchBatches, "batches", "n", 0, "number of batches to train over")
	benchCmd.Flags().StringVarP(&benchMemory, "memory", "m", "", "resident batch ceiling, e.g. 64MB (0 = unbounded)")
	benchCmd.Flags().BoolVarP(&benchIncremental, "incremental", "i", false, "benchmark the incremental fit shape")
}

// benchResult is one policy's outcome.
type benchResult struct {
	policy string
	stats  scheduler.RunStats
	score  float64
	wall   time.Duration
}

func runBench(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}
	benchData.apply(cfg)
	if cmd.Flags().Changed("batches") {
		cfg.Run.Batches = benchBatches
	}
	if cmd.Flags().Changed("memory") {
		cfg.Run.MaxResident, err = parseMemory(benchMemory)
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("incremental") {
		cfg.Run.Incremental = benchIncremental
	}

	newSource, classes, err := sourceFactory(cfg, cfg.Run.Batches)
	if err != nil {
		return err
	}
	ctx = withRunLogger(ctx, false)

	policies := []scheduler.Policy{scheduler.PrioStep, scheduler.PrioBatch, scheduler.PrioResourceAware}
	results := make([]benchResult, len(policies))

	// Execute all policies with bounded concurrency
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(policies))

	for i, pol := range policies {
		g.Go(func() error {
			source, err := newSource()
			if err != nil {
				return err
			}
			var score float64
			opts := scheduler.Options{
				Scoring:      operators.NewAccuracy(),
				Classes:      classes,
				MaxResident:  cfg.Run.MaxResident,
				Policy:       pol,
				Incremental:  cfg.Run.Incremental,
				Progress:     func(s float64) { score = s },
				CollectTrace: true,
			}
			start := time.Now()
			_, report, err := scheduler.FitWithBatches(gctx, buildPipeline(), source, cfg.Run.Batches, opts)
			if err != nil {
				return fmt.Errorf("policy %s: %w", pol.Name(), err)
			}
			results[i] = benchResult{
				policy: pol.Name(),
				stats:  report.Stats,
				score:  score,
				wall:   time.Since(start),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Printf("%-10s %-8s %-8s %-8s %-8s %-8s %-12s %-8s %-12s %-10s\n",
		"policy", "train", "apply", "metric", "spills", "loads", "peak", "score", "critical", "wall")
	for _, r := range results {
		fmt.Printf("%-10s %-8d %-8d %-8d %-8d %-8d %-12s %-8.4f %-12v %-10v\n",
			r.policy, r.stats.TrainCount, r.stats.ApplyCount, r.stats.MetricCount,
			r.stats.SpillCount, r.stats.LoadCount,
			humanize.Bytes(uint64(r.stats.MaxResident)), r.score, r.stats.CriticalTime, r.wall)
	}
	return nil
}
