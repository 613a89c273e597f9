package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/trellis-ml/trellis/internal/config"
	"github.com/trellis-ml/trellis/internal/events"
	"github.com/trellis-ml/trellis/internal/operators"
	"github.com/trellis-ml/trellis/internal/persistence"
	"github.com/trellis-ml/trellis/internal/pipeline"
	"github.com/trellis-ml/trellis/internal/scheduler"
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Train the pipeline over batched data",
	Long: `Fit trains the demo pipeline batch by batch. With scoring enabled each
batch is also scored against the pipeline's own predictions, and with
--incremental the scores use models trained only on earlier batches.`,
	RunE: runFit,
}

var (
	fitData        dataFlags
	fitBatches     int
	fitPolicy      string
	fitMemory      string
	fitIncremental bool
	fitScoring     bool
	fitTUI         bool
	fitTrace       bool
)

func init() {
	rootCmd.AddCommand(fitCmd)
	fitData.register(fitCmd)
	fitCmd.Flags().IntVarP(&fitBatches, "batches", "n", 0, "number of batches to train over")
	fitCmd.Flags().StringVarP(&fitPolicy, "policy", "p", "", "scheduling policy: step, batch or resource")
	fitCmd.Flags().StringVarP(&fitMemory, "memory", "m", "", "resident batch ceiling, e.g. 64MB (0 = unbounded)")
	fitCmd.Flags().BoolVarP(&fitIncremental, "incremental", "i", false, "score each batch with the model trained so far")
	fitCmd.Flags().BoolVar(&fitScoring, "scoring", false, "score training batches as the fit progresses")
	fitCmd.Flags().BoolVar(&fitTUI, "tui", false, "watch the run in the live viewer")
	fitCmd.Flags().BoolVar(&fitTrace, "trace", false, "record per-task timings in the run history")
}

func runFit(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}
	fitData.apply(cfg)
	if cmd.Flags().Changed("batches") {
		cfg.Run.Batches = fitBatches
	}
	if cmd.Flags().Changed("policy") {
		cfg.Run.Policy = fitPolicy
	}
	if cmd.Flags().Changed("memory") {
		cfg.Run.MaxResident, err = parseMemory(fitMemory)
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("incremental") {
		cfg.Run.Incremental = fitIncremental
	}
	if cmd.Flags().Changed("scoring") {
		cfg.Run.Scoring = fitScoring
	}

	pol, err := scheduler.PolicyByName(cfg.Run.Policy)
	if err != nil {
		return err
	}
	newSource, classes, err := sourceFactory(cfg, cfg.Run.Batches)
	if err != nil {
		return err
	}
	source, err := newSource()
	if err != nil {
		return err
	}

	pipe := buildPipeline()
	runID := uuid.NewString()
	opts := scheduler.Options{
		Classes:      classes,
		MaxResident:  cfg.Run.MaxResident,
		Policy:       pol,
		Incremental:  cfg.Run.Incremental,
		RunID:        runID,
		CollectTrace: fitTrace,
	}

	var scores []float64
	if cfg.Run.Scoring {
		opts.Scoring = operators.NewAccuracy()
		opts.Progress = func(s float64) {
			scores = append(scores, s)
			if !fitTUI {
				fmt.Printf("score %.4f\n", s)
			}
		}
	}
	if fitTUI {
		bus := events.NewBus()
		defer bus.Close()
		opts.Bus = bus
	}
	ctx = withRunLogger(ctx, fitTUI)

	var (
		trained *pipeline.TrainedPipeline
		report  *scheduler.Report
	)
	start := time.Now()
	run := func(ctx context.Context) error {
		var err error
		trained, report, err = scheduler.FitWithBatches(ctx, pipe, source, cfg.Run.Batches, opts)
		return err
	}
	if fitTUI {
		err = runUnderTUI(ctx, opts.Bus, run)
	} else {
		err = run(ctx)
	}
	elapsed := time.Since(start)

	record := &persistence.Run{
		ID:          runID,
		Mode:        "fit",
		Pipeline:    pipelineNames(pipe),
		Batches:     cfg.Run.Batches,
		Policy:      pol.Name(),
		Incremental: cfg.Run.Incremental,
		Duration:    elapsed,
		Error:       errString(err),
	}
	if report != nil {
		record.Stats = report.Stats
	}
	for _, s := range scores {
		record.Scores = append(record.Scores, persistence.FoldScore{
			Fold:  string(scheduler.FoldID(0)),
			Score: s,
		})
	}
	var trace []scheduler.TraceRecord
	if report != nil {
		trace = report.Trace
	}
	if herr := saveHistory(cfg, record, trace); herr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "recording run history: %v\n", herr)
	}
	if err != nil {
		return err
	}

	names := make([]string, 0, len(trained.Steps()))
	for _, s := range trained.Steps() {
		names = append(names, s.Name())
	}
	fmt.Printf("trained %s over %d batches in %v\n", strings.Join(names, " -> "), cfg.Run.Batches, elapsed)
	if len(scores) > 0 {
		fmt.Printf("final score %.4f\n", scores[len(scores)-1])
	}
	printStats(report.Stats)
	return nil
}
