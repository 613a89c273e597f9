package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/trellis-ml/trellis/internal/config"
	"github.com/trellis-ml/trellis/internal/events"
	"github.com/trellis-ml/trellis/internal/operators"
	"github.com/trellis-ml/trellis/internal/persistence"
	"github.com/trellis-ml/trellis/internal/scheduler"
)

var crossvalCmd = &cobra.Command{
	Use:   "crossval",
	Short: "Score the pipeline by k-fold cross-validation",
	Long: `Crossval scores the demo pipeline with k-fold cross-validation: each
fold is scored by a pipeline trained on the other folds, all inside one
shared task graph so common work is computed once.`,
	RunE: runCrossval,
}

var (
	crossvalData     dataFlags
	crossvalFolds    int
	crossvalPerFold  int
	crossvalPolicy   string
	crossvalMemory   string
	crossvalSameFold bool
	crossvalKeep     bool
	crossvalTUI      bool
	crossvalTrace    bool
)

func init() {
	rootCmd.AddCommand(crossvalCmd)
	crossvalData.register(crossvalCmd)
	crossvalCmd.Flags().IntVarP(&crossvalFolds, "folds", "k", 0, "number of folds")
	crossvalCmd.Flags().IntVar(&crossvalPerFold, "per-fold", 0, "batches per fold")
	crossvalCmd.Flags().StringVarP(&crossvalPolicy, "policy", "p", "", "scheduling policy: step, batch or resource")
	crossvalCmd.Flags().StringVarP(&crossvalMemory, "memory", "m", "", "resident batch ceiling, e.g. 64MB (0 = unbounded)")
	crossvalCmd.Flags().BoolVar(&crossvalSameFold, "same-fold", false, "retrain upstream transformers per fold")
	crossvalCmd.Flags().BoolVar(&crossvalKeep, "keep-estimators", false, "keep the trained pipeline behind each fold's score")
	crossvalCmd.Flags().BoolVar(&crossvalTUI, "tui", false, "watch the run in the live viewer")
	crossvalCmd.Flags().BoolVar(&crossvalTrace, "trace", false, "record per-task timings in the run history")
}

func runCrossval(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}
	crossvalData.apply(cfg)
	if cmd.Flags().Changed("folds") {
		cfg.Run.Folds = crossvalFolds
	}
	if cmd.Flags().Changed("per-fold") {
		cfg.Run.PerFold = crossvalPerFold
	}
	if cmd.Flags().Changed("policy") {
		cfg.Run.Policy = crossvalPolicy
	}
	if cmd.Flags().Changed("memory") {
		cfg.Run.MaxResident, err = parseMemory(crossvalMemory)
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("same-fold") {
		cfg.Run.SameFold = crossvalSameFold
	}

	pol, err := scheduler.PolicyByName(cfg.Run.Policy)
	if err != nil {
		return err
	}
	total := cfg.Run.Folds * cfg.Run.PerFold
	newSource, classes, err := sourceFactory(cfg, total)
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
		Scoring:      operators.NewAccuracy(),
		Classes:      classes,
		MaxResident:  cfg.Run.MaxResident,
		Policy:       pol,
		SameFold:     cfg.Run.SameFold,
		RunID:        runID,
		CollectTrace: crossvalTrace,
	}
	if crossvalTUI {
		bus := events.NewBus()
		defer bus.Close()
		opts.Bus = bus
	}
	ctx = withRunLogger(ctx, crossvalTUI)

	var (
		result *scheduler.CVResult
		report *scheduler.Report
	)
	start := time.Now()
	run := func(ctx context.Context) error {
		var err error
		result, report, err = scheduler.CrossValidate(ctx, pipe, source, cfg.Run.Folds, cfg.Run.PerFold, opts, crossvalKeep)
		return err
	}
	if crossvalTUI {
		err = runUnderTUI(ctx, opts.Bus, run)
	} else {
		err = run(ctx)
	}
	elapsed := time.Since(start)

	record := &persistence.Run{
		ID:       runID,
		Mode:     "cross-val",
		Pipeline: pipelineNames(pipe),
		Batches:  total,
		Folds:    cfg.Run.Folds,
		Policy:   pol.Name(),
		SameFold: cfg.Run.SameFold,
		Duration: elapsed,
		Error:    errString(err),
	}
	if report != nil {
		record.Stats = report.Stats
	}
	if result != nil {
		for i, s := range result.Scores {
			record.Scores = append(record.Scores, persistence.FoldScore{
				Fold:  string(scheduler.FoldID(i)),
				Score: s,
			})
		}
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

	mean := 0.0
	for i, s := range result.Scores {
		fmt.Printf("fold %s: %.4f\n", scheduler.FoldID(i), s)
		mean += s
	}
	mean /= float64(len(result.Scores))
	fmt.Printf("mean score %.4f over %d folds in %v\n", mean, cfg.Run.Folds, elapsed)
	if crossvalKeep {
		fmt.Printf("kept %d per-fold estimators\n", len(result.Estimators))
	}
	printStats(report.Stats)
	return nil
}
