package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/trellis-ml/trellis/internal/config"
	"github.com/trellis-ml/trellis/internal/scheduler"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print a run's task graph as DOT without executing it",
	Long: `Graph builds the task graph a fit or cross-validation run would execute
and writes it in Graphviz DOT form, with the next task under the chosen
policy highlighted.`,
	RunE: runGraph,
}

var (
	graphMode        string
	graphBatches     int
	graphFolds       int
	graphPerFold     int
	graphPolicy      string
	graphIncremental bool
	graphSameFold    bool
	graphScored      bool
	graphKeep        bool
	graphOut         string
)

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringVar(&graphMode, "mode", "fit", "graph shape: fit or crossval")
	graphCmd.Flags().IntVarP(&graphBatches, "batches", "n", 0, "number of batches for a fit graph")
	graphCmd.Flags().IntVarP(&graphFolds, "folds", "k", 0, "number of folds for a crossval graph")
	graphCmd.Flags().IntVar(&graphPerFold, "per-fold", 0, "batches per fold for a crossval graph")
	graphCmd.Flags().StringVarP(&graphPolicy, "policy", "p", "", "scheduling policy: step, batch or resource")
	graphCmd.Flags().BoolVarP(&graphIncremental, "incremental", "i", false, "use the incremental fit shape")
	graphCmd.Flags().BoolVar(&graphSameFold, "same-fold", false, "retrain upstream transformers per fold")
	graphCmd.Flags().BoolVar(&graphScored, "scored", true, "include metric tasks")
	graphCmd.Flags().BoolVar(&graphKeep, "keep-estimators", false, "include held-in train tasks for every fold")
	graphCmd.Flags().StringVarP(&graphOut, "out", "o", "", "output file (default stdout)")
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadDefault()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("batches") {
		cfg.Run.Batches = graphBatches
	}
	if cmd.Flags().Changed("folds") {
		cfg.Run.Folds = graphFolds
	}
	if cmd.Flags().Changed("per-fold") {
		cfg.Run.PerFold = graphPerFold
	}
	if cmd.Flags().Changed("policy") {
		cfg.Run.Policy = graphPolicy
	}
	if cmd.Flags().Changed("incremental") {
		cfg.Run.Incremental = graphIncremental
	}
	if cmd.Flags().Changed("same-fold") {
		cfg.Run.SameFold = graphSameFold
	}

	pol, err := scheduler.PolicyByName(cfg.Run.Policy)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if graphOut != "" {
		f, err := os.Create(graphOut)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	pipe := buildPipeline()
	switch graphMode {
	case "fit":
		return scheduler.FitGraphDOT(out, pipe, cfg.Run.Batches, graphScored, cfg.Run.Incremental, pol)
	case "crossval":
		return scheduler.CrossValGraphDOT(out, pipe, cfg.Run.Folds, cfg.Run.PerFold, cfg.Run.SameFold, graphKeep, pol)
	}
	return fmt.Errorf("unknown graph mode %q, expected fit or crossval", graphMode)
}
