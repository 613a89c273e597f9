package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/trellis-ml/trellis/internal/config"
	"github.com/trellis-ml/trellis/internal/ctxlog"
	"github.com/trellis-ml/trellis/internal/dataset"
	"github.com/trellis-ml/trellis/internal/events"
	"github.com/trellis-ml/trellis/internal/operators"
	"github.com/trellis-ml/trellis/internal/persistence"
	"github.com/trellis-ml/trellis/internal/pipeline"
	"github.com/trellis-ml/trellis/internal/scheduler"
	"github.com/trellis-ml/trellis/internal/tui"
)

var rootCmd = &cobra.Command{
	Use:   "trellis",
	Short: "Batched pipeline training under a memory budget",
	Long: `Trellis trains machine-learning pipelines over batched data by
compiling each run into a task graph and executing it under a
configurable resident-memory ceiling. It supports plain fits,
incremental fits and k-fold cross-validation.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

var verboseFlag bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "log per-task debug detail")
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newLogger builds the run logger. Debug level when --verbose is set.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verboseFlag {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// dataFlags are shared by every command that reads training data.
type dataFlags struct {
	path  string
	url   string
	label string
}

func (f *dataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "data", "", "CSV file with features and a label column")
	cmd.Flags().StringVar(&f.url, "url", "", "base URL serving numbered batch files")
	cmd.Flags().StringVar(&f.label, "label", "", "label column name")
}

func (f *dataFlags) apply(cfg *config.Config) {
	if f.path != "" {
		cfg.Data.Path = f.path
		cfg.Data.URL = ""
	}
	if f.url != "" {
		cfg.Data.URL = f.url
		cfg.Data.Path = ""
	}
	if f.label != "" {
		cfg.Data.Label = f.label
	}
}

// parseMemory converts a human byte size such as "64MB" into the
// resident ceiling, keeping 0 as "unbounded".
func parseMemory(s string) (int64, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q: %w", s, err)
	}
	return int64(n), nil
}

// buildPipeline assembles the demo pipeline: standard scaling into a
// gaussian naive bayes classifier. Each call returns fresh step
// instances.
func buildPipeline() *pipeline.Pipeline {
	return pipeline.NewLinear(operators.NewScaler(), operators.NewNaiveBayes())
}

// pipelineNames joins the step names for summaries and run records.
func pipelineNames(pipe *pipeline.Pipeline) string {
	names := ""
	for i, s := range pipe.Steps() {
		if i > 0 {
			names += ","
		}
		names += s.Name()
	}
	return names
}

// sourceFactory resolves the configured data into a constructor for
// fresh single-pass batch sources, plus the class labels when the data
// is local and they are known up front. total is the number of batches
// the run will consume, used to shape the in-memory split.
func sourceFactory(cfg *config.Config, total int) (func() (scheduler.BatchSource, error), []float64, error) {
	switch {
	case cfg.Data.Path != "":
		X, y, err := dataset.LoadCSV(cfg.Data.Path, cfg.Data.Label)
		if err != nil {
			return nil, nil, err
		}
		batches, err := dataset.Split(X, y, total)
		if err != nil {
			return nil, nil, err
		}
		classes := y.Unique()
		return func() (scheduler.BatchSource, error) {
			return scheduler.NewSliceSource(batches...), nil
		}, classes, nil
	case cfg.Data.URL != "":
		return func() (scheduler.BatchSource, error) {
			return dataset.NewHTTP(cfg.Data.URL, cfg.Data.Pattern, cfg.Data.Label)
		}, nil, nil
	}
	return nil, nil, fmt.Errorf("no data source configured: pass --data or --url, or set data.path in the config")
}

// runUnderTUI shows the live viewer while run executes and returns run's
// error once the viewer has exited. Quitting the viewer early leaves the
// run to finish in the background; its summary prints afterwards.
func runUnderTUI(ctx context.Context, bus *events.Bus, run func(context.Context) error) error {
	p := tea.NewProgram(tui.New(bus), tea.WithAltScreen())

	runChan := make(chan error, 1)
	go func() { runChan <- run(ctx) }()

	uiChan := make(chan error, 1)
	go func() {
		_, err := p.Run()
		uiChan <- err
	}()

	select {
	case err := <-uiChan:
		if err != nil {
			fmt.Fprintf(os.Stderr, "viewer error: %v\n", err)
		}
	case <-ctx.Done():
		p.Quit()

		// Give the terminal a bounded window to restore itself
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		select {
		case <-uiChan:
		case <-shutdownCtx.Done():
		}
	}

	return <-runChan
}

// saveHistory records a finished or failed run. Uses a fresh context so
// an interrupted run still lands in history.
func saveHistory(cfg *config.Config, record *persistence.Run, trace []scheduler.TraceRecord) error {
	if !cfg.History.Enabled {
		return nil
	}
	path, err := cfg.HistoryPath()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := persistence.NewSQLiteStore(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.SaveRun(ctx, record); err != nil {
		return err
	}
	if len(trace) > 0 {
		return store.AppendTrace(ctx, record.ID, trace)
	}
	return nil
}

// errString flattens an error for run records.
func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// printStats writes the cache and work counters of one run.
func printStats(st scheduler.RunStats) {
	fmt.Printf("tasks:     %d train, %d apply, %d metric\n", st.TrainCount, st.ApplyCount, st.MetricCount)
	fmt.Printf("cache:     %d spills (%s), %d reloads (%s), peak resident %s\n",
		st.SpillCount, humanize.Bytes(uint64(st.SpillSpace)),
		st.LoadCount, humanize.Bytes(uint64(st.LoadSpace)),
		humanize.Bytes(uint64(st.MaxResident)))
	if st.CriticalCount > 0 {
		fmt.Printf("critical:  %d tasks, %v\n", st.CriticalCount, st.CriticalTime)
	}
}

// runLogWriter picks where run logs go: stderr normally, discarded
// while the TUI owns the terminal.
func runLogWriter(tuiActive bool) io.Writer {
	if tuiActive {
		return io.Discard
	}
	return os.Stderr
}

// withRunLogger attaches the command logger to the context.
func withRunLogger(ctx context.Context, tuiActive bool) context.Context {
	return ctxlog.WithLogger(ctx, newLogger(runLogWriter(tuiActive)))
}
