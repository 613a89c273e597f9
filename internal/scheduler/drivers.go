package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/trellis-ml/trellis/internal/ctxlog"
	"github.com/trellis-ml/trellis/internal/events"
	"github.com/trellis-ml/trellis/internal/frame"
	"github.com/trellis-ml/trellis/internal/pipeline"
)

// RawBatch pairs one batch of features with its labels.
type RawBatch struct {
	X frame.Frame
	Y *frame.Series
}

// BatchSource yields the input stream one batch at a time. A run pulls
// exactly as many batches as it was shaped for; the order is consumption
// order, so cross-validation expects fold after fold.
type BatchSource interface {
	Next(ctx context.Context) (frame.Frame, *frame.Series, error)
}

// SliceSource is a BatchSource over batches already in memory.
type SliceSource struct {
	batches []RawBatch
	next    int
}

// NewSliceSource creates a source that yields the given batches in order.
func NewSliceSource(batches ...RawBatch) *SliceSource {
	return &SliceSource{batches: batches}
}

// Next returns the next batch, or io.EOF when the source is drained.
func (s *SliceSource) Next(_ context.Context) (frame.Frame, *frame.Series, error) {
	if s.next >= len(s.batches) {
		return nil, nil, io.EOF
	}
	b := s.batches[s.next]
	s.next++
	return b.X, b.Y, nil
}

// Options tune one run.
type Options struct {
	// Scoring computes per-batch metric monoids. Optional for fit,
	// required for cross-validation.
	Scoring pipeline.MetricFactory
	// Classes lists every class label up front, for incremental
	// supervised steps that must size themselves before the first
	// batch arrives.
	Classes []float64
	// MaxResident caps the combined space of resident batches. Zero
	// means unbounded, and only a bounded run ever spills.
	MaxResident int64
	// Policy picks execution and eviction order. Defaults to PrioBatch.
	Policy Policy
	// Incremental lets a fit's apply tasks use models trained only
	// through their own batch instead of waiting for the full model.
	Incremental bool
	// SameFold makes cross-validation retrain upstream transformers
	// per fold instead of sharing them between folds.
	SameFold bool
	// Progress receives the running score after each scored batch.
	Progress func(float64)
	// Bus receives run, task, cache and score events when set.
	Bus *events.Bus
	// RunID tags published events with the owning run.
	RunID string
	// CollectTrace records per-task timing and the critical path in
	// the report.
	CollectTrace bool
}

func (o *Options) policy() Policy {
	if o.Policy == nil {
		return PrioBatch
	}
	return o.Policy
}

func (o *Options) ceiling() int64 {
	if o.MaxResident <= 0 {
		return math.MaxInt64
	}
	return o.MaxResident
}

// Report carries the stats and optional trace of one finished run.
type Report struct {
	Stats RunStats
	Trace []TraceRecord
}

// CVResult is the outcome of one cross-validation: a score per fold and,
// when requested, the pipeline trained on each fold's complement.
type CVResult struct {
	Scores     []float64
	Estimators []*pipeline.TrainedPipeline
}

// FitWithBatches trains the pipeline over nBatches batches drawn from
// source. With Scoring set, each batch is also scored against the
// pipeline's own predictions and reported through Progress and the bus.
func FitWithBatches(ctx context.Context, pipe *pipeline.Pipeline, source BatchSource, nBatches int, opts Options) (*pipeline.TrainedPipeline, *Report, error) {
	if nBatches < 1 {
		return nil, nil, fmt.Errorf("fit needs at least one batch, got %d", nBatches)
	}
	log := ctxlog.FromContext(ctx)
	start := time.Now()
	g := newGraph(pipe)
	buildFitTasks(g, fitBatchIDs(nBatches), opts.Scoring != nil, opts.Incremental)
	if _, err := g.Validate(); err != nil {
		return nil, nil, err
	}
	publishGraphBuilt(&opts, g, "fit")
	report, err := runGraph(ctx, g, source, &opts, log)
	if err != nil {
		publishRunFinished(&opts, "fit", nil, start, err)
		g.Clear()
		return nil, nil, err
	}
	trained, err := extractTrainedPipeline(g, []Fold{FoldID(0)}, nBatches, NoFold)
	g.Clear()
	if err != nil {
		publishRunFinished(&opts, "fit", nil, start, err)
		return nil, nil, err
	}
	publishRunFinished(&opts, "fit", nil, start, nil)
	return trained, report, nil
}

// CrossValScore scores the pipeline by cross-validation: one score per
// fold, each computed on the held-out fold by a pipeline trained on the
// others.
func CrossValScore(ctx context.Context, pipe *pipeline.Pipeline, source BatchSource, nFolds, nPerFold int, opts Options) ([]float64, *Report, error) {
	result, report, err := crossValidate(ctx, pipe, source, nFolds, nPerFold, opts, false)
	if err != nil {
		return nil, nil, err
	}
	return result.Scores, report, nil
}

// CrossValidate is CrossValScore plus, with returnEstimator, the trained
// pipeline behind each fold's score.
func CrossValidate(ctx context.Context, pipe *pipeline.Pipeline, source BatchSource, nFolds, nPerFold int, opts Options, returnEstimator bool) (*CVResult, *Report, error) {
	return crossValidate(ctx, pipe, source, nFolds, nPerFold, opts, returnEstimator)
}

func crossValidate(ctx context.Context, pipe *pipeline.Pipeline, source BatchSource, nFolds, nPerFold int, opts Options, keepEstimator bool) (*CVResult, *Report, error) {
	if opts.Scoring == nil {
		return nil, nil, fmt.Errorf("cross-validation needs a scoring metric")
	}
	if nFolds < 2 {
		return nil, nil, fmt.Errorf("cross-validation needs at least two folds, got %d", nFolds)
	}
	if nPerFold < 1 {
		return nil, nil, fmt.Errorf("cross-validation needs at least one batch per fold, got %d", nPerFold)
	}
	log := ctxlog.FromContext(ctx)
	start := time.Now()
	folds := allFolds(nFolds)
	g := newGraph(pipe)
	buildCrossValTasks(g, folds, nPerFold, opts.SameFold, keepEstimator)
	if _, err := g.Validate(); err != nil {
		return nil, nil, err
	}
	publishGraphBuilt(&opts, g, "cross-val")
	report, err := runGraph(ctx, g, source, &opts, log)
	if err != nil {
		publishRunFinished(&opts, "cross-val", nil, start, err)
		g.Clear()
		return nil, nil, err
	}
	result := &CVResult{}
	result.Scores, err = extractScores(g, folds, nPerFold, opts.Scoring)
	if err == nil && keepEstimator {
		result.Estimators = make([]*pipeline.TrainedPipeline, 0, len(folds))
		for _, heldOut := range folds {
			var est *pipeline.TrainedPipeline
			est, err = extractTrainedPipeline(g, folds, nPerFold, heldOut)
			if err != nil {
				break
			}
			result.Estimators = append(result.Estimators, est)
		}
	}
	g.Clear()
	if err != nil {
		publishRunFinished(&opts, "cross-val", nil, start, err)
		return nil, nil, err
	}
	publishRunFinished(&opts, "cross-val", result.Scores, start, nil)
	return result, report, nil
}

// runGraph executes a built graph and assembles the report.
func runGraph(ctx context.Context, g *Graph, source BatchSource, opts *Options, log *slog.Logger) (*Report, error) {
	cache, err := newBatchCache(g, opts.ceiling(), opts.policy(), log, opts.Bus, opts.RunID)
	if err != nil {
		return nil, err
	}
	defer cache.close()
	r := &runner{
		g:        g,
		cache:    cache,
		source:   source,
		scoring:  opts.Scoring,
		classes:  opts.Classes,
		policy:   opts.policy(),
		ready:    make(map[taskID]bool),
		progress: opts.Progress,
		log:      log,
		bus:      opts.Bus,
		runID:    opts.RunID,
		collect:  opts.CollectTrace,
	}
	if err := r.run(ctx); err != nil {
		return nil, err
	}
	report := &Report{Stats: *cache.stats}
	if opts.CollectTrace {
		analyzeTrace(g, r.trace, &report.Stats)
		report.Trace = renderTrace(g, r.trace)
	}
	return report, nil
}

// extractTrainedPipeline assembles the trained pipeline whose steps were
// trained on every fold except heldOut.
func extractTrainedPipeline(g *Graph, folds []Fold, nPerFold int, heldOut Fold) (*pipeline.TrainedPipeline, error) {
	ids := batchIDsExcept(folds, nPerFold, heldOut)
	steps := g.pipe.Steps()
	trainedSteps := make([]pipeline.Trained, len(steps))
	for stepID := range steps {
		t, ok := g.lookup(KindTrain, stepID, ids, heldOut)
		if !ok {
			panic(fmt.Sprintf("trained task for step %d missing after run", stepID))
		}
		trained, err := g.trainedFrom(t)
		if err != nil {
			return nil, err
		}
		trainedSteps[stepID] = trained
	}
	return pipeline.NewTrained(trainedSteps, g.pipe.Edges())
}

// extractScores reads the per-fold scores off the metric sink tasks.
func extractScores(g *Graph, folds []Fold, nPerFold int, scoring pipeline.MetricFactory) ([]float64, error) {
	scores := make([]float64, 0, len(folds))
	for _, heldOut := range folds {
		t, ok := g.lookup(KindMetric, ScoreStep, foldBatchIDs(heldOut, nPerFold), heldOut)
		if !ok || t.monoid == nil {
			panic(fmt.Sprintf("score for fold %s missing after run", heldOut))
		}
		score, err := scoring.FromMonoid(t.monoid)
		if err != nil {
			return nil, fmt.Errorf("failed to extract score for fold %s: %w", heldOut, err)
		}
		scores = append(scores, score)
	}
	return scores, nil
}

func publishGraphBuilt(opts *Options, g *Graph, mode string) {
	if opts.Bus == nil {
		return
	}
	opts.Bus.Publish(events.TopicRun, events.GraphBuiltEvent{
		Run:       opts.RunID,
		Mode:      mode,
		Tasks:     g.Len(),
		Steps:     len(g.pipe.Steps()),
		Timestamp: time.Now(),
	})
}

func publishRunFinished(opts *Options, mode string, scores []float64, start time.Time, err error) {
	if opts.Bus == nil {
		return
	}
	ev := events.RunFinishedEvent{
		Run:       opts.RunID,
		Mode:      mode,
		Scores:    scores,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	}
	if err != nil {
		ev.Err = err.Error()
	}
	opts.Bus.Publish(events.TopicRun, ev)
}
