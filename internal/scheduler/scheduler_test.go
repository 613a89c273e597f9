package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/trellis-ml/trellis/internal/ctxlog"
	"github.com/trellis-ml/trellis/internal/frame"
	"github.com/trellis-ml/trellis/internal/pipeline"
)

// plainStep is a transformer with neither associative nor incremental
// capabilities, so the scheduler can only train it on a whole slice.
type plainStep struct{}

func (p *plainStep) Name() string { return "plain" }

func (p *plainStep) Fit(X frame.Frame, y *frame.Series) (pipeline.Trained, error) {
	return &trainedPlain{rows: X.NumRows()}, nil
}

// trainedPlain passes features through unchanged and remembers how many
// rows it was trained on.
type trainedPlain struct {
	rows int
}

func (tp *trainedPlain) Name() string { return "plain" }

func (tp *trainedPlain) Transform(X frame.Frame) (frame.Frame, error) { return X, nil }

// absorbStep trains to a data-independent result. Its monoid is
// absorbing, so the summary of one batch already finishes the whole
// training; the call counters expose how often the factory actually ran.
type absorbStep struct {
	toMonoidCalls   int
	fromMonoidCalls int
}

func (a *absorbStep) Name() string { return "absorb" }

func (a *absorbStep) Fit(X frame.Frame, y *frame.Series) (pipeline.Trained, error) {
	m, err := a.ToMonoid(X, y)
	if err != nil {
		return nil, err
	}
	return a.FromMonoid(m)
}

func (a *absorbStep) ToMonoid(X frame.Frame, y *frame.Series) (pipeline.Monoid, error) {
	a.toMonoidCalls++
	return absorbMonoid{}, nil
}

func (a *absorbStep) FromMonoid(m pipeline.Monoid) (pipeline.Trained, error) {
	a.fromMonoidCalls++
	return trainedAbsorb{}, nil
}

type absorbMonoid struct{}

func (absorbMonoid) Combine(other pipeline.Monoid) (pipeline.Monoid, error) {
	return absorbMonoid{}, nil
}

func (absorbMonoid) Absorbing() bool { return true }

type trainedAbsorb struct{}

func (trainedAbsorb) Name() string { return "absorb" }

func (trainedAbsorb) Transform(X frame.Frame) (frame.Frame, error) { return X, nil }

// opaqueFrame implements Frame without being a Dense, for exercising the
// paths that reject frames the spill codec cannot handle.
type opaqueFrame struct {
	rows int
}

func (o opaqueFrame) NumRows() int { return o.rows }

func (o opaqueFrame) Space() int64 { return frame.PlaceholderSpace }

// clusterBatches builds a linearly separable two-class dataset split into
// batches. Rows alternate classes so every batch and every fold covers
// both. All values are small multiples of 0.25, which keeps sums exact in
// float64 no matter how the scheduler groups the batches.
func clusterBatches(nBatches, rowsPerBatch int) []RawBatch {
	batches := make([]RawBatch, nBatches)
	for b := 0; b < nBatches; b++ {
		rows := make([][]float64, rowsPerBatch)
		labels := make([]float64, rowsPerBatch)
		for i := 0; i < rowsPerBatch; i++ {
			k := b*rowsPerBatch + i
			sign := float64(1)
			if k%2 == 0 {
				sign = -1
			}
			rows[i] = []float64{
				sign*2 + 0.25*float64(k%3),
				sign*2 - 0.25*float64(k%4),
			}
			labels[i] = float64(k % 2)
		}
		batches[b] = RawBatch{
			X: frame.FromRows([]string{"x", "y"}, rows),
			Y: frame.NewSeries("label", nil, labels),
		}
	}
	return batches
}

// concatBatches joins batches into the equivalent single batch.
func concatBatches(t *testing.T, batches []RawBatch) RawBatch {
	t.Helper()
	frames := make([]frame.Frame, len(batches))
	labels := make([]*frame.Series, len(batches))
	for i, b := range batches {
		frames[i] = b.X
		labels[i] = b.Y
	}
	X, err := frame.Concat(frames)
	if err != nil {
		t.Fatalf("failed to concat batches: %v", err)
	}
	y, err := frame.ConcatSeries(labels)
	if err != nil {
		t.Fatalf("failed to concat labels: %v", err)
	}
	return RawBatch{X: X, Y: y}
}

// probeFrame returns points well inside each cluster with their labels.
func probeFrame() (*frame.Dense, []float64) {
	X := frame.FromRows([]string{"x", "y"}, [][]float64{
		{-2, -2},
		{2, 2},
		{-1.75, -2.5},
		{1.75, 1.5},
	})
	return X, []float64{0, 1, 0, 1}
}

func predictLabels(t *testing.T, tp *pipeline.TrainedPipeline, X frame.Frame) []float64 {
	t.Helper()
	pred, err := tp.Predict(X)
	if err != nil {
		t.Fatalf("failed to predict: %v", err)
	}
	return pred.Vals
}

func checkFloats(t *testing.T, got, want []float64, label string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %d values, want %d", label, len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("%s: value %d = %v, want %v", label, i, got[i], want[i])
		}
	}
}

// quietCtx returns a context whose logger discards output, keeping
// expected bounded-cache warnings out of the test log.
func quietCtx() context.Context {
	return ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
