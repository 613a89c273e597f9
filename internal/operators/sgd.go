package operators

import (
	"fmt"
	"math"

	"github.com/trellis-ml/trellis/internal/frame"
	"github.com/trellis-ml/trellis/internal/pipeline"
)

// SGD is a multiclass perceptron trained by stochastic gradient descent
// with a fixed learning rate. It is incremental but not associative:
// batch order matters, so the scheduler must feed batches as a chain.
type SGD struct {
	// LearningRate defaults to 0.1 when zero.
	LearningRate float64
}

// NewSGD returns a perceptron step with the default learning rate.
func NewSGD() *SGD { return &SGD{} }

// Name returns the step name.
func (s *SGD) Name() string { return "sgd" }

// NeedsClasses reports that incremental updates need the label universe
// up front to size the weight matrix.
func (s *SGD) NeedsClasses() bool { return true }

// IsEstimator reports that the trained form predicts labels.
func (s *SGD) IsEstimator() bool { return true }

func (s *SGD) rate() float64 {
	if s.LearningRate > 0 {
		return s.LearningRate
	}
	return 0.1
}

// Fit trains on a full slice in one deterministic pass, deriving the label
// universe from y.
func (s *SGD) Fit(X frame.Frame, y *frame.Series) (pipeline.Trained, error) {
	return s.PartialFit(X, y, nil)
}

// PartialFit starts training from zero weights. classes fixes the label
// universe; when nil it is derived from this batch, and later updates
// reject labels outside it.
func (s *SGD) PartialFit(X frame.Frame, y *frame.Series, classes []float64) (pipeline.Trained, error) {
	d, err := asDense(X)
	if err != nil {
		return nil, err
	}
	if err := checkLabels(d, y); err != nil {
		return nil, err
	}
	if classes == nil {
		classes = y.Unique()
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("sgd needs at least one class label")
	}
	t := &trainedSGD{
		rate:    s.rate(),
		classes: classes,
		weights: make([][]float64, len(classes)),
		bias:    make([]float64, len(classes)),
	}
	for k := range t.weights {
		t.weights[k] = make([]float64, d.NumCols())
	}
	return t.PartialFit(X, y, classes)
}

type trainedSGD struct {
	rate    float64
	classes []float64
	weights [][]float64
	bias    []float64
}

func (t *trainedSGD) Name() string { return "sgd" }

func (t *trainedSGD) classIndex(label float64) int {
	for k, c := range t.classes {
		if c == label {
			return k
		}
	}
	return -1
}

// PartialFit runs one perceptron pass over the batch, continuing from the
// current weights.
func (t *trainedSGD) PartialFit(X frame.Frame, y *frame.Series, classes []float64) (pipeline.Trained, error) {
	d, err := asDense(X)
	if err != nil {
		return nil, err
	}
	if err := checkLabels(d, y); err != nil {
		return nil, err
	}
	if d.NumCols() != len(t.weights[0]) {
		return nil, fmt.Errorf("sgd trained on %d columns, got %d", len(t.weights[0]), d.NumCols())
	}
	out := t.clone()
	for i := 0; i < d.NumRows(); i++ {
		want := out.classIndex(y.Vals[i])
		if want < 0 {
			return nil, fmt.Errorf("label %v outside the declared classes", y.Vals[i])
		}
		got := out.predictRow(d, i)
		if got == want {
			continue
		}
		for j := 0; j < d.NumCols(); j++ {
			v := d.At(i, j)
			out.weights[want][j] += out.rate * v
			out.weights[got][j] -= out.rate * v
		}
		out.bias[want] += out.rate
		out.bias[got] -= out.rate
	}
	return out, nil
}

func (t *trainedSGD) clone() *trainedSGD {
	out := &trainedSGD{
		rate:    t.rate,
		classes: t.classes,
		weights: make([][]float64, len(t.weights)),
		bias:    make([]float64, len(t.bias)),
	}
	copy(out.bias, t.bias)
	for k := range t.weights {
		out.weights[k] = make([]float64, len(t.weights[k]))
		copy(out.weights[k], t.weights[k])
	}
	return out
}

func (t *trainedSGD) predictRow(d *frame.Dense, i int) int {
	best, bestScore := 0, math.Inf(-1)
	for k := range t.weights {
		score := t.bias[k]
		for j := 0; j < d.NumCols(); j++ {
			score += t.weights[k][j] * d.At(i, j)
		}
		if score > bestScore {
			best, bestScore = k, score
		}
	}
	return best
}

func (t *trainedSGD) Predict(X frame.Frame) ([]float64, error) {
	d, err := asDense(X)
	if err != nil {
		return nil, err
	}
	if d.NumCols() != len(t.weights[0]) {
		return nil, fmt.Errorf("sgd trained on %d columns, got %d", len(t.weights[0]), d.NumCols())
	}
	out := make([]float64, d.NumRows())
	for i := range out {
		out[i] = t.classes[t.predictRow(d, i)]
	}
	return out, nil
}
