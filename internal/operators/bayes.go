package operators

import (
	"fmt"
	"math"
	"sort"

	"github.com/trellis-ml/trellis/internal/frame"
	"github.com/trellis-ml/trellis/internal/pipeline"
)

// varSmoothing keeps Gaussian variances away from zero.
const varSmoothing = 1e-9

// NaiveBayes is a Gaussian naive Bayes classifier. Its per-class count,
// sum and sum-of-squares statistics form a monoid, so it is associative;
// it also supports incremental updates, which lets tests exercise the
// scheduler's preference of associative over incremental training.
type NaiveBayes struct{}

// NewNaiveBayes returns a Gaussian naive Bayes step.
func NewNaiveBayes() *NaiveBayes { return &NaiveBayes{} }

// Name returns the step name.
func (nb *NaiveBayes) Name() string { return "naive_bayes" }

// NeedsClasses reports that incremental updates want the label universe.
func (nb *NaiveBayes) NeedsClasses() bool { return true }

// IsEstimator reports that the trained form predicts labels.
func (nb *NaiveBayes) IsEstimator() bool { return true }

// Fit trains on a full slice.
func (nb *NaiveBayes) Fit(X frame.Frame, y *frame.Series) (pipeline.Trained, error) {
	m, err := nb.ToMonoid(X, y)
	if err != nil {
		return nil, err
	}
	return nb.FromMonoid(m)
}

// PartialFit starts incremental training from scratch on one batch.
func (nb *NaiveBayes) PartialFit(X frame.Frame, y *frame.Series, classes []float64) (pipeline.Trained, error) {
	m, err := nb.ToMonoid(X, y)
	if err != nil {
		return nil, err
	}
	return nb.FromMonoid(m)
}

// ToMonoid summarizes one batch into per-class statistics.
func (nb *NaiveBayes) ToMonoid(X frame.Frame, y *frame.Series) (pipeline.Monoid, error) {
	d, err := asDense(X)
	if err != nil {
		return nil, err
	}
	if err := checkLabels(d, y); err != nil {
		return nil, err
	}
	m := &bayesMonoid{cols: d.NumCols(), classes: make(map[float64]*classStats)}
	for i := 0; i < d.NumRows(); i++ {
		cs := m.classes[y.Vals[i]]
		if cs == nil {
			cs = &classStats{
				sum:   make([]float64, d.NumCols()),
				sumSq: make([]float64, d.NumCols()),
			}
			m.classes[y.Vals[i]] = cs
		}
		cs.n++
		for j := 0; j < d.NumCols(); j++ {
			v := d.At(i, j)
			cs.sum[j] += v
			cs.sumSq[j] += v * v
		}
	}
	return m, nil
}

// FromMonoid materializes the trained classifier.
func (nb *NaiveBayes) FromMonoid(m pipeline.Monoid) (pipeline.Trained, error) {
	bm, ok := m.(*bayesMonoid)
	if !ok {
		return nil, fmt.Errorf("naive bayes cannot materialize from %T", m)
	}
	return &trainedBayes{monoid: bm}, nil
}

type classStats struct {
	n     float64
	sum   []float64
	sumSq []float64
}

type bayesMonoid struct {
	cols    int
	classes map[float64]*classStats
}

func (m *bayesMonoid) Combine(other pipeline.Monoid) (pipeline.Monoid, error) {
	o, ok := other.(*bayesMonoid)
	if !ok {
		return nil, fmt.Errorf("cannot combine naive bayes summary with %T", other)
	}
	if m.cols != o.cols {
		return nil, fmt.Errorf("cannot combine naive bayes summaries over %d and %d columns", m.cols, o.cols)
	}
	out := &bayesMonoid{cols: m.cols, classes: make(map[float64]*classStats)}
	for label, cs := range m.classes {
		out.classes[label] = cs.clone()
	}
	for label, cs := range o.classes {
		if have := out.classes[label]; have != nil {
			have.n += cs.n
			for j := range cs.sum {
				have.sum[j] += cs.sum[j]
				have.sumSq[j] += cs.sumSq[j]
			}
		} else {
			out.classes[label] = cs.clone()
		}
	}
	return out, nil
}

func (m *bayesMonoid) Absorbing() bool { return false }

func (cs *classStats) clone() *classStats {
	out := &classStats{n: cs.n, sum: make([]float64, len(cs.sum)), sumSq: make([]float64, len(cs.sumSq))}
	copy(out.sum, cs.sum)
	copy(out.sumSq, cs.sumSq)
	return out
}

type trainedBayes struct {
	monoid *bayesMonoid
}

func (t *trainedBayes) Name() string { return "naive_bayes" }

// PartialFit folds one more batch into the statistics.
func (t *trainedBayes) PartialFit(X frame.Frame, y *frame.Series, classes []float64) (pipeline.Trained, error) {
	more, err := (&NaiveBayes{}).ToMonoid(X, y)
	if err != nil {
		return nil, err
	}
	combined, err := t.monoid.Combine(more)
	if err != nil {
		return nil, err
	}
	return &trainedBayes{monoid: combined.(*bayesMonoid)}, nil
}

func (t *trainedBayes) Predict(X frame.Frame) ([]float64, error) {
	d, err := asDense(X)
	if err != nil {
		return nil, err
	}
	if d.NumCols() != t.monoid.cols {
		return nil, fmt.Errorf("naive bayes trained on %d columns, got %d", t.monoid.cols, d.NumCols())
	}
	labels := make([]float64, 0, len(t.monoid.classes))
	for label := range t.monoid.classes {
		labels = append(labels, label)
	}
	sort.Float64s(labels)
	total := 0.0
	for _, cs := range t.monoid.classes {
		total += cs.n
	}
	out := make([]float64, d.NumRows())
	for i := 0; i < d.NumRows(); i++ {
		best := math.Inf(-1)
		for _, label := range labels {
			cs := t.monoid.classes[label]
			ll := math.Log(cs.n / total)
			for j := 0; j < d.NumCols(); j++ {
				mean := cs.sum[j] / cs.n
				variance := cs.sumSq[j]/cs.n - mean*mean
				if variance < varSmoothing {
					variance = varSmoothing
				}
				diff := d.At(i, j) - mean
				ll += -0.5*math.Log(2*math.Pi*variance) - diff*diff/(2*variance)
			}
			if ll > best {
				best = ll
				out[i] = label
			}
		}
	}
	return out, nil
}
