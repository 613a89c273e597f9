package operators

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/trellis-ml/trellis/internal/frame"
	"github.com/trellis-ml/trellis/internal/pipeline"
)

// Scaler standardizes features to zero mean and unit variance. It is
// associative: per-batch sums combine in any grouping.
type Scaler struct{}

// NewScaler returns a standard scaler step.
func NewScaler() *Scaler { return &Scaler{} }

// Name returns the step name.
func (s *Scaler) Name() string { return "scaler" }

// Fit trains on a full slice by summarizing it and materializing the
// result.
func (s *Scaler) Fit(X frame.Frame, y *frame.Series) (pipeline.Trained, error) {
	m, err := s.ToMonoid(X, y)
	if err != nil {
		return nil, err
	}
	return s.FromMonoid(m)
}

// ToMonoid summarizes a batch into per-column count, sum and sum of
// squares.
func (s *Scaler) ToMonoid(X frame.Frame, y *frame.Series) (pipeline.Monoid, error) {
	d, err := asDense(X)
	if err != nil {
		return nil, err
	}
	m := &scalerMonoid{
		cols:  d.Columns(),
		n:     float64(d.NumRows()),
		sum:   make([]float64, d.NumCols()),
		sumSq: make([]float64, d.NumCols()),
	}
	for i := 0; i < d.NumRows(); i++ {
		for j := 0; j < d.NumCols(); j++ {
			v := d.At(i, j)
			m.sum[j] += v
			m.sumSq[j] += v * v
		}
	}
	return m, nil
}

// FromMonoid materializes the trained scaler from a combined summary.
func (s *Scaler) FromMonoid(m pipeline.Monoid) (pipeline.Trained, error) {
	sm, ok := m.(*scalerMonoid)
	if !ok {
		return nil, fmt.Errorf("scaler cannot materialize from %T", m)
	}
	mean := make([]float64, len(sm.sum))
	scale := make([]float64, len(sm.sum))
	for j := range sm.sum {
		mean[j] = sm.sum[j] / sm.n
		variance := sm.sumSq[j]/sm.n - mean[j]*mean[j]
		if variance <= 0 {
			scale[j] = 1
		} else {
			scale[j] = math.Sqrt(variance)
		}
	}
	return &trainedScaler{cols: sm.cols, mean: mean, scale: scale}, nil
}

type scalerMonoid struct {
	cols  []string
	n     float64
	sum   []float64
	sumSq []float64
}

func (m *scalerMonoid) Combine(other pipeline.Monoid) (pipeline.Monoid, error) {
	o, ok := other.(*scalerMonoid)
	if !ok {
		return nil, fmt.Errorf("cannot combine scaler summary with %T", other)
	}
	if len(m.sum) != len(o.sum) {
		return nil, fmt.Errorf("cannot combine scaler summaries over %d and %d columns", len(m.sum), len(o.sum))
	}
	out := &scalerMonoid{
		cols:  m.cols,
		n:     m.n + o.n,
		sum:   append([]float64(nil), m.sum...),
		sumSq: append([]float64(nil), m.sumSq...),
	}
	floats.Add(out.sum, o.sum)
	floats.Add(out.sumSq, o.sumSq)
	return out, nil
}

func (m *scalerMonoid) Absorbing() bool { return false }

type trainedScaler struct {
	cols  []string
	mean  []float64
	scale []float64
}

func (t *trainedScaler) Name() string { return "scaler" }

func (t *trainedScaler) Transform(X frame.Frame) (frame.Frame, error) {
	d, err := asDense(X)
	if err != nil {
		return nil, err
	}
	if d.NumCols() != len(t.mean) {
		return nil, fmt.Errorf("scaler trained on %d columns, got %d", len(t.mean), d.NumCols())
	}
	rows := make([][]float64, d.NumRows())
	for i := range rows {
		row := make([]float64, d.NumCols())
		for j := range row {
			row[j] = (d.At(i, j) - t.mean[j]) / t.scale[j]
		}
		rows[i] = row
	}
	return frame.FromRows(d.Columns(), rows), nil
}
