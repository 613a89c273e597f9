package operators

import (
	"fmt"

	"github.com/trellis-ml/trellis/internal/frame"
	"github.com/trellis-ml/trellis/internal/pipeline"
)

// Accuracy is the fraction of exact label matches. Its match/total counts
// form a monoid, so batched and one-shot scoring agree exactly.
type Accuracy struct{}

// NewAccuracy returns the accuracy metric.
func NewAccuracy() Accuracy { return Accuracy{} }

// Name returns the metric name.
func (Accuracy) Name() string { return "accuracy" }

// ToMonoid counts matches on one batch of predictions.
func (Accuracy) ToMonoid(yTrue, yPred *frame.Series, X frame.Frame) (pipeline.Monoid, error) {
	if yTrue.Len() != yPred.Len() {
		return nil, fmt.Errorf("got %d predictions for %d labels", yPred.Len(), yTrue.Len())
	}
	m := accuracyMonoid{total: int64(yTrue.Len())}
	for i, want := range yTrue.Vals {
		if yPred.Vals[i] == want {
			m.match++
		}
	}
	return m, nil
}

// FromMonoid converts combined counts into a score in [0, 1].
func (Accuracy) FromMonoid(m pipeline.Monoid) (float64, error) {
	am, ok := m.(accuracyMonoid)
	if !ok {
		return 0, fmt.Errorf("accuracy cannot score from %T", m)
	}
	if am.total == 0 {
		return 0, fmt.Errorf("accuracy of zero predictions")
	}
	return float64(am.match) / float64(am.total), nil
}

type accuracyMonoid struct {
	match int64
	total int64
}

func (m accuracyMonoid) Combine(other pipeline.Monoid) (pipeline.Monoid, error) {
	o, ok := other.(accuracyMonoid)
	if !ok {
		return nil, fmt.Errorf("cannot combine accuracy counts with %T", other)
	}
	return accuracyMonoid{match: m.match + o.match, total: m.total + o.total}, nil
}

func (m accuracyMonoid) Absorbing() bool { return false }

// R2 is the coefficient of determination. Sums of labels, their squares
// and squared residuals combine across batches, so the batched score
// equals the one-shot score.
type R2 struct{}

// NewR2 returns the R squared metric.
func NewR2() R2 { return R2{} }

// Name returns the metric name.
func (R2) Name() string { return "r2" }

// ToMonoid accumulates sums over one batch of predictions.
func (R2) ToMonoid(yTrue, yPred *frame.Series, X frame.Frame) (pipeline.Monoid, error) {
	if yTrue.Len() != yPred.Len() {
		return nil, fmt.Errorf("got %d predictions for %d labels", yPred.Len(), yTrue.Len())
	}
	m := r2Monoid{n: float64(yTrue.Len())}
	for i, want := range yTrue.Vals {
		m.sumY += want
		m.sumYY += want * want
		diff := want - yPred.Vals[i]
		m.ssRes += diff * diff
	}
	return m, nil
}

// FromMonoid converts combined sums into the score.
func (R2) FromMonoid(m pipeline.Monoid) (float64, error) {
	rm, ok := m.(r2Monoid)
	if !ok {
		return 0, fmt.Errorf("r2 cannot score from %T", m)
	}
	if rm.n == 0 {
		return 0, fmt.Errorf("r2 of zero predictions")
	}
	ssTot := rm.sumYY - rm.sumY*rm.sumY/rm.n
	if ssTot == 0 {
		return 0, fmt.Errorf("r2 undefined for constant labels")
	}
	return 1 - rm.ssRes/ssTot, nil
}

type r2Monoid struct {
	n     float64
	sumY  float64
	sumYY float64
	ssRes float64
}

func (m r2Monoid) Combine(other pipeline.Monoid) (pipeline.Monoid, error) {
	o, ok := other.(r2Monoid)
	if !ok {
		return nil, fmt.Errorf("cannot combine r2 sums with %T", other)
	}
	return r2Monoid{n: m.n + o.n, sumY: m.sumY + o.sumY, sumYY: m.sumYY + o.sumYY, ssRes: m.ssRes + o.ssRes}, nil
}

func (m r2Monoid) Absorbing() bool { return false }
