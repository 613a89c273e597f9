// Package pipeline defines trainable steps, the capability surface the
// scheduler dispatches on, and the pipeline graph that wires steps together.
//
// Steps declare capabilities by implementing optional interfaces. The
// scheduler resolves each step's capabilities exactly once when a task graph
// is built, so dispatch during execution is a record lookup rather than
// repeated type probing.
package pipeline

import (
	"fmt"

	"github.com/trellis-ml/trellis/internal/frame"
)

// Trainable is a pipeline step before training.
type Trainable interface {
	// Name identifies the step in logs, visualizations and errors.
	Name() string
	// Fit trains the step on a full slice of data and returns its trained
	// form.
	Fit(X frame.Frame, y *frame.Series) (Trained, error)
}

// Trained is a pipeline step after training. Concrete trained steps
// additionally implement Transformer, Predictor or both.
type Trained interface {
	Name() string
}

// Transformer is a trained step that rewrites features.
type Transformer interface {
	Trained
	Transform(X frame.Frame) (frame.Frame, error)
}

// XYTransformer is a trained step that rewrites features and labels
// together, such as a resampler. Steps that implement it are applied with
// TransformXY whenever labels are in scope.
type XYTransformer interface {
	Trained
	TransformXY(X frame.Frame, y *frame.Series) (frame.Frame, *frame.Series, error)
}

// MultiTransformer is a trained step that accepts the outputs of several
// predecessor steps at once, such as a horizontal feature concatenation.
type MultiTransformer interface {
	Trained
	TransformMulti(Xs []frame.Frame) (frame.Frame, error)
}

// Predictor is a trained step that produces one prediction per input row.
type Predictor interface {
	Trained
	Predict(X frame.Frame) ([]float64, error)
}

// Pretrained marks a trainable whose training is a no-op: fitting it on any
// data yields the embedded trained step unchanged.
type Pretrained interface {
	Trainable
	TrainedStep() Trained
}

// Monoid is a combinable summary of a slice of data. Combine must be
// associative; the scheduler relies on that to fold per-batch monoids in
// any grouping.
type Monoid interface {
	// Combine merges two summaries into one covering both slices.
	Combine(other Monoid) (Monoid, error)
	// Absorbing reports whether combining this monoid with any other yields
	// an equal monoid, which lets the scheduler finish all sibling
	// summaries without computing them.
	Absorbing() bool
}

// MonoidFactory marks an associative step: one that can summarize a batch
// into a Monoid and materialize a trained step from a combined summary.
type MonoidFactory interface {
	Trainable
	ToMonoid(X frame.Frame, y *frame.Series) (Monoid, error)
	FromMonoid(m Monoid) (Trained, error)
}

// PartialFitter marks an incremental step. A bare Trainable starts from
// scratch; a Trained that implements it continues from its current state.
// For steps that need the label universe, classes carries the distinct
// labels across the whole run and is nil otherwise.
type PartialFitter interface {
	PartialFit(X frame.Frame, y *frame.Series, classes []float64) (Trained, error)
}

// NeedsClasses marks supervised steps whose incremental updates must
// receive the full label universe up front.
type NeedsClasses interface {
	NeedsClasses() bool
}

// Estimator marks steps whose trained form predicts labels. Steps without
// the marker are applied as transformers.
type Estimator interface {
	IsEstimator() bool
}

// Caps records a step's resolved capabilities. The scheduler computes it
// once per step at graph-build time.
type Caps struct {
	Pretrained   bool
	Associative  bool
	Incremental  bool
	NeedsClasses bool
	Estimator    bool
}

// ResolveCaps inspects a step's interfaces. Pretrained steps count as both
// associative and incremental: their training is free, so any grouping of
// batches is acceptable.
func ResolveCaps(s Trainable) Caps {
	var c Caps
	if _, ok := s.(Pretrained); ok {
		c.Pretrained = true
	}
	if _, ok := s.(MonoidFactory); ok {
		c.Associative = true
	}
	if _, ok := s.(PartialFitter); ok {
		c.Incremental = true
	}
	if n, ok := s.(NeedsClasses); ok {
		c.NeedsClasses = n.NeedsClasses()
	}
	if e, ok := s.(Estimator); ok {
		c.Estimator = e.IsEstimator()
	}
	if c.Pretrained {
		c.Associative = true
		c.Incremental = true
	}
	return c
}

// MetricFactory scores predictions the same way associative steps train:
// per-batch monoids that combine into a final value.
type MetricFactory interface {
	Name() string
	ToMonoid(yTrue, yPred *frame.Series, X frame.Frame) (Monoid, error)
	FromMonoid(m Monoid) (float64, error)
}

// Score evaluates a metric in one shot.
func Score(m MetricFactory, yTrue, yPred *frame.Series, X frame.Frame) (float64, error) {
	mon, err := m.ToMonoid(yTrue, yPred, X)
	if err != nil {
		return 0, fmt.Errorf("failed to score with %s: %w", m.Name(), err)
	}
	return m.FromMonoid(mon)
}
