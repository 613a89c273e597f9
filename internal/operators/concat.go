package operators

import (
	"github.com/trellis-ml/trellis/internal/frame"
	"github.com/trellis-ml/trellis/internal/pipeline"
)

// ConcatFeatures joins the outputs of several predecessor steps side by
// side. It has no training state, so it is pretrained.
type ConcatFeatures struct{}

// NewConcatFeatures returns a horizontal feature concatenation step.
func NewConcatFeatures() *ConcatFeatures { return &ConcatFeatures{} }

// Name returns the step name.
func (c *ConcatFeatures) Name() string { return "concat_features" }

// Fit is a no-op.
func (c *ConcatFeatures) Fit(X frame.Frame, y *frame.Series) (pipeline.Trained, error) {
	return trainedConcat{}, nil
}

// TrainedStep returns the ready-to-use step.
func (c *ConcatFeatures) TrainedStep() pipeline.Trained { return trainedConcat{} }

type trainedConcat struct{}

func (trainedConcat) Name() string { return "concat_features" }

func (trainedConcat) TransformMulti(Xs []frame.Frame) (frame.Frame, error) {
	return frame.HStack(Xs)
}

func (trainedConcat) Transform(X frame.Frame) (frame.Frame, error) { return X, nil }

// Frozen wraps an already-trained step as a pretrained pipeline step, for
// reusing a trained step inside a new pipeline without refitting it.
type Frozen struct {
	Step pipeline.Trained
}

// NewFrozen wraps a trained step.
func NewFrozen(step pipeline.Trained) *Frozen { return &Frozen{Step: step} }

// Name returns the wrapped step's name.
func (f *Frozen) Name() string { return f.Step.Name() }

// Fit is a no-op returning the wrapped step.
func (f *Frozen) Fit(X frame.Frame, y *frame.Series) (pipeline.Trained, error) {
	return f.Step, nil
}

// TrainedStep returns the wrapped step.
func (f *Frozen) TrainedStep() pipeline.Trained { return f.Step }

// IsEstimator reports whether the wrapped step predicts rather than
// transforms.
func (f *Frozen) IsEstimator() bool {
	_, predicts := f.Step.(pipeline.Predictor)
	_, transforms := f.Step.(pipeline.Transformer)
	return predicts && !transforms
}
