// Package operators provides a small set of concrete pipeline steps and
// metrics. They cover the capability variants the scheduler dispatches on:
// associative summaries (Scaler, NaiveBayes, Project), incremental updates
// (SGD, NaiveBayes), pretrained steps (ConcatFeatures, Frozen) and plain
// steps that only support whole-slice fitting.
package operators

import (
	"fmt"

	"github.com/trellis-ml/trellis/internal/frame"
)

func asDense(X frame.Frame) (*frame.Dense, error) {
	d, ok := X.(*frame.Dense)
	if !ok {
		return nil, fmt.Errorf("operator requires dense frames, got %T", X)
	}
	return d, nil
}

func checkLabels(d *frame.Dense, y *frame.Series) error {
	if y == nil {
		return fmt.Errorf("operator requires labels")
	}
	if y.Len() != d.NumRows() {
		return fmt.Errorf("got %d labels for %d rows", y.Len(), d.NumRows())
	}
	return nil
}
