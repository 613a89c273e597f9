package operators

import (
	"fmt"

	"github.com/trellis-ml/trellis/internal/frame"
	"github.com/trellis-ml/trellis/internal/pipeline"
)

// Project keeps only the named columns. Its training state is independent
// of the data, so its monoid is absorbing: one batch summary already equals
// the summary of any larger slice, and the scheduler can skip the rest.
type Project struct {
	Cols []string
}

// NewProject returns a column selection step.
func NewProject(cols ...string) *Project { return &Project{Cols: cols} }

// Name returns the step name.
func (p *Project) Name() string { return "project" }

// Fit trains on a full slice.
func (p *Project) Fit(X frame.Frame, y *frame.Series) (pipeline.Trained, error) {
	return &trainedProject{cols: p.Cols}, nil
}

// ToMonoid summarizes a batch. The summary carries only the configured
// columns and is absorbing.
func (p *Project) ToMonoid(X frame.Frame, y *frame.Series) (pipeline.Monoid, error) {
	return projectMonoid{cols: p.Cols}, nil
}

// FromMonoid materializes the trained projection.
func (p *Project) FromMonoid(m pipeline.Monoid) (pipeline.Trained, error) {
	pm, ok := m.(projectMonoid)
	if !ok {
		return nil, fmt.Errorf("project cannot materialize from %T", m)
	}
	return &trainedProject{cols: pm.cols}, nil
}

type projectMonoid struct {
	cols []string
}

func (m projectMonoid) Combine(other pipeline.Monoid) (pipeline.Monoid, error) {
	if _, ok := other.(projectMonoid); !ok {
		return nil, fmt.Errorf("cannot combine projection summary with %T", other)
	}
	return m, nil
}

func (m projectMonoid) Absorbing() bool { return true }

type trainedProject struct {
	cols []string
}

func (t *trainedProject) Name() string { return "project" }

func (t *trainedProject) Transform(X frame.Frame) (frame.Frame, error) {
	d, err := asDense(X)
	if err != nil {
		return nil, err
	}
	idx := make([]int, len(t.cols))
	for k, name := range t.cols {
		idx[k] = -1
		for j, have := range d.Columns() {
			if have == name {
				idx[k] = j
				break
			}
		}
		if idx[k] == -1 {
			return nil, fmt.Errorf("projection column %q not in frame", name)
		}
	}
	rows := make([][]float64, d.NumRows())
	for i := range rows {
		row := make([]float64, len(idx))
		for k, j := range idx {
			row[k] = d.At(i, j)
		}
		rows[i] = row
	}
	return frame.FromRows(t.cols, rows), nil
}
