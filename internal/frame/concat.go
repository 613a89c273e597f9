package frame

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Concat row-stacks frames into one. All frames must share the same concrete
// kind; mixing kinds is a configuration error, as is an empty input. Only
// Dense frames can be concatenated, and their column names must match
// exactly. A single frame is returned as is.
func Concat(frames []Frame) (Frame, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames to concatenate")
	}
	if len(frames) == 1 {
		return frames[0], nil
	}
	first, ok := frames[0].(*Dense)
	if !ok {
		return nil, fmt.Errorf("cannot concatenate frames of kind %T", frames[0])
	}
	dense := make([]*Dense, len(frames))
	dense[0] = first
	rows := first.NumRows()
	for i, f := range frames[1:] {
		d, ok := f.(*Dense)
		if !ok {
			return nil, fmt.Errorf("cannot concatenate mixed frame kinds %T and %T", frames[0], f)
		}
		if err := sameColumns(first, d); err != nil {
			return nil, err
		}
		dense[i+1] = d
		rows += d.NumRows()
	}
	cols := first.NumCols()
	out := mat.NewDense(rows, cols, nil)
	at := 0
	for _, d := range dense {
		r := d.NumRows()
		for i := 0; i < r; i++ {
			for j := 0; j < cols; j++ {
				out.Set(at+i, j, d.At(i, j))
			}
		}
		at += r
	}
	return NewDense(first.cols, out), nil
}

func sameColumns(a, b *Dense) error {
	if len(a.cols) != len(b.cols) {
		return fmt.Errorf("cannot concatenate frames with %d and %d columns", len(a.cols), len(b.cols))
	}
	for i := range a.cols {
		if a.cols[i] != b.cols[i] {
			return fmt.Errorf("cannot concatenate frames with mismatched column %q vs %q", a.cols[i], b.cols[i])
		}
	}
	return nil
}

// ConcatSeries stacks label series in order, keeping the first name. Indexes
// are concatenated unchanged.
func ConcatSeries(series []*Series) (*Series, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("no series to concatenate")
	}
	if len(series) == 1 {
		return series[0], nil
	}
	n := 0
	for _, s := range series {
		n += s.Len()
	}
	index := make([]int, 0, n)
	vals := make([]float64, 0, n)
	for _, s := range series {
		index = append(index, s.Index...)
		vals = append(vals, s.Vals...)
	}
	return &Series{Name: series[0].Name, Index: index, Vals: vals}, nil
}

// HStack joins frames side by side into one Dense frame, reusing each
// frame's column names. All inputs must be Dense with equal row counts.
func HStack(frames []Frame) (Frame, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames to stack")
	}
	if len(frames) == 1 {
		return frames[0], nil
	}
	rows := -1
	cols := 0
	dense := make([]*Dense, len(frames))
	for i, f := range frames {
		d, ok := f.(*Dense)
		if !ok {
			return nil, fmt.Errorf("cannot stack frames of kind %T", f)
		}
		if rows == -1 {
			rows = d.NumRows()
		} else if d.NumRows() != rows {
			return nil, fmt.Errorf("cannot stack frames with %d and %d rows", rows, d.NumRows())
		}
		dense[i] = d
		cols += d.NumCols()
	}
	names := make([]string, 0, cols)
	out := mat.NewDense(rows, cols, nil)
	at := 0
	for _, d := range dense {
		names = append(names, d.Columns()...)
		for j := 0; j < d.NumCols(); j++ {
			for i := 0; i < rows; i++ {
				out.Set(i, at+j, d.At(i, j))
			}
		}
		at += d.NumCols()
	}
	return NewDense(names, out), nil
}
