// Package frame provides the tabular data model that batches of training
// data flow through: a Frame of float64 features plus a Series of labels.
//
// Dense is the in-memory implementation backed by a gonum matrix and is the
// only kind the spill codec understands. The Frame interface is deliberately
// open so callers can feed other representations through the scheduler; such
// frames report a placeholder space estimate and cannot be spilled or
// concatenated.
package frame

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// PlaceholderSpace is the space estimate for frames that cannot report
// their real size.
const PlaceholderSpace = 1

// Frame is a read-only table of float64 features.
type Frame interface {
	// NumRows returns the number of rows in the table.
	NumRows() int
	// Space returns the estimated in-memory size in bytes. Implementations
	// that cannot compute a real size return PlaceholderSpace.
	Space() int64
}

// Dense is an in-memory frame: named columns over a gonum dense matrix.
type Dense struct {
	cols []string
	data *mat.Dense
}

// NewDense wraps a matrix and its column names into a frame. It panics if
// the number of names does not match the matrix width.
func NewDense(cols []string, data *mat.Dense) *Dense {
	_, c := data.Dims()
	if len(cols) != c {
		panic(fmt.Sprintf("frame: %d column names for %d columns", len(cols), c))
	}
	return &Dense{cols: cols, data: data}
}

// FromRows builds a dense frame from row slices. All rows must have one
// value per column.
func FromRows(cols []string, rows [][]float64) *Dense {
	data := make([]float64, 0, len(rows)*len(cols))
	for i, row := range rows {
		if len(row) != len(cols) {
			panic(fmt.Sprintf("frame: row %d has %d values for %d columns", i, len(row), len(cols)))
		}
		data = append(data, row...)
	}
	return &Dense{cols: cols, data: mat.NewDense(len(rows), len(cols), data)}
}

// NumRows returns the number of rows.
func (d *Dense) NumRows() int {
	r, _ := d.data.Dims()
	return r
}

// NumCols returns the number of columns.
func (d *Dense) NumCols() int {
	_, c := d.data.Dims()
	return c
}

// Columns returns the column names. The slice must not be modified.
func (d *Dense) Columns() []string { return d.cols }

// Mat returns the underlying matrix. The matrix must not be modified.
func (d *Dense) Mat() *mat.Dense { return d.data }

// At returns the value at row i, column j.
func (d *Dense) At(i, j int) float64 { return d.data.At(i, j) }

// Space returns the exact payload size: eight bytes per cell plus the
// column name bytes.
func (d *Dense) Space() int64 {
	r, c := d.data.Dims()
	space := int64(r) * int64(c) * 8
	for _, name := range d.cols {
		space += int64(len(name))
	}
	return space
}

// Slice returns a new frame sharing the rows [from, to) of d.
func (d *Dense) Slice(from, to int) *Dense {
	_, c := d.data.Dims()
	return &Dense{cols: d.cols, data: d.data.Slice(from, to, 0, c).(*mat.Dense)}
}

// Series is a labeled float64 vector with a row index, used for label
// columns and predictions.
type Series struct {
	Name  string
	Index []int
	Vals  []float64
}

// NewSeries builds a series. A nil index defaults to 0..len(vals)-1.
func NewSeries(name string, index []int, vals []float64) *Series {
	if index == nil {
		index = make([]int, len(vals))
		for i := range index {
			index[i] = i
		}
	}
	if len(index) != len(vals) {
		panic(fmt.Sprintf("frame: series index length %d does not match %d values", len(index), len(vals)))
	}
	return &Series{Name: name, Index: index, Vals: vals}
}

// Len returns the number of values.
func (s *Series) Len() int { return len(s.Vals) }

// Space returns the exact payload size of values, index and name.
func (s *Series) Space() int64 {
	return int64(len(s.Vals))*8 + int64(len(s.Index))*8 + int64(len(s.Name))
}

// Slice returns a new series over the rows [from, to) of s, sharing storage.
func (s *Series) Slice(from, to int) *Series {
	return &Series{Name: s.Name, Index: s.Index[from:to], Vals: s.Vals[from:to]}
}

// Unique returns the distinct values of s in ascending order.
func (s *Series) Unique() []float64 {
	seen := make(map[float64]struct{}, len(s.Vals))
	for _, v := range s.Vals {
		seen[v] = struct{}{}
	}
	out := make([]float64, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}
