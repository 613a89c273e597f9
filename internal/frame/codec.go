package frame

import (
	"encoding/gob"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
)

// The spill codec serializes Dense frames and Series with encoding/gob so
// that evicted batches reload bit-identical. Only Dense frames are
// supported; the scheduler rejects other kinds before reaching the codec.

type denseWire struct {
	Cols []string
	Rows int
	Data []float64
}

type seriesWire struct {
	Name  string
	Index []int
	Vals  []float64
}

// WriteDense encodes a dense frame to w.
func WriteDense(w io.Writer, d *Dense) error {
	r, c := d.data.Dims()
	wire := denseWire{Cols: d.cols, Rows: r, Data: make([]float64, 0, r*c)}
	for i := 0; i < r; i++ {
		wire.Data = append(wire.Data, d.data.RawRowView(i)...)
	}
	if err := gob.NewEncoder(w).Encode(wire); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return nil
}

// ReadDense decodes a dense frame from r.
func ReadDense(r io.Reader) (*Dense, error) {
	var wire denseWire
	if err := gob.NewDecoder(r).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	cols := len(wire.Cols)
	if wire.Rows == 0 || cols == 0 || wire.Rows*cols != len(wire.Data) {
		return nil, fmt.Errorf("decoded frame has inconsistent shape %dx%d with %d values", wire.Rows, cols, len(wire.Data))
	}
	return NewDense(wire.Cols, mat.NewDense(wire.Rows, cols, wire.Data)), nil
}

// WriteSeries encodes a series to w.
func WriteSeries(w io.Writer, s *Series) error {
	if err := gob.NewEncoder(w).Encode(seriesWire{Name: s.Name, Index: s.Index, Vals: s.Vals}); err != nil {
		return fmt.Errorf("failed to encode series: %w", err)
	}
	return nil
}

// ReadSeries decodes a series from r.
func ReadSeries(r io.Reader) (*Series, error) {
	var wire seriesWire
	if err := gob.NewDecoder(r).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode series: %w", err)
	}
	return &Series{Name: wire.Name, Index: wire.Index, Vals: wire.Vals}, nil
}
