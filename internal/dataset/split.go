// Package dataset loads training data and cuts it into the batch streams
// the scheduler consumes: in-memory splits, CSV files and remote batch
// servers.
package dataset

import (
	"fmt"

	"github.com/trellis-ml/trellis/internal/frame"
	"github.com/trellis-ml/trellis/internal/scheduler"
)

// Split partitions X and y into n contiguous row chunks. Earlier chunks
// are one row longer when the rows do not divide evenly. The chunks share
// storage with the inputs.
func Split(X *frame.Dense, y *frame.Series, n int) ([]scheduler.RawBatch, error) {
	if n < 1 {
		return nil, fmt.Errorf("cannot split into %d batches", n)
	}
	rows := X.NumRows()
	if y != nil && y.Len() != rows {
		return nil, fmt.Errorf("label series has %d values for %d rows", y.Len(), rows)
	}
	if rows < n {
		return nil, fmt.Errorf("cannot split %d rows into %d batches", rows, n)
	}

	base := rows / n
	extra := rows % n
	batches := make([]scheduler.RawBatch, 0, n)
	from := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		b := scheduler.RawBatch{X: X.Slice(from, from+size)}
		if y != nil {
			b.Y = y.Slice(from, from+size)
		}
		batches = append(batches, b)
		from += size
	}
	return batches, nil
}
