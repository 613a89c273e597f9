package scheduler

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/trellis-ml/trellis/internal/frame"
)

// Batch is the output of an apply task: a feature frame plus aligned
// labels. A batch is either resident in memory or spilled to disk. Space
// is measured once at construction so spill accounting stays stable after
// the contents move to disk.
type Batch struct {
	name    string
	owner   taskID
	X       frame.Frame
	y       *frame.Series
	space   int64
	hasY    bool
	spilled bool
}

func newBatch(name string, owner taskID, X frame.Frame, y *frame.Series) *Batch {
	b := &Batch{name: name, owner: owner, X: X, y: y, hasY: y != nil}
	if X != nil {
		b.space += X.Space()
	}
	if y != nil {
		b.space += y.Space()
	}
	return b
}

// XY returns the batch contents. It panics when the batch is spilled;
// callers go through the cache, which loads batches before use.
func (b *Batch) XY() (frame.Frame, *frame.Series) {
	if b.spilled {
		panic(fmt.Sprintf("batch %s is spilled", b.name))
	}
	return b.X, b.y
}

// Space returns the batch size in the same units the cache budgets in.
func (b *Batch) Space() int64 {
	return b.space
}

func (b *Batch) pathX(dir string) string {
	return filepath.Join(dir, "X_"+b.name+".gob")
}

func (b *Batch) pathY(dir string) string {
	return filepath.Join(dir, "y_"+b.name+".gob")
}

// spill writes the batch to dir and releases the in-memory contents.
// Only dense frames round-trip through disk.
func (b *Batch) spill(dir string) error {
	if b.spilled {
		return nil
	}
	dense, ok := b.X.(*frame.Dense)
	if !ok {
		return fmt.Errorf("cannot spill batch %s: frame type %T does not round-trip through disk", b.name, b.X)
	}
	fx, err := os.Create(b.pathX(dir))
	if err != nil {
		return fmt.Errorf("failed to create spill file for batch %s: %w", b.name, err)
	}
	if err := frame.WriteDense(fx, dense); err != nil {
		fx.Close()
		return fmt.Errorf("failed to spill batch %s: %w", b.name, err)
	}
	if err := fx.Close(); err != nil {
		return fmt.Errorf("failed to close spill file for batch %s: %w", b.name, err)
	}
	if b.hasY {
		fy, err := os.Create(b.pathY(dir))
		if err != nil {
			return fmt.Errorf("failed to create spill file for batch %s: %w", b.name, err)
		}
		if err := frame.WriteSeries(fy, b.y); err != nil {
			fy.Close()
			return fmt.Errorf("failed to spill batch %s: %w", b.name, err)
		}
		if err := fy.Close(); err != nil {
			return fmt.Errorf("failed to close spill file for batch %s: %w", b.name, err)
		}
	}
	b.X, b.y = nil, nil
	b.spilled = true
	return nil
}

// load reads a spilled batch back into memory.
func (b *Batch) load(dir string) error {
	if !b.spilled {
		return nil
	}
	fx, err := os.Open(b.pathX(dir))
	if err != nil {
		return fmt.Errorf("failed to open spill file for batch %s: %w", b.name, err)
	}
	dense, err := frame.ReadDense(fx)
	fx.Close()
	if err != nil {
		return fmt.Errorf("failed to load batch %s: %w", b.name, err)
	}
	b.X = dense
	if b.hasY {
		fy, err := os.Open(b.pathY(dir))
		if err != nil {
			return fmt.Errorf("failed to open spill file for batch %s: %w", b.name, err)
		}
		series, err := frame.ReadSeries(fy)
		fy.Close()
		if err != nil {
			return fmt.Errorf("failed to load batch %s: %w", b.name, err)
		}
		b.y = series
	}
	b.spilled = false
	return nil
}

// deleteSpilled removes the on-disk copy if one exists. Removal is best
// effort; the cache deletes its whole spill directory on teardown.
func (b *Batch) deleteSpilled(dir string) {
	if !b.spilled || dir == "" {
		return
	}
	os.Remove(b.pathX(dir))
	if b.hasY {
		os.Remove(b.pathY(dir))
	}
}
