package scheduler

import (
	"math"
	"os"
	"strings"
	"testing"

	"github.com/trellis-ml/trellis/internal/frame"
	"github.com/trellis-ml/trellis/internal/operators"
	"github.com/trellis-ml/trellis/internal/pipeline"
)

// TestBatchSpillRoundTrip tests moving a batch to disk and back.
func TestBatchSpillRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rows := [][]float64{{0.25, -1}, {1.5, 2}, {3, -0.75}}
	X := frame.FromRows([]string{"x", "y"}, rows)
	y := frame.NewSeries("label", nil, []float64{0, 1, 1})
	b := newBatch("0_d0", 0, X, y)
	space := b.Space()
	if space <= 0 {
		t.Fatalf("batch space = %d, want positive", space)
	}

	if err := b.spill(dir); err != nil {
		t.Fatalf("failed to spill: %v", err)
	}
	if !b.spilled {
		t.Errorf("batch should be marked spilled")
	}
	if _, err := os.Stat(b.pathX(dir)); err != nil {
		t.Errorf("spilled feature file missing: %v", err)
	}
	if _, err := os.Stat(b.pathY(dir)); err != nil {
		t.Errorf("spilled label file missing: %v", err)
	}
	if b.Space() != space {
		t.Errorf("space changed from %d to %d across spill", space, b.Space())
	}
	if err := b.spill(dir); err != nil {
		t.Errorf("spilling a spilled batch should be a no-op, got %v", err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("XY should panic on a spilled batch")
			}
		}()
		b.XY()
	}()

	if err := b.load(dir); err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	X2, y2 := b.XY()
	dense, ok := X2.(*frame.Dense)
	if !ok {
		t.Fatalf("loaded frame has type %T, want *frame.Dense", X2)
	}
	for i, row := range rows {
		for j, want := range row {
			if got := dense.At(i, j); got != want {
				t.Errorf("loaded value (%d,%d) = %v, want %v", i, j, got, want)
			}
		}
	}
	checkFloats(t, y2.Vals, []float64{0, 1, 1}, "loaded labels")

	if err := b.spill(dir); err != nil {
		t.Fatalf("failed to re-spill: %v", err)
	}
	b.deleteSpilled(dir)
	if _, err := os.Stat(b.pathX(dir)); !os.IsNotExist(err) {
		t.Errorf("feature file should be deleted, stat err = %v", err)
	}
	if _, err := os.Stat(b.pathY(dir)); !os.IsNotExist(err) {
		t.Errorf("label file should be deleted, stat err = %v", err)
	}
}

// TestSpillRejectsNonDense tests that only dense frames go to disk.
func TestSpillRejectsNonDense(t *testing.T) {
	b := newBatch("1_d0", 0, opaqueFrame{rows: 4}, nil)
	err := b.spill(t.TempDir())
	if err == nil {
		t.Fatalf("spilling an opaque frame should fail")
	}
	if !strings.Contains(err.Error(), "does not round-trip") {
		t.Errorf("error message %q doesn't name the round-trip problem", err.Error())
	}
}

// scanCacheGraph builds a two-batch associative fit graph with resident
// batches on both input scans, statuses set the way run startup would
// leave them. Returns the graph and the two scan batches in batch-id
// order.
func scanCacheGraph(t *testing.T) (*Graph, *Batch, *Batch) {
	t.Helper()
	g := newGraph(pipeline.NewLinear(operators.NewScaler()))
	buildFitTasks(g, fitBatchIDs(2), false, false)

	scan0 := mustLookup(t, g, KindApply, InputStep, foldBatchIDs("d", 1), NoFold)
	scan1 := mustLookup(t, g, KindApply, InputStep, fitBatchIDs(2)[1:], NoFold)
	tr0 := mustLookup(t, g, KindTrain, 0, foldBatchIDs("d", 1), NoFold)
	tr1 := mustLookup(t, g, KindTrain, 0, fitBatchIDs(2)[1:], NoFold)
	root := mustLookup(t, g, KindTrain, 0, fitBatchIDs(2), NoFold)

	X := frame.FromRows([]string{"x", "y"}, [][]float64{{1, 2}, {3, 4}})
	y := frame.NewSeries("label", nil, []float64{0, 1})
	b0 := newBatch(scan0.spillName(), scan0.id, X, y)
	b1 := newBatch(scan1.spillName(), scan1.id, X, y)
	scan0.batch, scan1.batch = b0, b1
	scan0.status, scan1.status = Done, Done
	tr0.status, tr1.status = Ready, Ready
	root.status = Waiting
	return g, b0, b1
}

// TestEstimateSpace tests output-size guessing before and after a batch
// of the same step exists.
func TestEstimateSpace(t *testing.T) {
	g := newGraph(pipeline.NewLinear(operators.NewScaler(), operators.NewSGD()))
	buildFitTasks(g, fitBatchIDs(2), true, false)
	c, err := newBatchCache(g, math.MaxInt64, PrioBatch, testLogger(), nil, "run")
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	defer c.close()

	d0 := foldBatchIDs("d", 1)
	scan0 := mustLookup(t, g, KindApply, InputStep, d0, NoFold)
	if got := c.estimateSpace(scan0); got != 1 {
		t.Errorf("first scan estimate = %d, want the minimum 1", got)
	}

	X := frame.FromRows([]string{"x", "y"}, [][]float64{{1, 2}, {3, 4}, {5, 6}})
	scan0.batch = newBatch(scan0.spillName(), scan0.id, X, frame.NewSeries("label", nil, []float64{0, 1, 0}))
	scan1 := mustLookup(t, g, KindApply, InputStep, fitBatchIDs(2)[1:], NoFold)
	if got := c.estimateSpace(scan1); got != scan0.batch.Space() {
		t.Errorf("second scan estimate = %d, want sibling size %d", got, scan0.batch.Space())
	}

	// A transform with no sibling batch assumes it preserves input size.
	scaled0 := mustLookup(t, g, KindApply, 0, d0, NoFold)
	if got := c.estimateSpace(scaled0); got != scan0.batch.Space() {
		t.Errorf("transform estimate = %d, want input size %d", got, scan0.batch.Space())
	}

	// Once any batch of the step exists it becomes the estimate.
	scaled1 := mustLookup(t, g, KindApply, 0, fitBatchIDs(2)[1:], NoFold)
	scaled1.batch = newBatch(scaled1.spillName(), scaled1.id, frame.FromRows([]string{"x"}, [][]float64{{1}}), nil)
	if got := c.estimateSpace(scaled0); got != scaled1.batch.Space() {
		t.Errorf("transform estimate = %d, want sibling size %d", got, scaled1.batch.Space())
	}
}

// TestEnsureSpaceEvictionOrder tests that the cache spills the batch
// whose pending consumers are least urgent under the policy.
func TestEnsureSpaceEvictionOrder(t *testing.T) {
	g, b0, b1 := scanCacheGraph(t)
	space := b0.Space()
	c, err := newBatchCache(g, 2*space+space/2, PrioBatch, testLogger(), nil, "run")
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	defer c.close()

	if err := c.ensureSpace(space, nil); err != nil {
		t.Fatalf("ensureSpace failed: %v", err)
	}
	if !b1.spilled {
		t.Errorf("batch d1 should be spilled, its consumer sorts after d0's")
	}
	if b0.spilled {
		t.Errorf("batch d0 should stay resident")
	}
	if c.stats.SpillCount != 1 || c.stats.SpillSpace != space {
		t.Errorf("stats = %d spills of %d space, want 1 of %d", c.stats.SpillCount, c.stats.SpillSpace, space)
	}
	if c.stats.MinResident != space {
		t.Errorf("MinResident = %d, want %d", c.stats.MinResident, space)
	}
}

// TestEnsureSpacePinned tests that pinned batches survive eviction and
// the cache moves on to the next candidate.
func TestEnsureSpacePinned(t *testing.T) {
	g, b0, b1 := scanCacheGraph(t)
	space := b0.Space()
	c, err := newBatchCache(g, 2*space+space/2, PrioBatch, testLogger(), nil, "run")
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	defer c.close()

	if err := c.ensureSpace(space, map[*Batch]bool{b1: true}); err != nil {
		t.Fatalf("ensureSpace failed: %v", err)
	}
	if b1.spilled {
		t.Errorf("pinned batch should not be spilled")
	}
	if !b0.spilled {
		t.Errorf("the unpinned batch should be spilled instead")
	}
	if c.stats.SpillCount != 1 {
		t.Errorf("SpillCount = %d, want 1", c.stats.SpillCount)
	}
}

// TestEnsureSpaceExhausted tests that a pinned set larger than the
// ceiling makes the cache overshoot instead of failing the run.
func TestEnsureSpaceExhausted(t *testing.T) {
	g, b0, b1 := scanCacheGraph(t)
	space := b0.Space()
	c, err := newBatchCache(g, 2*space+space/2, PrioBatch, testLogger(), nil, "run")
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	defer c.close()

	if err := c.ensureSpace(space, map[*Batch]bool{b0: true, b1: true}); err != nil {
		t.Fatalf("ensureSpace should overshoot, not fail: %v", err)
	}
	if b0.spilled || b1.spilled {
		t.Errorf("no batch should be spilled when all are pinned")
	}
	if c.stats.SpillCount != 0 {
		t.Errorf("SpillCount = %d, want 0", c.stats.SpillCount)
	}
	if want := 3 * space; c.stats.MinResident != want {
		t.Errorf("MinResident = %d, want %d", c.stats.MinResident, want)
	}
}

// TestLoadInputBatches tests bringing spilled inputs back before a task
// runs.
func TestLoadInputBatches(t *testing.T) {
	g, b0, b1 := scanCacheGraph(t)
	space := b0.Space()
	c, err := newBatchCache(g, 2*space+space/2, PrioBatch, testLogger(), nil, "run")
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	defer c.close()

	if err := b0.spill(c.spillDir); err != nil {
		t.Fatalf("failed to spill: %v", err)
	}
	tr0 := mustLookup(t, g, KindTrain, 0, foldBatchIDs("d", 1), NoFold)
	if err := c.loadInputBatches(tr0); err != nil {
		t.Fatalf("loadInputBatches failed: %v", err)
	}
	if b0.spilled {
		t.Errorf("input batch should be resident after load")
	}
	if b1.spilled {
		t.Errorf("the other batch fits under the ceiling and should stay resident")
	}
	if c.stats.LoadCount != 1 || c.stats.LoadSpace != space {
		t.Errorf("stats = %d loads of %d space, want 1 of %d", c.stats.LoadCount, c.stats.LoadSpace, space)
	}
	X, y := b0.XY()
	if X.NumRows() != 2 || y.Len() != 2 {
		t.Errorf("loaded batch has %d rows and %d labels, want 2 and 2", X.NumRows(), y.Len())
	}
}
