package scheduler

import (
	"fmt"
	"math"
	"strconv"

	"github.com/trellis-ml/trellis/internal/pipeline"
)

// TaskKind distinguishes the three kinds of work in a task graph.
type TaskKind uint8

const (
	// KindTrain produces training state: a trained step or a monoid.
	KindTrain TaskKind = iota
	// KindApply produces a data batch by scanning input or applying a
	// trained step.
	KindApply
	// KindMetric produces a metric monoid over predictions.
	KindMetric
)

func (k TaskKind) String() string {
	switch k {
	case KindTrain:
		return "train"
	case KindApply:
		return "apply"
	case KindMetric:
		return "metric"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Status is the lifecycle state of a task. Every task moves from Fresh to
// Ready or Waiting during run setup, and to Done exactly once.
type Status uint8

const (
	// Fresh tasks exist but the run has not started.
	Fresh Status = iota + 1
	// Ready tasks have every predecessor done.
	Ready
	// Waiting tasks have at least one predecessor pending.
	Waiting
	// Done is terminal.
	Done
)

func (s Status) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Ready:
		return "ready"
	case Waiting:
		return "waiting"
	case Done:
		return "done"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Operation is what executing a task actually does. It is derived from the
// task's kind, arity and the step's capabilities rather than stored.
type Operation uint8

const (
	// OpScan pulls the next batch from the input stream.
	OpScan Operation = iota + 1
	// OpTransform applies a trained transformer to a batch.
	OpTransform
	// OpPredict applies a trained estimator to a batch.
	OpPredict
	// OpFit trains a step on one batch or a concatenation.
	OpFit
	// OpPartialFit continues incremental training with one more batch.
	OpPartialFit
	// OpToMonoid summarizes one batch into a combinable monoid.
	OpToMonoid
	// OpCombine folds predecessor monoids into one.
	OpCombine
)

func (o Operation) String() string {
	switch o {
	case OpScan:
		return "scan"
	case OpTransform:
		return "transform"
	case OpPredict:
		return "predict"
	case OpFit:
		return "fit"
	case OpPartialFit:
		return "partial_fit"
	case OpToMonoid:
		return "to_monoid"
	case OpCombine:
		return "combine"
	}
	return fmt.Sprintf("operation(%d)", uint8(o))
}

// Synthetic step ids. InputStep stands for the raw input feed, ScoreStep
// for the metric sink; real steps use their pipeline index.
const (
	InputStep = -1
	ScoreStep = math.MaxInt
)

// taskID indexes the graph's task arena.
type taskID int

// task is one node of the graph. Tasks reference each other by arena index
// only, so tearing down a graph drops the arena without chasing pointer
// cycles.
type task struct {
	id        taskID
	kind      TaskKind
	step      int
	batchIDs  BatchIDs
	heldOut   Fold
	status    Status
	preds     []taskID
	succs     []taskID
	deletable bool

	// Outputs: a train task holds a monoid and/or a trained step, an
	// apply task a batch, a metric task a monoid.
	monoid  pipeline.Monoid
	trained pipeline.Trained
	batch   *Batch
}

type memoKey struct {
	kind    TaskKind
	step    int
	batches string
	heldOut Fold
}

func (t *task) key() memoKey {
	return memoKey{kind: t.kind, step: t.step, batches: t.batchIDs.Key(), heldOut: t.heldOut}
}

// spillName is the unique file stem for this task's spilled batch.
func (t *task) spillName() string {
	name := fmt.Sprintf("%d_%s", t.step, t.batchIDs.Key())
	if t.heldOut != NoFold {
		name += "_" + string(t.heldOut)
	}
	return name
}

func (t *task) String() string {
	step := strconv.Itoa(t.step)
	switch t.step {
	case InputStep:
		step = "INP"
	case ScoreStep:
		step = "SCR"
	}
	held := ""
	if t.heldOut != NoFold {
		held = "#~" + string(t.heldOut)
	}
	return fmt.Sprintf("%s[%s](%s)%s", t.kind, step, t.batchIDs.Key(), held)
}

// trainedFrom lazily materializes the trained step of a train task from
// its monoid.
func (g *Graph) trainedFrom(t *task) (pipeline.Trained, error) {
	if t.trained != nil {
		return t.trained, nil
	}
	if t.monoid == nil {
		panic(fmt.Sprintf("task %s has neither trained step nor monoid", t))
	}
	factory, ok := g.pipe.Steps()[t.step].(pipeline.MonoidFactory)
	if !ok {
		panic(fmt.Sprintf("task %s has a monoid but its step cannot materialize one", t))
	}
	trained, err := factory.FromMonoid(t.monoid)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize %s: %w", t, err)
	}
	t.trained = trained
	return trained, nil
}

// operation derives what executing t does. For train tasks the shape of
// the neighborhood matters: a train task with no train predecessor or
// successor is a whole-slice fit even when the step has richer
// capabilities.
func (g *Graph) operation(t *task) Operation {
	switch t.kind {
	case KindApply:
		if t.step == InputStep {
			return OpScan
		}
		if g.caps[t.step].Estimator {
			return OpPredict
		}
		return OpTransform
	case KindMetric:
		if len(t.batchIDs) == 1 {
			return OpToMonoid
		}
		return OpCombine
	case KindTrain:
		trainNeighbor := false
		for _, p := range t.preds {
			if g.tasks[p].kind == KindTrain {
				trainNeighbor = true
				break
			}
		}
		if !trainNeighbor {
			for _, s := range t.succs {
				if g.tasks[s].kind == KindTrain {
					trainNeighbor = true
					break
				}
			}
		}
		if !trainNeighbor {
			return OpFit
		}
		if g.caps[t.step].Associative {
			if len(t.batchIDs) == 1 {
				return OpToMonoid
			}
			return OpCombine
		}
		return OpPartialFit
	}
	panic(fmt.Sprintf("unknown task kind %d", t.kind))
}
