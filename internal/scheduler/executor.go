package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trellis-ml/trellis/internal/events"
	"github.com/trellis-ml/trellis/internal/frame"
	"github.com/trellis-ml/trellis/internal/pipeline"
)

// runner drives a built task graph to completion: repeatedly pick the
// highest-priority ready task, execute its operation, and propagate
// done-ness through the graph.
type runner struct {
	g        *Graph
	cache    *batchCache
	source   BatchSource
	scoring  pipeline.MetricFactory
	classes  []float64
	policy   Policy
	ready    map[taskID]bool
	progress func(float64)
	log      *slog.Logger
	bus      *events.Bus
	runID    string
	collect  bool
	trace    []traceEntry
}

func (r *runner) run(ctx context.Context) error {
	for _, t := range r.g.tasks {
		if t.status != Fresh {
			panic(fmt.Sprintf("task %s is %s before the run started", t, t.status))
		}
		if len(t.preds) == 0 {
			t.status = Ready
			r.ready[t.id] = true
		} else {
			t.status = Waiting
		}
	}
	for len(r.ready) > 0 {
		t := r.pickReady()
		op := r.g.operation(t)
		start := time.Now()
		if err := r.execute(ctx, t, op); err != nil {
			return err
		}
		elapsed := time.Since(start)
		var space int64
		if t.batch != nil {
			space = t.batch.space
		}
		if r.collect {
			r.trace = append(r.trace, traceEntry{t: t, op: op, dur: elapsed, space: space})
		}
		r.markDone(t)
		r.log.Debug("executed task", "op", op.String(), "task", t.String(), "elapsed", elapsed)
		if r.bus != nil {
			r.bus.Publish(events.TopicTask, events.TaskExecutedEvent{
				Run:       r.runID,
				Task:      fmt.Sprintf("%s(%s)", r.g.stepName(t.step), t.batchIDs.Key()),
				Op:        op.String(),
				Duration:  elapsed,
				Space:     space,
				Remaining: len(r.ready),
				Timestamp: time.Now(),
			})
		}
	}
	return nil
}

// pickReady returns the ready task with the lowest priority, breaking
// ties by creation order so runs are reproducible.
func (r *runner) pickReady() *task {
	var best *task
	var bestPrio Priority
	for id := range r.ready {
		t := r.g.tasks[id]
		p := r.policy.taskPriority(r.g, t)
		switch {
		case best == nil || p.Less(bestPrio):
			best, bestPrio = t, p
		case !bestPrio.Less(p) && t.id < best.id:
			best = t
		}
	}
	return best
}

func (r *runner) execute(ctx context.Context, t *task, op Operation) error {
	switch op {
	case OpScan:
		return r.scan(ctx, t)
	case OpTransform, OpPredict:
		return r.apply(t, op)
	case OpFit:
		return r.fit(t)
	case OpPartialFit:
		return r.partialFit(t)
	case OpToMonoid:
		return r.toMonoid(t)
	case OpCombine:
		return r.combine(t)
	}
	panic(fmt.Sprintf("unknown operation %d", op))
}

// scan pulls the next batch from the input stream. Space is reserved
// before the pull so the new batch never lands over the ceiling.
func (r *runner) scan(ctx context.Context, t *task) error {
	if len(t.batchIDs) != 1 || len(t.preds) != 0 {
		panic(fmt.Sprintf("scan task %s has unexpected shape", t))
	}
	if err := r.cache.ensureSpace(r.cache.estimateSpace(t), nil); err != nil {
		return err
	}
	X, y, err := r.source.Next(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan batch %s: %w", t.batchIDs, err)
	}
	t.batch = newBatch(t.spillName(), t.id, X, y)
	return nil
}

func (r *runner) findTrainPred(t *task) *task {
	var found *task
	for _, p := range t.preds {
		if pred := r.g.tasks[p]; pred.kind == KindTrain {
			if found != nil {
				panic(fmt.Sprintf("task %s has multiple train preds", t))
			}
			found = pred
		}
	}
	if found == nil {
		panic(fmt.Sprintf("task %s has no train pred", t))
	}
	return found
}

func (r *runner) findApplyPred(t *task) *task {
	var found *task
	for _, p := range t.preds {
		if pred := r.g.tasks[p]; pred.kind == KindApply {
			if found != nil {
				panic(fmt.Sprintf("task %s has multiple apply preds", t))
			}
			found = pred
		}
	}
	if found == nil {
		panic(fmt.Sprintf("task %s has no apply pred", t))
	}
	return found
}

// apply runs a trained step over one batch. A step with several
// predecessor steps receives all their frames at once and the labels of
// the first, on the invariant that transformers pass labels through
// unchanged.
func (r *runner) apply(t *task, op Operation) error {
	if len(t.batchIDs) != 1 {
		panic(fmt.Sprintf("apply task %s has multiple batches", t))
	}
	trained, err := r.g.trainedFrom(r.findTrainPred(t))
	if err != nil {
		return err
	}
	applyPreds := r.cache.applyPreds(t)
	if err := r.cache.loadInputBatches(t); err != nil {
		return err
	}
	noSpill := make(map[*Batch]bool, len(applyPreds))
	for _, pred := range applyPreds {
		noSpill[pred.batch] = true
	}
	if len(applyPreds) > 1 {
		if op == OpPredict {
			return fmt.Errorf("predictor step %q cannot take %d inputs, insert a feature concat step", trained.Name(), len(applyPreds))
		}
		inputs := make([]frame.Frame, len(applyPreds))
		for i, pred := range applyPreds {
			inputs[i], _ = pred.batch.XY()
		}
		_, inputY := applyPreds[0].batch.XY()
		if err := r.cache.ensureSpace(r.cache.estimateSpace(t), noSpill); err != nil {
			return err
		}
		multi, ok := trained.(pipeline.MultiTransformer)
		if !ok {
			return fmt.Errorf("step %q cannot combine %d inputs", trained.Name(), len(applyPreds))
		}
		outX, err := multi.TransformMulti(inputs)
		if err != nil {
			return fmt.Errorf("failed to transform %s: %w", t, err)
		}
		t.batch = newBatch(t.spillName(), t.id, outX, inputY)
		return nil
	}
	inputX, inputY := applyPreds[0].batch.XY()
	if err := r.cache.ensureSpace(r.cache.estimateSpace(t), noSpill); err != nil {
		return err
	}
	if op == OpPredict {
		predictor, ok := trained.(pipeline.Predictor)
		if !ok {
			return fmt.Errorf("step %q is not a predictor", trained.Name())
		}
		vals, err := predictor.Predict(inputX)
		if err != nil {
			return fmt.Errorf("failed to predict %s: %w", t, err)
		}
		var index []int
		if inputY != nil {
			index = inputY.Index
		}
		t.batch = newBatch(t.spillName(), t.id, inputX, frame.NewSeries("y_pred", index, vals))
		return nil
	}
	var outX frame.Frame
	outY := inputY
	switch trans := trained.(type) {
	case pipeline.XYTransformer:
		outX, outY, err = trans.TransformXY(inputX, inputY)
	case pipeline.Transformer:
		outX, err = trans.Transform(inputX)
	default:
		return fmt.Errorf("step %q is not a transformer", trained.Name())
	}
	if err != nil {
		return fmt.Errorf("failed to transform %s: %w", t, err)
	}
	t.batch = newBatch(t.spillName(), t.id, outX, outY)
	return nil
}

// fit trains a step in one shot, concatenating input batches when the
// whole slice arrives split.
func (r *runner) fit(t *task) error {
	step := r.g.pipe.Steps()[t.step]
	if r.g.caps[t.step].Pretrained {
		if len(t.preds) != 0 {
			panic(fmt.Sprintf("pretrained task %s has preds", t))
		}
		t.trained = step.(pipeline.Pretrained).TrainedStep()
		return nil
	}
	applyPreds := r.cache.applyPreds(t)
	if len(applyPreds) != len(t.preds) {
		panic(fmt.Sprintf("fit task %s has non-apply preds", t))
	}
	if err := r.cache.loadInputBatches(t); err != nil {
		return err
	}
	var X frame.Frame
	var y *frame.Series
	if len(applyPreds) == 1 {
		X, y = applyPreds[0].batch.XY()
	} else {
		if r.g.caps[t.step].Incremental {
			panic(fmt.Sprintf("task %s should have trained incrementally", t))
		}
		frames := make([]frame.Frame, len(applyPreds))
		labels := make([]*frame.Series, 0, len(applyPreds))
		for i, pred := range applyPreds {
			var py *frame.Series
			frames[i], py = pred.batch.XY()
			if py != nil {
				labels = append(labels, py)
			}
		}
		var err error
		X, err = frame.Concat(frames)
		if err != nil {
			return fmt.Errorf("failed to assemble input for %s: %w", t, err)
		}
		if len(labels) == len(applyPreds) {
			y, err = frame.ConcatSeries(labels)
			if err != nil {
				return fmt.Errorf("failed to assemble labels for %s: %w", t, err)
			}
		}
	}
	trained, err := step.Fit(X, y)
	if err != nil {
		return fmt.Errorf("failed to fit %s: %w", t, err)
	}
	t.trained = trained
	return nil
}

// partialFit feeds one more batch into incremental training. The first
// batch starts from the bare step, later batches continue from the
// carried-forward trained step.
func (r *runner) partialFit(t *task) error {
	if len(t.preds) != 1 && len(t.preds) != 2 {
		panic(fmt.Sprintf("partial fit task %s has %d preds", t, len(t.preds)))
	}
	var trainee any = r.g.pipe.Steps()[t.step]
	if len(t.preds) == 2 {
		trained, err := r.g.trainedFrom(r.findTrainPred(t))
		if err != nil {
			return err
		}
		trainee = trained
	}
	applyPred := r.findApplyPred(t)
	if err := r.cache.loadInputBatches(t); err != nil {
		return err
	}
	X, y := applyPred.batch.XY()
	fitter, ok := trainee.(pipeline.PartialFitter)
	if !ok {
		return fmt.Errorf("step %q does not support incremental training", r.g.stepName(t.step))
	}
	var classes []float64
	if r.g.caps[t.step].NeedsClasses {
		classes = r.classes
	}
	trained, err := fitter.PartialFit(X, y, classes)
	if err != nil {
		return fmt.Errorf("failed to partially fit %s: %w", t, err)
	}
	t.trained = trained
	return nil
}

// toMonoid summarizes one batch: a train task lifts it into the step's
// monoid, a metric task scores labels against predictions.
func (r *runner) toMonoid(t *task) error {
	if len(t.batchIDs) != 1 {
		panic(fmt.Sprintf("task %s has %d batches", t, len(t.batchIDs)))
	}
	if err := r.cache.loadInputBatches(t); err != nil {
		return err
	}
	switch t.kind {
	case KindTrain:
		if len(t.preds) != 1 {
			panic(fmt.Sprintf("train task %s has %d preds", t, len(t.preds)))
		}
		X, y := r.g.tasks[t.preds[0]].batch.XY()
		factory, ok := r.g.pipe.Steps()[t.step].(pipeline.MonoidFactory)
		if !ok {
			panic(fmt.Sprintf("step %q scheduled for monoid training without a monoid", r.g.stepName(t.step)))
		}
		monoid, err := factory.ToMonoid(X, y)
		if err != nil {
			return fmt.Errorf("failed to summarize %s: %w", t, err)
		}
		t.monoid = monoid
	case KindMetric:
		if len(t.preds) != 2 {
			panic(fmt.Sprintf("metric task %s has %d preds", t, len(t.preds)))
		}
		if r.scoring == nil {
			panic(fmt.Sprintf("metric task %s scheduled without a scoring metric", t))
		}
		input := r.g.tasks[t.preds[0]]
		if input.step != InputStep {
			panic(fmt.Sprintf("metric task %s has preds out of order", t))
		}
		X, yTrue := input.batch.XY()
		_, yPred := r.g.tasks[t.preds[1]].batch.XY()
		monoid, err := r.scoring.ToMonoid(yTrue, yPred, X)
		if err != nil {
			return fmt.Errorf("failed to score %s: %w", t, err)
		}
		t.monoid = monoid
		if r.progress != nil || r.bus != nil {
			score, err := r.scoring.FromMonoid(monoid)
			if err != nil {
				return fmt.Errorf("failed to score %s: %w", t, err)
			}
			if r.progress != nil {
				r.progress(score)
			}
			if r.bus != nil {
				r.bus.Publish(events.TopicScore, events.ScoreUpdatedEvent{
					Run:       r.runID,
					Fold:      string(t.heldOut),
					Batches:   t.batchIDs.Key(),
					Score:     score,
					Timestamp: time.Now(),
				})
			}
		}
	default:
		panic(fmt.Sprintf("task %s cannot produce a monoid", t))
	}
	return nil
}

// combine folds predecessor monoids left to right.
func (r *runner) combine(t *task) error {
	if len(t.batchIDs) <= 1 {
		panic(fmt.Sprintf("combine task %s has a single batch", t))
	}
	if len(t.preds) != len(t.batchIDs) {
		panic(fmt.Sprintf("combine task %s has %d preds for %d batches", t, len(t.preds), len(t.batchIDs)))
	}
	if err := r.cache.loadInputBatches(t); err != nil {
		return err
	}
	var acc pipeline.Monoid
	for _, p := range t.preds {
		pred := r.g.tasks[p]
		if pred.kind != t.kind {
			panic(fmt.Sprintf("combine task %s has a %s pred", t, pred.kind))
		}
		if pred.monoid == nil {
			panic(fmt.Sprintf("combine pred %s has no monoid", pred))
		}
		if acc == nil {
			acc = pred.monoid
			continue
		}
		next, err := acc.Combine(pred.monoid)
		if err != nil {
			return fmt.Errorf("failed to combine summaries for %s: %w", t, err)
		}
		acc = next
	}
	t.monoid = acc
	return nil
}

// tryToDeleteOutput drops a task's output once nothing can want it
// anymore. It also fires on already-done tasks, so a task finishing can
// release predecessors whose last consumer it was.
func (r *runner) tryToDeleteOutput(t *task) {
	if !t.deletable {
		return
	}
	for _, s := range t.succs {
		if r.g.tasks[s].status != Done {
			return
		}
	}
	switch t.kind {
	case KindApply:
		if t.batch != nil {
			t.batch.deleteSpilled(r.cache.spillDir)
		}
		t.batch = nil
	case KindTrain:
		t.monoid = nil
		t.trained = nil
	case KindMetric:
		t.monoid = nil
	}
}

// markDone finishes a task: free its output if possible, promote waiting
// successors whose inputs are now complete, and walk back over
// predecessors that just lost their last pending consumer. A train task
// that produced an absorbing monoid finishes every sibling task of the
// same step outright, since combining can never change the result again.
func (r *runner) markDone(t *task) {
	r.tryToDeleteOutput(t)
	if t.status == Done {
		return
	}
	if t.status == Ready {
		delete(r.ready, t.id)
	}
	t.status = Done
	for _, s := range t.succs {
		succ := r.g.tasks[s]
		if succ.status != Waiting {
			continue
		}
		allDone := true
		for _, p := range succ.preds {
			if r.g.tasks[p].status != Done {
				allDone = false
				break
			}
		}
		if allDone {
			succ.status = Ready
			r.ready[succ.id] = true
		}
	}
	for _, p := range t.preds {
		pred := r.g.tasks[p]
		allDone := true
		for _, s := range pred.succs {
			if r.g.tasks[s].status != Done {
				allDone = false
				break
			}
		}
		if allDone {
			r.markDone(pred)
		}
	}
	if t.kind == KindTrain && r.g.operation(t) == OpToMonoid && t.monoid != nil && t.monoid.Absorbing() {
		for _, other := range r.g.tasks {
			if other.status == Done || other.kind != KindTrain {
				continue
			}
			if other.step != t.step || other.heldOut != t.heldOut {
				continue
			}
			other.monoid = t.monoid
			r.markDone(other)
		}
	}
}
