package scheduler

// buildFitTasks populates g with the task graph of a plain fit over
// allIDs. Seeds are one whole-stream train task per step, plus one metric
// task per batch when scoring is requested; the worklist then expands
// each task into its predecessors until the graph bottoms out at input
// scans.
//
// With incremental set, an apply task for batch i depends on the model
// trained through batch i only, so transformed batches and partial
// scores become available while training is still in flight. Otherwise
// every apply waits for the fully trained step.
func buildFitTasks(g *Graph, allIDs BatchIDs, needMetrics bool, incremental bool) {
	for stepID := range g.pipe.Steps() {
		t := g.findOrCreate(KindTrain, stepID, allIDs, NoFold)
		t.deletable = false
	}
	if needMetrics {
		for _, id := range allIDs {
			t := g.findOrCreate(KindMetric, ScoreStep, BatchIDs{id}, NoFold)
			t.deletable = false
		}
	}
	for len(g.fresh) > 0 {
		t := g.popFresh()
		switch t.kind {
		case KindTrain:
			caps := g.caps[t.step]
			switch {
			case caps.Pretrained:
				// nothing to train, no predecessors
			case len(t.batchIDs) == 1:
				for _, pred := range g.stepPreds[t.step] {
					t.preds = append(t.preds, g.findOrCreate(KindApply, pred, t.batchIDs, NoFold).id)
				}
			case caps.Associative:
				for _, id := range t.batchIDs {
					t.preds = append(t.preds, g.findOrCreate(KindTrain, t.step, BatchIDs{id}, NoFold).id)
				}
			case caps.Incremental:
				t.preds = append(t.preds, g.findOrCreate(KindTrain, t.step, t.batchIDs[:len(t.batchIDs)-1], NoFold).id)
				last := t.batchIDs[len(t.batchIDs)-1:]
				for _, pred := range g.stepPreds[t.step] {
					t.preds = append(t.preds, g.findOrCreate(KindApply, pred, last, NoFold).id)
				}
			default:
				for _, pred := range g.stepPreds[t.step] {
					for _, id := range t.batchIDs {
						t.preds = append(t.preds, g.findOrCreate(KindApply, pred, BatchIDs{id}, NoFold).id)
					}
				}
			}
		case KindApply:
			if t.step != InputStep {
				fitUpto := len(allIDs)
				if incremental {
					fitUpto = t.batchIDs[len(t.batchIDs)-1].Idx + 1
				}
				fold := t.batchIDs[len(t.batchIDs)-1].Fold
				t.preds = append(t.preds, g.findOrCreate(KindTrain, t.step, foldBatchIDs(fold, fitUpto), NoFold).id)
				for _, pred := range g.stepPreds[t.step] {
					t.preds = append(t.preds, g.findOrCreate(KindApply, pred, t.batchIDs, NoFold).id)
				}
			}
		case KindMetric:
			// Metric tasks in a fit graph are per-batch. The input scan
			// comes first: the executor reads labels from preds[0] and
			// predictions from preds[1].
			t.preds = append(t.preds, g.findOrCreate(KindApply, InputStep, t.batchIDs, NoFold).id)
			t.preds = append(t.preds, g.findOrCreate(KindApply, g.pipe.Sink(), t.batchIDs, NoFold).id)
		}
		for _, p := range t.preds {
			g.tasks[p].succs = append(g.tasks[p].succs, t.id)
		}
	}
}
