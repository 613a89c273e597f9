package scheduler

import "fmt"

// missingFold returns the one fold of folds that no id in ids belongs to.
func missingFold(folds []Fold, ids BatchIDs) Fold {
	seen := make(map[Fold]bool, len(folds))
	for _, id := range ids {
		seen[id.Fold] = true
	}
	missing := NoFold
	count := 0
	for _, fold := range folds {
		if !seen[fold] {
			missing = fold
			count++
		}
	}
	if count != 1 {
		panic(fmt.Sprintf("expected exactly one missing fold in %s, found %d", ids, count))
	}
	return missing
}

// buildCrossValTasks populates g with the task graph of one
// cross-validation run: one metric per held-out fold, each scored by a
// pipeline trained on the remaining folds. With keepEstimator the
// per-fold trained steps survive the run so the driver can extract one
// trained pipeline per fold.
//
// The held-out marker keeps otherwise identical tasks apart. With
// sameFold, upstream transformers are re-trained per fold exactly like
// the estimator; without it, a transformer's training tasks drop the
// marker where the batch ids alone identify the work, so folds share
// them.
func buildCrossValTasks(g *Graph, folds []Fold, nPerFold int, sameFold, keepEstimator bool) {
	for _, heldOut := range folds {
		t := g.findOrCreate(KindMetric, ScoreStep, foldBatchIDs(heldOut, nPerFold), heldOut)
		t.deletable = false
	}
	if keepEstimator {
		for stepID := range g.pipe.Steps() {
			for _, heldOut := range folds {
				t := g.findOrCreate(KindTrain, stepID, batchIDsExcept(folds, nPerFold, heldOut), heldOut)
				t.deletable = false
			}
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
					var heldOut Fold
					switch {
					case pred == InputStep:
						heldOut = NoFold
					case sameFold:
						heldOut = t.heldOut
					default:
						heldOut = t.batchIDs[0].Fold
					}
					t.preds = append(t.preds, g.findOrCreate(KindApply, pred, t.batchIDs, heldOut).id)
				}
			default:
				var heldOut Fold
				if len(g.stepPreds[t.step]) == 1 && g.stepPreds[t.step][0] == InputStep {
					heldOut = NoFold
				} else if t.heldOut == NoFold {
					heldOut = missingFold(folds, t.batchIDs)
				} else {
					heldOut = t.heldOut
				}
				switch {
				case caps.Associative:
					if !sameFold {
						heldOut = NoFold
					}
					for _, id := range t.batchIDs {
						t.preds = append(t.preds, g.findOrCreate(KindTrain, t.step, BatchIDs{id}, heldOut).id)
					}
				case caps.Incremental:
					t.preds = append(t.preds, g.findOrCreate(KindTrain, t.step, t.batchIDs[:len(t.batchIDs)-1], heldOut).id)
					last := t.batchIDs[len(t.batchIDs)-1:]
					for _, pred := range g.stepPreds[t.step] {
						if pred != InputStep && !sameFold {
							heldOut = t.batchIDs[0].Fold
						}
						t.preds = append(t.preds, g.findOrCreate(KindApply, pred, last, heldOut).id)
					}
				default:
					for _, pred := range g.stepPreds[t.step] {
						if pred != InputStep && !sameFold {
							heldOut = t.batchIDs[0].Fold
						}
						for _, id := range t.batchIDs {
							t.preds = append(t.preds, g.findOrCreate(KindApply, pred, BatchIDs{id}, heldOut).id)
						}
					}
				}
			}
		case KindApply:
			if t.step != InputStep {
				t.preds = append(t.preds, g.findOrCreate(KindTrain, t.step, batchIDsExcept(folds, nPerFold, t.heldOut), NoFold).id)
				for _, pred := range g.stepPreds[t.step] {
					heldOut := t.heldOut
					if pred == InputStep {
						heldOut = NoFold
					}
					t.preds = append(t.preds, g.findOrCreate(KindApply, pred, t.batchIDs, heldOut).id)
				}
			}
		case KindMetric:
			if len(t.batchIDs) == 1 {
				t.preds = append(t.preds, g.findOrCreate(KindApply, InputStep, t.batchIDs, NoFold).id)
				t.preds = append(t.preds, g.findOrCreate(KindApply, g.pipe.Sink(), t.batchIDs, t.heldOut).id)
			} else {
				for _, id := range t.batchIDs {
					t.preds = append(t.preds, g.findOrCreate(KindMetric, t.step, BatchIDs{id}, t.heldOut).id)
				}
			}
		}
		for _, p := range t.preds {
			g.tasks[p].succs = append(g.tasks[p].succs, t.id)
		}
	}
}
