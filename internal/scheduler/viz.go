package scheduler

import (
	"fmt"
	"io"
	"strings"

	"github.com/trellis-ml/trellis/internal/pipeline"
)

// writeDOT renders the task graph in Graphviz dot format. Fill color
// tracks task status, node style tracks task kind, and the task the
// policy would run next is highlighted.
func writeDOT(w io.Writer, g *Graph, policy Policy) error {
	var next *task
	var nextPrio Priority
	for _, t := range g.tasks {
		p := policy.taskPriority(g, t)
		if next == nil || p.Less(nextPrio) {
			next, nextPrio = t, p
		}
	}
	var b strings.Builder
	b.WriteString("digraph tasks {\n")
	b.WriteString("  graph [rankdir=LR nodesep=0.1]\n")
	b.WriteString("  node [fontsize=11 margin=\"0.03,0.03\" shape=box height=0.1]\n")
	for _, t := range g.tasks {
		color := "white"
		switch t.status {
		case Ready:
			if t == next {
				color = "lightgreen"
			} else {
				color = "yellow"
			}
		case Waiting:
			color = "coral"
		case Done:
			color = "lightgray"
		}
		var style string
		switch t.kind {
		case KindTrain:
			style = "filled,rounded"
		case KindApply:
			style = "filled"
		case KindMetric:
			style = "filled,diagonals"
		}
		held := ""
		if t.heldOut != NoFold {
			held = "#~" + string(t.heldOut)
		}
		label := fmt.Sprintf("%s\\n%s(%s)%s", g.operation(t), g.stepName(t.step), t.batchIDs.Key(), held)
		fmt.Fprintf(&b, "  n%d [label=\"%s\" style=\"%s\" fillcolor=\"%s\"]\n", t.id, escapeDOT(label), style, color)
	}
	for _, t := range g.tasks {
		for _, s := range t.succs {
			fmt.Fprintf(&b, "  n%d -> n%d\n", t.id, s)
		}
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func escapeDOT(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// FitGraphDOT renders the task graph a fit run would execute, without
// running it.
func FitGraphDOT(w io.Writer, pipe *pipeline.Pipeline, nBatches int, scored, incremental bool, policy Policy) error {
	if nBatches < 1 {
		return fmt.Errorf("fit needs at least one batch, got %d", nBatches)
	}
	if policy == nil {
		policy = PrioBatch
	}
	g := newGraph(pipe)
	buildFitTasks(g, fitBatchIDs(nBatches), scored, incremental)
	if _, err := g.Validate(); err != nil {
		return err
	}
	err := writeDOT(w, g, policy)
	g.Clear()
	return err
}

// CrossValGraphDOT renders the task graph a cross-validation run would
// execute, without running it.
func CrossValGraphDOT(w io.Writer, pipe *pipeline.Pipeline, nFolds, nPerFold int, sameFold, keepEstimator bool, policy Policy) error {
	if nFolds < 2 {
		return fmt.Errorf("cross-validation needs at least two folds, got %d", nFolds)
	}
	if nPerFold < 1 {
		return fmt.Errorf("cross-validation needs at least one batch per fold, got %d", nPerFold)
	}
	if policy == nil {
		policy = PrioBatch
	}
	g := newGraph(pipe)
	buildCrossValTasks(g, allFolds(nFolds), nPerFold, sameFold, keepEstimator)
	if _, err := g.Validate(); err != nil {
		return err
	}
	err := writeDOT(w, g, policy)
	g.Clear()
	return err
}
