package scheduler

import (
	"fmt"

	"github.com/gammazero/toposort"

	"github.com/trellis-ml/trellis/internal/pipeline"
)

// Graph is the task graph for one run. Tasks live in an arena and refer
// to each other by index, so Clear can drop the whole graph at once
// despite pred/succ cycles.
type Graph struct {
	pipe      *pipeline.Pipeline
	caps      []pipeline.Caps
	stepPreds [][]int

	tasks []*task
	index map[memoKey]taskID
	fresh []taskID
}

func newGraph(pipe *pipeline.Pipeline) *Graph {
	steps := pipe.Steps()
	g := &Graph{
		pipe:      pipe,
		caps:      make([]pipeline.Caps, len(steps)),
		stepPreds: make([][]int, len(steps)),
		index:     make(map[memoKey]taskID),
	}
	for i, step := range steps {
		g.caps[i] = pipeline.ResolveCaps(step)
		preds := pipe.Preds(i)
		if len(preds) == 0 {
			g.stepPreds[i] = []int{InputStep}
		} else {
			g.stepPreds[i] = preds
		}
	}
	return g
}

// findOrCreate returns the unique task for the given coordinates,
// creating it fresh when first requested. Memoization is what turns the
// recursive expansion into a DAG instead of a tree.
func (g *Graph) findOrCreate(kind TaskKind, step int, ids BatchIDs, heldOut Fold) *task {
	key := memoKey{kind: kind, step: step, batches: ids.Key(), heldOut: heldOut}
	if id, ok := g.index[key]; ok {
		return g.tasks[id]
	}
	t := &task{
		id:        taskID(len(g.tasks)),
		kind:      kind,
		step:      step,
		batchIDs:  ids,
		heldOut:   heldOut,
		status:    Fresh,
		deletable: true,
	}
	g.tasks = append(g.tasks, t)
	g.index[t.key()] = t.id
	g.fresh = append(g.fresh, t.id)
	return t
}

// popFresh removes and returns the most recently created unexpanded task.
func (g *Graph) popFresh() *task {
	t := g.tasks[g.fresh[len(g.fresh)-1]]
	g.fresh = g.fresh[:len(g.fresh)-1]
	return t
}

func (g *Graph) lookup(kind TaskKind, step int, ids BatchIDs, heldOut Fold) (*task, bool) {
	id, ok := g.index[memoKey{kind: kind, step: step, batches: ids.Key(), heldOut: heldOut}]
	if !ok {
		return nil, false
	}
	return g.tasks[id], true
}

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int {
	return len(g.tasks)
}

// Validate runs a topological sort over the task graph and returns the
// order. A cycle or a dropped task means the builder produced a malformed
// graph.
func (g *Graph) Validate() ([]taskID, error) {
	var edges []toposort.Edge
	for _, t := range g.tasks {
		if len(t.preds) == 0 {
			edges = append(edges, toposort.Edge{nil, t.id})
			continue
		}
		for _, p := range t.preds {
			edges = append(edges, toposort.Edge{p, t.id})
		}
	}
	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("task graph contains cycle: %w", err)
	}
	order := make([]taskID, 0, len(g.tasks))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(taskID))
		}
	}
	if len(order) != len(g.tasks) {
		return nil, fmt.Errorf("topological sort lost %d of %d tasks", len(g.tasks)-len(order), len(g.tasks))
	}
	return order, nil
}

// Clear drops every task and its outputs. Results must be extracted
// before calling Clear.
func (g *Graph) Clear() {
	for _, t := range g.tasks {
		t.preds = nil
		t.succs = nil
		t.batch = nil
		t.monoid = nil
		t.trained = nil
	}
	g.tasks = nil
	g.index = nil
	g.fresh = nil
}

// stepName renders a step id for logs and graph drawings.
func (g *Graph) stepName(step int) string {
	switch step {
	case InputStep:
		return "INP"
	case ScoreStep:
		return "SCR"
	}
	return g.pipe.Steps()[step].Name()
}
