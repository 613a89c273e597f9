package scheduler

import "fmt"

// Priority is a lexicographic sort key: integer components around an
// optional batch-id component, with a distinguished bottom element that
// compares greater than everything else. Lower priorities are more
// urgent to run and more valuable to keep resident.
type Priority struct {
	lead   []int64
	ids    BatchIDs
	tail   []int64
	bottom bool
}

// Less reports whether p sorts before q.
func (p Priority) Less(q Priority) bool {
	if p.bottom || q.bottom {
		return !p.bottom && q.bottom
	}
	for i := 0; i < len(p.lead) && i < len(q.lead); i++ {
		if p.lead[i] != q.lead[i] {
			return p.lead[i] < q.lead[i]
		}
	}
	if len(p.lead) != len(q.lead) {
		return len(p.lead) < len(q.lead)
	}
	if c := p.ids.Compare(q.ids); c != 0 {
		return c < 0
	}
	for i := 0; i < len(p.tail) && i < len(q.tail); i++ {
		if p.tail[i] != q.tail[i] {
			return p.tail[i] < q.tail[i]
		}
	}
	return len(p.tail) < len(q.tail)
}

// Policy ranks tasks for execution order and, through their consumer
// tasks, batches for eviction order.
type Policy interface {
	// Name identifies the policy in flags and configs.
	Name() string

	taskPriority(g *Graph, t *task) Priority
}

// Built-in scheduling policies.
var (
	// PrioStep runs the pipeline one step at a time.
	PrioStep Policy = prioStep{}
	// PrioBatch runs the pipeline one batch at a time.
	PrioBatch Policy = prioBatch{}
	// PrioResourceAware prefers tasks whose inputs are already resident.
	PrioResourceAware Policy = prioResourceAware{}
)

// PolicyByName resolves a policy flag value.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case PrioStep.Name():
		return PrioStep, nil
	case PrioBatch.Name():
		return PrioBatch, nil
	case PrioResourceAware.Name():
		return PrioResourceAware, nil
	}
	return nil, fmt.Errorf("unknown scheduling policy %q, expected one of step, batch, resource", name)
}

func kindBit(t *task) int64 {
	if t.kind == KindTrain {
		return 0
	}
	return 1
}

type prioStep struct{}

func (prioStep) Name() string { return "step" }

func (prioStep) taskPriority(_ *Graph, t *task) Priority {
	return Priority{
		lead: []int64{int64(t.status), int64(t.step), int64(len(t.batchIDs))},
		ids:  t.batchIDs,
		tail: []int64{kindBit(t)},
	}
}

type prioBatch struct{}

func (prioBatch) Name() string { return "batch" }

func (prioBatch) taskPriority(_ *Graph, t *task) Priority {
	return Priority{
		lead: []int64{int64(t.status), int64(len(t.batchIDs))},
		ids:  t.batchIDs,
		tail: []int64{int64(t.step), kindBit(t)},
	}
}

type prioResourceAware struct{}

func (prioResourceAware) Name() string { return "resource" }

func (prioResourceAware) taskPriority(g *Graph, t *task) Priority {
	var nonResident int64
	for _, p := range t.preds {
		pred := g.tasks[p]
		if pred.kind == KindApply && pred.batch != nil && pred.batch.spilled {
			nonResident += pred.batch.space
		}
	}
	return Priority{
		lead: []int64{int64(t.status), nonResident},
		ids:  t.batchIDs,
		tail: []int64{int64(t.step), kindBit(t)},
	}
}

// batchPriority ranks a batch by its most urgent pending consumer. A
// batch no pending task wants gets bottom priority and is evicted first.
func batchPriority(g *Graph, pol Policy, b *Batch) Priority {
	best := Priority{bottom: true}
	for _, s := range g.tasks[b.owner].succs {
		succ := g.tasks[s]
		if succ.status != Ready && succ.status != Waiting {
			continue
		}
		if p := pol.taskPriority(g, succ); p.Less(best) {
			best = p
		}
	}
	return best
}
