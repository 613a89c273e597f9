package pipeline

import (
	"fmt"

	"github.com/trellis-ml/trellis/internal/frame"
)

// Pipeline is a directed acyclic graph of trainable steps. Steps are kept
// in topological order: every edge points from a lower index to a higher
// one, and exactly one step (the sink) has no successors.
type Pipeline struct {
	steps []Trainable
	edges [][2]int
	preds [][]int
	sink  int
}

// New builds a pipeline from topologically ordered steps and edges. Each
// edge is a (from, to) pair of step indices with from < to.
func New(steps []Trainable, edges [][2]int) (*Pipeline, error) {
	preds, sink, err := wire(len(steps), edges)
	if err != nil {
		return nil, err
	}
	return &Pipeline{steps: steps, edges: edges, preds: preds, sink: sink}, nil
}

// NewLinear chains steps into a straight A -> B -> C pipeline.
func NewLinear(steps ...Trainable) *Pipeline {
	edges := make([][2]int, 0, len(steps)-1)
	for i := 1; i < len(steps); i++ {
		edges = append(edges, [2]int{i - 1, i})
	}
	p, err := New(steps, edges)
	if err != nil {
		panic(err)
	}
	return p
}

func wire(n int, edges [][2]int) (preds [][]int, sink int, err error) {
	if n == 0 {
		return nil, 0, fmt.Errorf("pipeline has no steps")
	}
	preds = make([][]int, n)
	hasSucc := make([]bool, n)
	for _, e := range edges {
		from, to := e[0], e[1]
		if from < 0 || to >= n {
			return nil, 0, fmt.Errorf("edge (%d,%d) references steps outside 0..%d", from, to, n-1)
		}
		if from >= to {
			return nil, 0, fmt.Errorf("edge (%d,%d) violates topological step order", from, to)
		}
		preds[to] = append(preds[to], from)
		hasSucc[from] = true
	}
	sink = -1
	for i, has := range hasSucc {
		if !has {
			if sink != -1 {
				return nil, 0, fmt.Errorf("pipeline has more than one final step (%d and %d)", sink, i)
			}
			sink = i
		}
	}
	return preds, sink, nil
}

// Steps returns the steps in topological order.
func (p *Pipeline) Steps() []Trainable { return p.steps }

// Edges returns the (from, to) step edges.
func (p *Pipeline) Edges() [][2]int { return p.edges }

// Preds returns the predecessor step indices of step i. Source steps have
// none; they read the pipeline input directly.
func (p *Pipeline) Preds(i int) []int { return p.preds[i] }

// Sink returns the index of the unique final step.
func (p *Pipeline) Sink() int { return p.sink }

// TrainedPipeline is the result of fitting a Pipeline: the same graph over
// trained steps.
type TrainedPipeline struct {
	steps []Trained
	edges [][2]int
	preds [][]int
	sink  int
}

// NewTrained builds a trained pipeline with the same wiring rules as New.
func NewTrained(steps []Trained, edges [][2]int) (*TrainedPipeline, error) {
	preds, sink, err := wire(len(steps), edges)
	if err != nil {
		return nil, err
	}
	return &TrainedPipeline{steps: steps, edges: edges, preds: preds, sink: sink}, nil
}

// Steps returns the trained steps in topological order.
func (tp *TrainedPipeline) Steps() []Trained { return tp.steps }

// Transform runs the step graph forward and returns the sink's frame
// output. The sink must be a transformer.
func (tp *TrainedPipeline) Transform(X frame.Frame) (frame.Frame, error) {
	outs, err := tp.forward(X)
	if err != nil {
		return nil, err
	}
	return outs[tp.sink], nil
}

// Predict runs the step graph forward through the sink predictor and wraps
// the predictions into a series indexed 0..n-1.
func (tp *TrainedPipeline) Predict(X frame.Frame) (*frame.Series, error) {
	outs, err := tp.forwardUpTo(X, tp.sink)
	if err != nil {
		return nil, err
	}
	pred, ok := tp.steps[tp.sink].(Predictor)
	if !ok {
		return nil, fmt.Errorf("final step %q is not a predictor", tp.steps[tp.sink].Name())
	}
	in, err := tp.stepInput(outs, tp.sink, X)
	if err != nil {
		return nil, err
	}
	vals, err := pred.Predict(in)
	if err != nil {
		return nil, fmt.Errorf("failed to predict with %q: %w", pred.Name(), err)
	}
	return frame.NewSeries("y_pred", nil, vals), nil
}

// forward applies every step including the sink as a transformer.
func (tp *TrainedPipeline) forward(X frame.Frame) (map[int]frame.Frame, error) {
	outs, err := tp.forwardUpTo(X, tp.sink)
	if err != nil {
		return nil, err
	}
	out, err := tp.apply(outs, tp.sink, X)
	if err != nil {
		return nil, err
	}
	outs[tp.sink] = out
	return outs, nil
}

// forwardUpTo applies every step before stop as a transformer.
func (tp *TrainedPipeline) forwardUpTo(X frame.Frame, stop int) (map[int]frame.Frame, error) {
	outs := make(map[int]frame.Frame, len(tp.steps))
	for i := range tp.steps {
		if i == stop {
			continue
		}
		out, err := tp.apply(outs, i, X)
		if err != nil {
			return nil, err
		}
		outs[i] = out
	}
	return outs, nil
}

func (tp *TrainedPipeline) stepInput(outs map[int]frame.Frame, i int, X frame.Frame) (frame.Frame, error) {
	preds := tp.preds[i]
	if len(preds) == 0 {
		return X, nil
	}
	if len(preds) == 1 {
		return outs[preds[0]], nil
	}
	ins := make([]frame.Frame, len(preds))
	for j, p := range preds {
		ins[j] = outs[p]
	}
	return frame.HStack(ins)
}

func (tp *TrainedPipeline) apply(outs map[int]frame.Frame, i int, X frame.Frame) (frame.Frame, error) {
	step := tp.steps[i]
	if mt, ok := step.(MultiTransformer); ok && len(tp.preds[i]) > 1 {
		ins := make([]frame.Frame, len(tp.preds[i]))
		for j, p := range tp.preds[i] {
			ins[j] = outs[p]
		}
		out, err := mt.TransformMulti(ins)
		if err != nil {
			return nil, fmt.Errorf("failed to transform with %q: %w", step.Name(), err)
		}
		return out, nil
	}
	in, err := tp.stepInput(outs, i, X)
	if err != nil {
		return nil, err
	}
	tr, ok := step.(Transformer)
	if !ok {
		return nil, fmt.Errorf("step %q is not a transformer", step.Name())
	}
	out, err := tr.Transform(in)
	if err != nil {
		return nil, fmt.Errorf("failed to transform with %q: %w", step.Name(), err)
	}
	return out, nil
}
