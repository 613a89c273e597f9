package pipeline

import (
	"testing"

	"github.com/trellis-ml/trellis/internal/frame"
)

type plainStep struct{ name string }

func (s plainStep) Name() string { return s.name }
func (s plainStep) Fit(X frame.Frame, y *frame.Series) (Trained, error) {
	return scaleBy{name: s.name, factor: 1}, nil
}

type incStep struct{ plainStep }

func (s incStep) PartialFit(X frame.Frame, y *frame.Series, classes []float64) (Trained, error) {
	return scaleBy{name: s.name, factor: 1}, nil
}
func (s incStep) NeedsClasses() bool { return true }

type assocStep struct{ plainStep }

func (s assocStep) ToMonoid(X frame.Frame, y *frame.Series) (Monoid, error) {
	return countMonoid{n: X.NumRows()}, nil
}
func (s assocStep) FromMonoid(m Monoid) (Trained, error) {
	return scaleBy{name: s.name, factor: 1}, nil
}

type frozenStep struct{ trained Trained }

func (s frozenStep) Name() string { return s.trained.Name() }
func (s frozenStep) Fit(X frame.Frame, y *frame.Series) (Trained, error) {
	return s.trained, nil
}
func (s frozenStep) TrainedStep() Trained { return s.trained }

type countMonoid struct{ n int }

func (m countMonoid) Combine(other Monoid) (Monoid, error) {
	return countMonoid{n: m.n + other.(countMonoid).n}, nil
}
func (m countMonoid) Absorbing() bool { return false }

// scaleBy multiplies every feature by a constant.
type scaleBy struct {
	name   string
	factor float64
}

func (t scaleBy) Name() string { return t.name }
func (t scaleBy) Transform(X frame.Frame) (frame.Frame, error) {
	d := X.(*frame.Dense)
	rows := make([][]float64, d.NumRows())
	for i := range rows {
		row := make([]float64, d.NumCols())
		for j := range row {
			row[j] = d.At(i, j) * t.factor
		}
		rows[i] = row
	}
	return frame.FromRows(d.Columns(), rows), nil
}

// sumRows predicts the sum of each row's features.
type sumRows struct{}

func (sumRows) Name() string { return "sum" }
func (sumRows) Predict(X frame.Frame) ([]float64, error) {
	d := X.(*frame.Dense)
	out := make([]float64, d.NumRows())
	for i := range out {
		for j := 0; j < d.NumCols(); j++ {
			out[i] += d.At(i, j)
		}
	}
	return out, nil
}

// joinInputs stacks multiple predecessor outputs side by side.
type joinInputs struct{}

func (joinInputs) Name() string { return "join" }
func (joinInputs) TransformMulti(Xs []frame.Frame) (frame.Frame, error) {
	return frame.HStack(Xs)
}
func (joinInputs) Transform(X frame.Frame) (frame.Frame, error) { return X, nil }

func TestResolveCaps(t *testing.T) {
	tests := []struct {
		name string
		step Trainable
		want Caps
	}{
		{"plain", plainStep{name: "p"}, Caps{}},
		{"incremental", incStep{plainStep{name: "i"}}, Caps{Incremental: true, NeedsClasses: true}},
		{"associative", assocStep{plainStep{name: "a"}}, Caps{Associative: true}},
		{"pretrained", frozenStep{trained: scaleBy{name: "f", factor: 2}},
			Caps{Pretrained: true, Associative: true, Incremental: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveCaps(tt.step); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	steps := []Trainable{plainStep{name: "a"}, plainStep{name: "b"}, plainStep{name: "c"}}
	tests := []struct {
		name    string
		steps   []Trainable
		edges   [][2]int
		wantErr bool
	}{
		{"linear", steps, [][2]int{{0, 1}, {1, 2}}, false},
		{"two sinks", steps, [][2]int{{0, 1}}, true},
		{"backward edge", steps, [][2]int{{1, 0}, {0, 2}}, true},
		{"out of range", steps, [][2]int{{0, 3}}, true},
		{"no steps", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.steps, tt.edges)
			if (err != nil) != tt.wantErr {
				t.Errorf("got err %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewLinearPreds(t *testing.T) {
	p := NewLinear(plainStep{name: "a"}, plainStep{name: "b"}, plainStep{name: "c"})
	if got := p.Sink(); got != 2 {
		t.Errorf("got sink %d, want 2", got)
	}
	if got := p.Preds(0); len(got) != 0 {
		t.Errorf("got preds %v for source step, want none", got)
	}
	if got := p.Preds(2); len(got) != 1 || got[0] != 1 {
		t.Errorf("got preds %v for sink, want [1]", got)
	}
}

func TestTrainedPipelinePredict(t *testing.T) {
	tp, err := NewTrained(
		[]Trained{scaleBy{name: "double", factor: 2}, sumRows{}},
		[][2]int{{0, 1}},
	)
	if err != nil {
		t.Fatalf("NewTrained returned error: %v", err)
	}
	X := frame.FromRows([]string{"x1", "x2"}, [][]float64{{1, 2}, {3, 4}})
	got, err := tp.Predict(X)
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	want := []float64{6, 14}
	for i, v := range want {
		if got.Vals[i] != v {
			t.Errorf("prediction %d: got %v, want %v", i, got.Vals[i], v)
		}
	}
	if got.Name != "y_pred" {
		t.Errorf("got series name %q, want %q", got.Name, "y_pred")
	}
}

func TestTrainedPipelineMultiInput(t *testing.T) {
	tp, err := NewTrained(
		[]Trained{scaleBy{name: "double", factor: 2}, scaleBy{name: "triple", factor: 3}, joinInputs{}},
		[][2]int{{0, 2}, {1, 2}},
	)
	if err != nil {
		t.Fatalf("NewTrained returned error: %v", err)
	}
	X := frame.FromRows([]string{"x"}, [][]float64{{1}, {2}})
	out, err := tp.Transform(X)
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	d := out.(*frame.Dense)
	if d.NumCols() != 2 {
		t.Fatalf("got %d columns, want 2", d.NumCols())
	}
	if d.At(1, 0) != 4 || d.At(1, 1) != 6 {
		t.Errorf("got row [%v %v], want [4 6]", d.At(1, 0), d.At(1, 1))
	}
}
