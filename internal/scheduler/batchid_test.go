package scheduler

import "testing"

// TestBatchIDCompare tests the total order on single batch ids.
func TestBatchIDCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b BatchID
		want int
	}{
		{"equal", BatchID{Fold: "d", Idx: 0}, BatchID{Fold: "d", Idx: 0}, 0},
		{"fold dominates index", BatchID{Fold: "d", Idx: 9}, BatchID{Fold: "e", Idx: 0}, -1},
		{"later fold", BatchID{Fold: "e", Idx: 0}, BatchID{Fold: "d", Idx: 9}, 1},
		{"same fold by index", BatchID{Fold: "d", Idx: 0}, BatchID{Fold: "d", Idx: 1}, -1},
		{"same fold later index", BatchID{Fold: "d", Idx: 2}, BatchID{Fold: "d", Idx: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

// TestBatchIDsCompare tests lexicographic tuple ordering, including the
// rule that a strict prefix sorts before any extension.
func TestBatchIDsCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b BatchIDs
		want int
	}{
		{"equal", fitBatchIDs(2), fitBatchIDs(2), 0},
		{"prefix first", fitBatchIDs(1), fitBatchIDs(2), -1},
		{"extension last", fitBatchIDs(2), fitBatchIDs(1), 1},
		{"element beats length", BatchIDs{{Fold: "d", Idx: 1}}, fitBatchIDs(2), 1},
		{"empty first", BatchIDs{}, fitBatchIDs(1), -1},
		{"fold decides", foldBatchIDs("d", 2), foldBatchIDs("e", 2), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

// TestBatchIDHelpers tests the id constructors used by the graph builders.
func TestBatchIDHelpers(t *testing.T) {
	if got := fitBatchIDs(3).Key(); got != "d0,d1,d2" {
		t.Errorf("fitBatchIDs(3) = %q, want d0,d1,d2", got)
	}
	if got := foldBatchIDs("e", 2).Key(); got != "e0,e1" {
		t.Errorf("foldBatchIDs(e, 2) = %q, want e0,e1", got)
	}
	if got := batchIDsExcept(allFolds(3), 2, "e").Key(); got != "d0,d1,f0,f1" {
		t.Errorf("batchIDsExcept(3 folds, 2, e) = %q, want d0,d1,f0,f1", got)
	}
	if got := batchIDsExcept(allFolds(2), 1, NoFold).Key(); got != "d0,e0" {
		t.Errorf("batchIDsExcept with no held-out fold = %q, want d0,e0", got)
	}
	if got := FoldID(2); got != "f" {
		t.Errorf("FoldID(2) = %q, want f", got)
	}
	folds := allFolds(2)
	if len(folds) != 2 || folds[0] != "d" || folds[1] != "e" {
		t.Errorf("allFolds(2) = %v, want [d e]", folds)
	}
}
