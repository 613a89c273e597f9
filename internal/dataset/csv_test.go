package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestReadCSV verifies header parsing and label column extraction.
func TestReadCSV(t *testing.T) {
	data := "x,label,y\n1,0,2\n3,1,4\n5,0,6\n"

	X, y, err := ReadCSV(strings.NewReader(data), "label")
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}

	wantCols := []string{"x", "y"}
	if len(X.Columns()) != len(wantCols) {
		t.Fatalf("expected %d columns, got %d", len(wantCols), len(X.Columns()))
	}
	for i, name := range wantCols {
		if X.Columns()[i] != name {
			t.Errorf("column %d: expected %q, got %q", i, name, X.Columns()[i])
		}
	}

	if X.NumRows() != 3 {
		t.Fatalf("expected 3 rows, got %d", X.NumRows())
	}
	want := [][]float64{{1, 2}, {3, 4}, {5, 6}}
	for i, row := range want {
		for j, v := range row {
			if got := X.At(i, j); got != v {
				t.Errorf("cell (%d,%d): expected %v, got %v", i, j, v, got)
			}
		}
	}

	if y.Name != "label" {
		t.Errorf("expected series name 'label', got %q", y.Name)
	}
	wantLabels := []float64{0, 1, 0}
	for i, v := range wantLabels {
		if y.Vals[i] != v {
			t.Errorf("label %d: expected %v, got %v", i, v, y.Vals[i])
		}
	}
}

// TestReadCSVNoLabel verifies that an empty label column keeps the whole
// table as features.
func TestReadCSVNoLabel(t *testing.T) {
	X, y, err := ReadCSV(strings.NewReader("a,b\n1,2\n"), "")
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if y != nil {
		t.Error("expected nil label series")
	}
	if X.NumCols() != 2 {
		t.Errorf("expected 2 columns, got %d", X.NumCols())
	}
}

// TestReadCSVErrors verifies malformed input handling.
func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		labelCol    string
		errContains string
	}{
		{
			name:        "empty input",
			data:        "",
			labelCol:    "label",
			errContains: "no header row",
		},
		{
			name:        "missing label column",
			data:        "x,y\n1,2\n",
			labelCol:    "label",
			errContains: `label column "label" not in header`,
		},
		{
			name:        "no feature columns",
			data:        "label\n0\n",
			labelCol:    "label",
			errContains: "no feature columns",
		},
		{
			name:        "header only",
			data:        "x,label\n",
			labelCol:    "label",
			errContains: "no data rows",
		},
		{
			name:        "non-numeric cell",
			data:        "x,label\noops,0\n",
			labelCol:    "label",
			errContains: `line 2 column "x"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadCSV(strings.NewReader(tt.data), tt.labelCol)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("expected error containing %q, got %q", tt.errContains, err.Error())
			}
		})
	}
}

// TestLoadCSV verifies loading from a file path.
func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte("x,label\n1,0\n2,1\n"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	X, y, err := LoadCSV(path, "label")
	if err != nil {
		t.Fatalf("LoadCSV failed: %v", err)
	}
	if X.NumRows() != 2 || y.Len() != 2 {
		t.Errorf("expected 2 rows and 2 labels, got %d and %d", X.NumRows(), y.Len())
	}

	_, _, err = LoadCSV(filepath.Join(t.TempDir(), "missing.csv"), "label")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "failed to open dataset") {
		t.Errorf("unexpected error: %v", err)
	}
}
