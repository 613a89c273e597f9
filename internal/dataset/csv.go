package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/trellis-ml/trellis/internal/frame"
)

// LoadCSV reads a CSV file with a header row into a feature frame and a
// label series. The label column is selected by name and removed from the
// features.
func LoadCSV(path, labelCol string) (*frame.Dense, *frame.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	X, y, err := ReadCSV(f, labelCol)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %q: %w", path, err)
	}
	return X, y, nil
}

// ReadCSV parses CSV data with a header row. All cells must be numeric.
// With an empty labelCol the whole table is returned as features and the
// series is nil.
func ReadCSV(r io.Reader, labelCol string) (*frame.Dense, *frame.Series, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("no header row")
	}
	if err != nil {
		return nil, nil, err
	}

	labelIdx := -1
	cols := make([]string, 0, len(header))
	for i, name := range header {
		if name == labelCol && labelCol != "" {
			labelIdx = i
			continue
		}
		cols = append(cols, name)
	}
	if labelCol != "" && labelIdx == -1 {
		return nil, nil, fmt.Errorf("label column %q not in header", labelCol)
	}
	if len(cols) == 0 {
		return nil, nil, fmt.Errorf("no feature columns")
	}

	var rows [][]float64
	var labels []float64
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		row := make([]float64, 0, len(cols))
		for i, cell := range record {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("line %d column %q: %w", line, header[i], err)
			}
			if i == labelIdx {
				labels = append(labels, v)
				continue
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("no data rows")
	}

	X := frame.FromRows(cols, rows)
	if labelIdx == -1 {
		return X, nil, nil
	}
	return X, frame.NewSeries(labelCol, nil, labels), nil
}
