package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataConfig locates the training data and its label column.
type DataConfig struct {
	Path    string `json:"path,omitempty"` // CSV file path
	URL     string `json:"url,omitempty"`  // remote batch server base URL
	Pattern string `json:"pattern"`        // remote batch file name pattern
	Label   string `json:"label"`          // label column name
}

// RunConfig sets default scheduler parameters. CLI flags override them.
type RunConfig struct {
	Batches     int    `json:"batches"`      // batches for a plain fit
	Folds       int    `json:"folds"`        // folds for cross-validation
	PerFold     int    `json:"per_fold"`     // batches per fold
	Policy      string `json:"policy"`       // "step", "batch" or "resource"
	MaxResident int64  `json:"max_resident"` // resident space ceiling in bytes, 0 = unbounded
	Incremental bool   `json:"incremental"`
	SameFold    bool   `json:"same_fold"`
	Scoring     bool   `json:"scoring"`
}

// HistoryConfig controls run-history persistence.
type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"` // sqlite file; empty means ~/.trellis/history.db
}

// Config is the top-level configuration.
type Config struct {
	Data    DataConfig    `json:"data"`
	Run     RunConfig     `json:"run"`
	History HistoryConfig `json:"history"`
}

// HistoryPath resolves the history database path.
func (c *Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".trellis", "history.db"), nil
}
