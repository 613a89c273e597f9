package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name          string
		globalConfig  string
		projectConfig string
		check         func(t *testing.T, cfg *Config)
	}{
		{
			name: "No config files - returns defaults",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Run.Batches != 4 {
					t.Errorf("batches = %d, want 4", cfg.Run.Batches)
				}
				if cfg.Run.Folds != 3 {
					t.Errorf("folds = %d, want 3", cfg.Run.Folds)
				}
				if cfg.Run.Policy != "batch" {
					t.Errorf("policy = %q, want 'batch'", cfg.Run.Policy)
				}
				if !cfg.Run.Scoring {
					t.Error("scoring should default to true")
				}
				if cfg.Data.Label != "label" {
					t.Errorf("label = %q, want 'label'", cfg.Data.Label)
				}
				if !cfg.History.Enabled {
					t.Error("history should default to enabled")
				}
			},
		},
		{
			name:         "Global only - overrides policy, keeps other defaults",
			globalConfig: `{"run": {"policy": "step", "max_resident": 4096}}`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Run.Policy != "step" {
					t.Errorf("policy = %q, want 'step'", cfg.Run.Policy)
				}
				if cfg.Run.MaxResident != 4096 {
					t.Errorf("max_resident = %d, want 4096", cfg.Run.MaxResident)
				}
				if cfg.Run.Batches != 4 {
					t.Errorf("batches = %d, want default 4", cfg.Run.Batches)
				}
			},
		},
		{
			name:          "Project only - overrides data source",
			projectConfig: `{"data": {"path": "train.csv", "label": "y"}}`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Data.Path != "train.csv" {
					t.Errorf("path = %q, want 'train.csv'", cfg.Data.Path)
				}
				if cfg.Data.Label != "y" {
					t.Errorf("label = %q, want 'y'", cfg.Data.Label)
				}
				if cfg.Data.Pattern != "batch-%d.csv" {
					t.Errorf("pattern = %q, want default", cfg.Data.Pattern)
				}
			},
		},
		{
			name:          "Both with merge - project wins",
			globalConfig:  `{"run": {"policy": "step", "incremental": true}}`,
			projectConfig: `{"run": {"policy": "resource"}}`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Run.Policy != "resource" {
					t.Errorf("policy = %q, want 'resource'", cfg.Run.Policy)
				}
				if !cfg.Run.Incremental {
					t.Error("incremental from global config lost")
				}
			},
		},
		{
			name:          "Explicit false overrides default true",
			projectConfig: `{"run": {"scoring": false}, "history": {"enabled": false}}`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Run.Scoring {
					t.Error("scoring should be false")
				}
				if cfg.History.Enabled {
					t.Error("history should be disabled")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create temp directory for test configs
			tmpDir := t.TempDir()

			// Write global config if specified
			globalPath := ""
			if tt.globalConfig != "" {
				globalPath = filepath.Join(tmpDir, "global.json")
				if err := os.WriteFile(globalPath, []byte(tt.globalConfig), 0644); err != nil {
					t.Fatalf("writing global config: %v", err)
				}
			}

			// Write project config if specified
			projectPath := ""
			if tt.projectConfig != "" {
				projectPath = filepath.Join(tmpDir, "project.json")
				if err := os.WriteFile(projectPath, []byte(tt.projectConfig), 0644); err != nil {
					t.Fatalf("writing project config: %v", err)
				}
			}

			cfg, err := Load(globalPath, projectPath)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			tt.check(t, cfg)
		})
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	tmpDir := t.TempDir()

	// Create malformed JSON file
	globalPath := filepath.Join(tmpDir, "global.json")
	if err := os.WriteFile(globalPath, []byte("{invalid json"), 0644); err != nil {
		t.Fatalf("writing malformed config: %v", err)
	}

	// Load should return error
	_, err := Load(globalPath, "")
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

func TestLoad_MissingFileSkipped(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(filepath.Join(tmpDir, "does-not-exist.json"), "")
	if err != nil {
		t.Fatalf("missing file should not error, got: %v", err)
	}
	if cfg.Run.Batches != 4 {
		t.Errorf("batches = %d, want default 4", cfg.Run.Batches)
	}
}

func TestHistoryPath(t *testing.T) {
	cfg := DefaultConfig()

	// Explicit path wins
	cfg.History.Path = "/tmp/custom.db"
	path, err := cfg.HistoryPath()
	if err != nil {
		t.Fatalf("HistoryPath failed: %v", err)
	}
	if path != "/tmp/custom.db" {
		t.Errorf("path = %q, want '/tmp/custom.db'", path)
	}

	// Default lands under the home directory
	cfg.History.Path = ""
	path, err = cfg.HistoryPath()
	if err != nil {
		t.Fatalf("HistoryPath failed: %v", err)
	}
	if filepath.Base(path) != "history.db" {
		t.Errorf("default path %q should end in history.db", path)
	}
}
