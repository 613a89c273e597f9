package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveCreatesFile(t *testing.T) {
	// Create temp directory
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Data.Path = "train.csv"

	// Save config
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Verify file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Config file was not created: %s", path)
	}

	// Verify file contains valid JSON
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Config file contains invalid JSON: %v", err)
	}

	if loaded.Data.Path != "train.csv" {
		t.Errorf("Expected data path 'train.csv', got '%s'", loaded.Data.Path)
	}
}

func TestSaveCreatesParentDir(t *testing.T) {
	// Create temp directory
	tmpDir := t.TempDir()
	// Nested path that doesn't exist yet
	path := filepath.Join(tmpDir, "nested", "deep", "config.json")

	// Save should create all parent directories
	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Verify file was created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Config file was not created: %s", path)
	}

	// Verify parent directories exist
	parentDir := filepath.Dir(path)
	if _, err := os.Stat(parentDir); os.IsNotExist(err) {
		t.Fatalf("Parent directory was not created: %s", parentDir)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	// Create temp directory
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	// Create config with diverse fields
	cfg := &Config{
		Data: DataConfig{
			URL:     "http://data.example.com/train",
			Pattern: "part-%03d.csv",
			Label:   "target",
		},
		Run: RunConfig{
			Batches:     8,
			Folds:       5,
			PerFold:     2,
			Policy:      "resource",
			MaxResident: 1 << 20,
			Incremental: true,
			SameFold:    true,
			Scoring:     false,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(tmpDir, "history.db"),
		},
	}

	// Save config
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Load it back
	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Data.URL != cfg.Data.URL {
		t.Errorf("URL mismatch: got '%s'", loaded.Data.URL)
	}
	if loaded.Data.Pattern != cfg.Data.Pattern {
		t.Errorf("Pattern mismatch: got '%s'", loaded.Data.Pattern)
	}
	if loaded.Run != cfg.Run {
		t.Errorf("Run config mismatch: got %+v, want %+v", loaded.Run, cfg.Run)
	}
	if loaded.History.Path != cfg.History.Path {
		t.Errorf("History path mismatch: got '%s'", loaded.History.Path)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	// Create temp directory
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	// Save first config
	cfg1 := DefaultConfig()
	cfg1.Run.Policy = "step"
	if err := Save(cfg1, path); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	// Save second config with different values
	cfg2 := DefaultConfig()
	cfg2.Run.Policy = "resource"
	if err := Save(cfg2, path); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	// Load and verify second value wins
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}

	if loaded.Run.Policy != "resource" {
		t.Errorf("Expected 'resource', got '%s'", loaded.Run.Policy)
	}
}
