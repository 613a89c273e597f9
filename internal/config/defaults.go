package config

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Pattern: "batch-%d.csv",
			Label:   "label",
		},
		Run: RunConfig{
			Batches: 4,
			Folds:   3,
			PerFold: 1,
			Policy:  "batch",
			Scoring: true,
		},
		History: HistoryConfig{
			Enabled: true,
		},
	}
}
