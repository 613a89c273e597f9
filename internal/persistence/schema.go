package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		pipeline TEXT NOT NULL,
		batches INTEGER NOT NULL,
		folds INTEGER NOT NULL,
		policy TEXT NOT NULL,
		incremental INTEGER NOT NULL,
		same_fold INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		spill_count INTEGER NOT NULL,
		load_count INTEGER NOT NULL,
		spill_space INTEGER NOT NULL,
		load_space INTEGER NOT NULL,
		min_resident INTEGER NOT NULL,
		max_resident INTEGER NOT NULL,
		train_count INTEGER NOT NULL,
		apply_count INTEGER NOT NULL,
		metric_count INTEGER NOT NULL,
		train_ns INTEGER NOT NULL,
		apply_ns INTEGER NOT NULL,
		metric_ns INTEGER NOT NULL,
		critical_count INTEGER NOT NULL,
		critical_ns INTEGER NOT NULL,
		error TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_scores (
		run_id TEXT NOT NULL,
		fold TEXT NOT NULL,
		score REAL NOT NULL,
		PRIMARY KEY (run_id, fold),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS run_trace (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind INTEGER NOT NULL,
		op INTEGER NOT NULL,
		step INTEGER NOT NULL,
		step_name TEXT NOT NULL,
		batches TEXT NOT NULL,
		held_out TEXT NOT NULL,
		duration_ns INTEGER NOT NULL,
		space INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_run_trace_run_seq
		ON run_trace(run_id, seq);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
