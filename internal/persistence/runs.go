package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveRun saves or updates a run and its per-fold scores. A run without
// an id is assigned a fresh uuid. Uses ON CONFLICT to make saves
// idempotent.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Upsert run (insert or update on conflict)
	st := run.Stats
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, mode, pipeline, batches, folds, policy, incremental,
			same_fold, duration_ns, spill_count, load_count, spill_space, load_space,
			min_resident, max_resident, train_count, apply_count, metric_count,
			train_ns, apply_ns, metric_ns, critical_count, critical_ns, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mode = excluded.mode,
			pipeline = excluded.pipeline,
			batches = excluded.batches,
			folds = excluded.folds,
			policy = excluded.policy,
			incremental = excluded.incremental,
			same_fold = excluded.same_fold,
			duration_ns = excluded.duration_ns,
			spill_count = excluded.spill_count,
			load_count = excluded.load_count,
			spill_space = excluded.spill_space,
			load_space = excluded.load_space,
			min_resident = excluded.min_resident,
			max_resident = excluded.max_resident,
			train_count = excluded.train_count,
			apply_count = excluded.apply_count,
			metric_count = excluded.metric_count,
			train_ns = excluded.train_ns,
			apply_ns = excluded.apply_ns,
			metric_ns = excluded.metric_ns,
			critical_count = excluded.critical_count,
			critical_ns = excluded.critical_ns,
			error = excluded.error
	`, run.ID, run.Mode, run.Pipeline, run.Batches, run.Folds, run.Policy, run.Incremental,
		run.SameFold, run.Duration.Nanoseconds(), st.SpillCount, st.LoadCount, st.SpillSpace,
		st.LoadSpace, st.MinResident, st.MaxResident, st.TrainCount, st.ApplyCount,
		st.MetricCount, st.TrainTime.Nanoseconds(), st.ApplyTime.Nanoseconds(),
		st.MetricTime.Nanoseconds(), st.CriticalCount, st.CriticalTime.Nanoseconds(),
		run.Error, run.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}

	// Delete existing scores for this run
	_, err = tx.ExecContext(ctx, `DELETE FROM run_scores WHERE run_id = ?`, run.ID)
	if err != nil {
		return fmt.Errorf("failed to delete old scores: %w", err)
	}

	// Insert new scores
	for _, fs := range run.Scores {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_scores (run_id, fold, score)
			VALUES (?, ?, ?)
		`, run.ID, fs.Fold, fs.Score)
		if err != nil {
			return fmt.Errorf("failed to insert score for fold %s: %w", fs.Fold, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID, including its scores.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	run := &Run{}
	var createdAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, mode, pipeline, batches, folds, policy, incremental, same_fold,
			duration_ns, spill_count, load_count, spill_space, load_space, min_resident,
			max_resident, train_count, apply_count, metric_count, train_ns, apply_ns,
			metric_ns, critical_count, critical_ns, error, created_at
		FROM runs
		WHERE id = ?
	`, runID).Scan(&run.ID, &run.Mode, &run.Pipeline, &run.Batches, &run.Folds,
		&run.Policy, &run.Incremental, &run.SameFold, &run.Duration,
		&run.Stats.SpillCount, &run.Stats.LoadCount, &run.Stats.SpillSpace,
		&run.Stats.LoadSpace, &run.Stats.MinResident, &run.Stats.MaxResident,
		&run.Stats.TrainCount, &run.Stats.ApplyCount, &run.Stats.MetricCount,
		&run.Stats.TrainTime, &run.Stats.ApplyTime, &run.Stats.MetricTime,
		&run.Stats.CriticalCount, &run.Stats.CriticalTime, &run.Error, &createdAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	run.CreatedAt = time.Unix(createdAt, 0)

	run.Scores, err = s.loadScores(ctx, runID)
	if err != nil {
		return nil, err
	}

	return run, nil
}

// ListRuns returns all runs with their scores, most recent first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, pipeline, batches, folds, policy, incremental, same_fold,
			duration_ns, spill_count, load_count, spill_space, load_space, min_resident,
			max_resident, train_count, apply_count, metric_count, train_ns, apply_ns,
			metric_ns, critical_count, critical_ns, error, created_at
		FROM runs
		ORDER BY created_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var createdAt int64

		err := rows.Scan(&run.ID, &run.Mode, &run.Pipeline, &run.Batches, &run.Folds,
			&run.Policy, &run.Incremental, &run.SameFold, &run.Duration,
			&run.Stats.SpillCount, &run.Stats.LoadCount, &run.Stats.SpillSpace,
			&run.Stats.LoadSpace, &run.Stats.MinResident, &run.Stats.MaxResident,
			&run.Stats.TrainCount, &run.Stats.ApplyCount, &run.Stats.MetricCount,
			&run.Stats.TrainTime, &run.Stats.ApplyTime, &run.Stats.MetricTime,
			&run.Stats.CriticalCount, &run.Stats.CriticalTime, &run.Error, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.CreatedAt = time.Unix(createdAt, 0)

		// Load scores for this run (uses the second connection)
		run.Scores, err = s.loadScores(ctx, run.ID)
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// loadScores reads a run's scores in insert order.
func (s *SQLiteStore) loadScores(ctx context.Context, runID string) ([]FoldScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fold, score
		FROM run_scores
		WHERE run_id = ?
		ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	var scores []FoldScore
	for rows.Next() {
		var fs FoldScore
		if err := rows.Scan(&fs.Fold, &fs.Score); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		scores = append(scores, fs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scores: %w", err)
	}

	return scores, nil
}
