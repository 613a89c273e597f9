package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/trellis-ml/trellis/internal/scheduler"
)

// AppendTrace stores executed-task records for a run. The run must have
// been saved first.
func (s *SQLiteStore) AppendTrace(ctx context.Context, runID string, records []scheduler.TraceRecord) error {
	if len(records) == 0 {
		return nil
	}

	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Check the run exists (enforces foreign key)
	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, runID).Scan(&exists)
	if err == sql.ErrNoRows {
		return fmt.Errorf("foreign key constraint failed: run %s does not exist", runID)
	}
	if err != nil {
		return fmt.Errorf("failed to check run existence: %w", err)
	}

	for _, r := range records {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_trace (run_id, seq, kind, op, step, step_name, batches,
				held_out, duration_ns, space)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, r.Seq, int(r.Kind), int(r.Op), r.Step, r.StepName, r.Batches,
			r.HeldOut, r.Duration.Nanoseconds(), r.Space)
		if err != nil {
			return fmt.Errorf("failed to insert trace record %d: %w", r.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetTrace returns a run's trace in execution order.
func (s *SQLiteStore) GetTrace(ctx context.Context, runID string) ([]scheduler.TraceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, op, step, step_name, batches, held_out, duration_ns, space
		FROM run_trace
		WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace: %w", err)
	}
	defer rows.Close()

	var records []scheduler.TraceRecord
	for rows.Next() {
		var r scheduler.TraceRecord
		err := rows.Scan(&r.Seq, &r.Kind, &r.Op, &r.Step, &r.StepName,
			&r.Batches, &r.HeldOut, &r.Duration, &r.Space)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trace record: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trace: %w", err)
	}

	return records, nil
}
