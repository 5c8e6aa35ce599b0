package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/durably/internal/domain"
)

const stepColumns = `id, run_id, name, step_index, status, output, error, started_at, completed_at`

func (db *DB) CreateStep(ctx context.Context, step *domain.Step) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO durably_steps (id, run_id, name, step_index, status, output, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.RunID, step.Name, step.Index, step.Status,
		nullableBytes(step.Output), nullString(step.Error),
		formatTime(step.StartedAt), formatTime(step.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("step %q already completed for run %s: %w", step.Name, step.RunID, err)
		}
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

func (db *DB) GetSteps(ctx context.Context, runID string) ([]*domain.Step, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM durably_steps WHERE run_id = ? ORDER BY step_index ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var out []*domain.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

// GetCompletedStep returns the memoized result of a step by name, or nil if
// it has never completed for this run — the signal StepContext.Run uses to
// decide whether to replay a cached output or execute the step function.
func (db *DB) GetCompletedStep(ctx context.Context, runID, name string) (*domain.Step, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM durably_steps WHERE run_id = ? AND name = ? AND status = ?`,
		runID, name, domain.StepCompleted,
	)
	step, err := scanStep(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return step, nil
}

func nullableBytes(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
