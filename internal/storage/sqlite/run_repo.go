package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ErlanBelekov/durably/internal/domain"
	"github.com/ErlanBelekov/durably/internal/id"
	"github.com/ErlanBelekov/durably/internal/repository"
)

const runColumns = `id, job_name, payload, status, idempotency_key, concurrency_key,
	current_step_index, progress, output, error, heartbeat_at, created_at, updated_at`

// isUniqueViolation reports whether err is a SQLite unique-constraint
// failure. modernc.org/sqlite surfaces these as a plain *sqlite.Error whose
// message contains the SQLite-native text; there is no typed error code to
// switch on the way pgx exposes SQLSTATE 23505, so this matches on text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (db *DB) CreateRun(ctx context.Context, input repository.CreateRunInput) (*domain.Run, error) {
	now := time.Now()
	run := &domain.Run{
		ID:             id.Run(),
		JobName:        input.JobName,
		Payload:        input.Payload,
		Status:         domain.StatusPending,
		IdempotencyKey: input.IdempotencyKey,
		ConcurrencyKey: input.ConcurrencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO durably_runs (id, job_name, payload, status, idempotency_key, concurrency_key,
			current_step_index, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		run.ID, run.JobName, string(run.Payload), run.Status,
		nullString(run.IdempotencyKey), nullString(run.ConcurrencyKey),
		formatTime(run.CreatedAt), formatTime(run.UpdatedAt),
	)
	if err == nil {
		return run, nil
	}
	if !isUniqueViolation(err) {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	if input.IdempotencyKey == nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	existing, getErr := db.getRunByIdempotencyKey(ctx, input.JobName, *input.IdempotencyKey)
	if getErr != nil {
		return nil, fmt.Errorf("fetch existing run after idempotency collision: %w", getErr)
	}
	return existing, nil
}

func (db *DB) getRunByIdempotencyKey(ctx context.Context, jobName, key string) (*domain.Run, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM durably_runs WHERE job_name = ? AND idempotency_key = ?`,
		jobName, key,
	)
	return scanRun(row)
}

// BatchCreateRuns runs every input inside a single transaction. A duplicate
// by idempotency key resolves to the existing row without aborting the
// batch; any other failure rolls back the entire batch.
func (db *DB) BatchCreateRuns(ctx context.Context, inputs []repository.CreateRunInput) ([]*domain.Run, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	out := make([]*domain.Run, 0, len(inputs))

	for _, input := range inputs {
		run := &domain.Run{
			ID:             id.Run(),
			JobName:        input.JobName,
			Payload:        input.Payload,
			Status:         domain.StatusPending,
			IdempotencyKey: input.IdempotencyKey,
			ConcurrencyKey: input.ConcurrencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO durably_runs (id, job_name, payload, status, idempotency_key, concurrency_key,
				current_step_index, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			run.ID, run.JobName, string(run.Payload), run.Status,
			nullString(run.IdempotencyKey), nullString(run.ConcurrencyKey),
			formatTime(run.CreatedAt), formatTime(run.UpdatedAt),
		)
		switch {
		case err == nil:
			out = append(out, run)
		case isUniqueViolation(err) && input.IdempotencyKey != nil:
			row := tx.QueryRowContext(ctx,
				`SELECT `+runColumns+` FROM durably_runs WHERE job_name = ? AND idempotency_key = ?`,
				input.JobName, *input.IdempotencyKey,
			)
			existing, getErr := scanRun(row)
			if getErr != nil {
				return nil, fmt.Errorf("fetch existing run in batch: %w", getErr)
			}
			out = append(out, existing)
		default:
			return nil, fmt.Errorf("insert run in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return out, nil
}

func (db *DB) UpdateRun(ctx context.Context, id string, update domain.RunUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now())}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
	}
	if update.CurrentStepIndex != nil {
		sets = append(sets, "current_step_index = ?")
		args = append(args, *update.CurrentStepIndex)
	}
	if update.Progress != nil {
		encoded, err := json.Marshal(update.Progress)
		if err != nil {
			return fmt.Errorf("marshal progress: %w", err)
		}
		sets = append(sets, "progress = ?")
		args = append(args, string(encoded))
	}
	if update.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, string(update.Output))
	}
	if update.ClearError {
		sets = append(sets, "error = NULL")
	} else if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	}
	if update.HeartbeatAt != nil {
		sets = append(sets, "heartbeat_at = ?")
		args = append(args, formatTime(*update.HeartbeatAt))
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE durably_runs SET %s WHERE id = ?", strings.Join(sets, ", "))

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

func (db *DB) DeleteRun(ctx context.Context, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM durably_logs WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("delete logs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM durably_steps WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("delete steps: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM durably_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrRunNotFound
	}
	return tx.Commit()
}

func (db *DB) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM durably_runs WHERE id = ?`, id)
	return scanRun(row)
}

func (db *DB) GetRuns(ctx context.Context, filter domain.RunFilter) ([]*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM durably_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.JobName != "" {
		query += ` AND job_name = ?`
		args = append(args, filter.JobName)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// GetNextPendingRun claims nothing by itself: it is a plain read, safe
// because the engine assumes a single worker process and so never needs
// SQLite's absent SELECT ... FOR UPDATE SKIP LOCKED. The worker claims
// the returned row with a plain follow-up UpdateRun; that write does not
// check that the row is still pending.
func (db *DB) GetNextPendingRun(ctx context.Context, excludeConcurrencyKeys []string) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM durably_runs WHERE status = ?`
	args := []any{domain.StatusPending}

	if len(excludeConcurrencyKeys) > 0 {
		placeholders := make([]string, len(excludeConcurrencyKeys))
		for i, key := range excludeConcurrencyKeys {
			placeholders[i] = "?"
			args = append(args, key)
		}
		query += ` AND (concurrency_key IS NULL OR concurrency_key NOT IN (` + strings.Join(placeholders, ",") + `))`
	}
	query += ` ORDER BY created_at ASC LIMIT 1`

	row := db.QueryRowContext(ctx, query, args...)
	run, err := scanRun(row)
	if err != nil {
		if err == domain.ErrRunNotFound {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

// RecoverStale resets running rows whose heartbeat has gone silent back to
// pending, so the next worker poll can reclaim them. Run inline as a
// pre-claim step by the worker (see internal/worker) rather than as a
// separate reaper process.
func (db *DB) RecoverStale(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE durably_runs
		SET status = ?, updated_at = ?
		WHERE status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)`,
		domain.StatusPending, formatTime(time.Now()), domain.StatusRunning, formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("recover stale runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover stale rows affected: %w", err)
	}
	return int(n), nil
}
