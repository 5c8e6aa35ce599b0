package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one idempotent schema change, applied in order and recorded
// in durably_schema_versions. Modeled on the ordered-migration-list idiom
// (name + func) used elsewhere in the corpus for SQLite schema evolution.
type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{1, "initial_schema", migrateInitialSchema},
}

// Migrate idempotently creates tables/indices and records each applied
// migration's version. Re-entrant: migrations already recorded in
// durably_schema_versions are skipped.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS durably_schema_versions (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_versions table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM durably_schema_versions WHERE version = ?`, m.version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if exists > 0 {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d (%s): %w", m.version, m.name, err)
		}
		if err := m.apply(ctx, tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO durably_schema_versions (version, applied_at) VALUES (?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))`,
			m.version,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func migrateInitialSchema(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS durably_runs (
			id                  TEXT PRIMARY KEY,
			job_name            TEXT NOT NULL,
			payload             TEXT NOT NULL,
			status              TEXT NOT NULL,
			idempotency_key     TEXT,
			concurrency_key     TEXT,
			current_step_index  INTEGER NOT NULL DEFAULT 0,
			progress            TEXT,
			output              TEXT,
			error               TEXT,
			heartbeat_at        TEXT,
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_job_idempotency
			ON durably_runs (job_name, idempotency_key)
			WHERE idempotency_key IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status_concurrency
			ON durably_runs (status, concurrency_key)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status_created
			ON durably_runs (status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_job_created
			ON durably_runs (job_name, created_at)`,

		`CREATE TABLE IF NOT EXISTS durably_steps (
			id           TEXT PRIMARY KEY,
			run_id       TEXT NOT NULL REFERENCES durably_runs(id) ON DELETE CASCADE,
			name         TEXT NOT NULL,
			step_index   INTEGER NOT NULL,
			status       TEXT NOT NULL,
			output       TEXT,
			error        TEXT,
			started_at   TEXT NOT NULL,
			completed_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_steps_run_name_completed
			ON durably_steps (run_id, name)
			WHERE status = 'completed'`,
		`CREATE INDEX IF NOT EXISTS idx_steps_run_index
			ON durably_steps (run_id, step_index)`,

		`CREATE TABLE IF NOT EXISTS durably_logs (
			id         TEXT PRIMARY KEY,
			run_id     TEXT NOT NULL REFERENCES durably_runs(id) ON DELETE CASCADE,
			step_name  TEXT,
			level      TEXT NOT NULL,
			message    TEXT NOT NULL,
			data       TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_run_created
			ON durably_logs (run_id, created_at)`,
	}

	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("exec %q: %w", s, err)
		}
	}
	return nil
}
