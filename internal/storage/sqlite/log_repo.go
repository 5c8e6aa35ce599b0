package sqlite

import (
	"context"
	"fmt"

	"github.com/ErlanBelekov/durably/internal/domain"
)

const logColumns = `id, run_id, step_name, level, message, data, created_at`

func (db *DB) CreateLog(ctx context.Context, entry *domain.LogEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO durably_logs (id, run_id, step_name, level, message, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RunID, nullString(entry.StepName), entry.Level, entry.Message,
		nullableBytes(entry.Data), formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

func (db *DB) GetLogs(ctx context.Context, runID string) ([]*domain.LogEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+logColumns+` FROM durably_logs WHERE run_id = ? ORDER BY created_at ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var out []*domain.LogEntry
	for rows.Next() {
		entry, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
