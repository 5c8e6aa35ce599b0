package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/durably/internal/domain"
)

// isoLayout writes all nine fractional digits so that stored timestamps
// compare (and ORDER BY) as text in chronological order.
const isoLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(isoLayout) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func timePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func bytesOrNil(ns sql.NullString) []byte {
	if !ns.Valid {
		return nil
	}
	return []byte(ns.String)
}

// rowScanner is implemented by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var (
		r                              domain.Run
		payload                        string
		idempotencyKey, concurrencyKey sql.NullString
		progress, output, runErr       sql.NullString
		heartbeatAt                    sql.NullString
		createdAt, updatedAt           string
	)

	err := row.Scan(
		&r.ID, &r.JobName, &payload, &r.Status,
		&idempotencyKey, &concurrencyKey,
		&r.CurrentStepIndex, &progress, &output, &runErr,
		&heartbeatAt, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	r.Payload = []byte(payload)
	r.IdempotencyKey = stringPtr(idempotencyKey)
	r.ConcurrencyKey = stringPtr(concurrencyKey)
	r.Output = bytesOrNil(output)
	r.Error = stringPtr(runErr)

	if progress.Valid {
		var p domain.Progress
		if err := json.Unmarshal([]byte(progress.String), &p); err != nil {
			return nil, fmt.Errorf("unmarshal progress: %w", err)
		}
		r.Progress = &p
	}

	if hb, err := timePtr(heartbeatAt); err != nil {
		return nil, fmt.Errorf("parse heartbeat_at: %w", err)
	} else {
		r.HeartbeatAt = hb
	}

	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &r, nil
}

func scanStep(row rowScanner) (*domain.Step, error) {
	var (
		s                       domain.Step
		output, stepErr         sql.NullString
		startedAt, completedAt  string
	)

	err := row.Scan(&s.ID, &s.RunID, &s.Name, &s.Index, &s.Status,
		&output, &stepErr, &startedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan step: %w", err)
	}

	s.Output = bytesOrNil(output)
	s.Error = stringPtr(stepErr)
	if s.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if s.CompletedAt, err = parseTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	return &s, nil
}

func scanLog(row rowScanner) (*domain.LogEntry, error) {
	var (
		l                 domain.LogEntry
		stepName, dataCol sql.NullString
		createdAt         string
	)

	err := row.Scan(&l.ID, &l.RunID, &stepName, &l.Level, &l.Message, &dataCol, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scan log: %w", err)
	}

	l.StepName = stringPtr(stepName)
	l.Data = bytesOrNil(dataCol)
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &l, nil
}
