// Package repository declares the Storage contract the rest of the engine
// depends on (worker, stepctx, registry, facade). It is deliberately thin:
// every method is a single logical write or read.
//
// The concrete implementation lives in internal/storage/sqlite; callers
// depend only on this interface so the engine itself stays storage-agnostic.
package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/durably/internal/domain"
)

// CreateRunInput is the validated input to Storage.CreateRun.
type CreateRunInput struct {
	JobName        string
	Payload        []byte
	IdempotencyKey *string
	ConcurrencyKey *string
}

// Storage is the persistence contract for runs, steps, logs, and schema
// version bookkeeping. Implementations must make each operation listed
// below a single logical write on its row(s).
type Storage interface {
	// Migrate idempotently creates tables and indices and records the
	// schema version. Safe to call repeatedly; callers additionally guard
	// re-entry within a process with a once-latch (see durably.Facade.Init).
	Migrate(ctx context.Context) error

	// CreateRun inserts a pending run. If IdempotencyKey is set and a row
	// already exists for (JobName, IdempotencyKey), that existing row is
	// returned unchanged instead of inserting a duplicate.
	CreateRun(ctx context.Context, input CreateRunInput) (*domain.Run, error)

	// BatchCreateRuns is atomic: either every non-duplicate input becomes a
	// new row (with duplicates-by-idempotency resolving to the existing
	// row) or nothing is inserted.
	BatchCreateRuns(ctx context.Context, inputs []CreateRunInput) ([]*domain.Run, error)

	// UpdateRun applies a partial update and always refreshes UpdatedAt. It
	// does not itself enforce status-transition legality; callers (worker,
	// facade) are responsible for that.
	UpdateRun(ctx context.Context, id string, update domain.RunUpdate) error

	// DeleteRun cascades logs, then steps, then the run row itself.
	DeleteRun(ctx context.Context, id string) error

	GetRun(ctx context.Context, id string) (*domain.Run, error)

	// GetRuns returns rows ordered by CreatedAt descending.
	GetRuns(ctx context.Context, filter domain.RunFilter) ([]*domain.Run, error)

	// GetNextPendingRun returns the oldest pending row (by CreatedAt
	// ascending) whose ConcurrencyKey is null or absent from
	// excludeConcurrencyKeys, or nil if none qualify.
	GetNextPendingRun(ctx context.Context, excludeConcurrencyKeys []string) (*domain.Run, error)

	// RecoverStale resets every running run whose HeartbeatAt is older than
	// cutoff back to pending. It returns the number of rows changed.
	RecoverStale(ctx context.Context, cutoff time.Time) (int, error)

	CreateStep(ctx context.Context, step *domain.Step) error
	GetSteps(ctx context.Context, runID string) ([]*domain.Step, error)
	GetCompletedStep(ctx context.Context, runID, name string) (*domain.Step, error)

	CreateLog(ctx context.Context, entry *domain.LogEntry) error
	GetLogs(ctx context.Context, runID string) ([]*domain.LogEntry, error)
}
