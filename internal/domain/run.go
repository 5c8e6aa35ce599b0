// Package domain holds the persisted entities of the engine: runs, steps,
// logs, and schema versions. It has no dependency on storage or transport.
package domain

import (
	"errors"
	"time"
)

var (
	ErrRunNotFound        = errors.New("run not found")
	ErrDuplicateRun       = errors.New("run with this idempotency key already exists")
	ErrInvalidTransition  = errors.New("run is not in a state that allows this operation")
	ErrUnknownJob         = errors.New("unknown job")
	ErrJobDefinitionClash = errors.New("job already registered under this name with a different definition")
)

// Status is the lifecycle state of a Run. Legal transitions:
// pending -> running -> {completed | failed}; cancelled may be entered
// from pending or running; failed -> pending only via retry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether s is one of the states a run may be deleted from.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Progress is a free-form report of how far a run has advanced, written by
// StepContext.Progress and read back for the run:progress event and API
// responses.
type Progress struct {
	Current float64 `json:"current"`
	Total   *float64 `json:"total,omitempty"`
	Message string  `json:"message,omitempty"`
}

// Run represents one invocation of a registered job.
type Run struct {
	ID             string `json:"id"`
	JobName        string `json:"jobName"`
	Payload        []byte `json:"payload"` // opaque JSON, validated at trigger time
	Status         Status `json:"status"`
	IdempotencyKey *string `json:"idempotencyKey,omitempty"`
	ConcurrencyKey *string `json:"concurrencyKey,omitempty"`

	CurrentStepIndex int       `json:"currentStepIndex"`
	Progress         *Progress `json:"progress,omitempty"`

	Output []byte  `json:"output,omitempty"` // populated only on completed
	Error  *string `json:"error,omitempty"`  // populated only on failed

	HeartbeatAt *time.Time `json:"heartbeatAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// RunFilter narrows GetRuns results; all fields are optional (zero value
// means "no filter").
type RunFilter struct {
	Status  Status
	JobName string
	Limit   int
	Offset  int
}

// RunUpdate is a partial set of Run fields a caller wishes to persist. A nil
// field means "leave unchanged". Storage.UpdateRun sets UpdatedAt itself.
type RunUpdate struct {
	Status           *Status
	CurrentStepIndex *int
	Progress         *Progress
	Output           []byte
	Error            *string
	HeartbeatAt      *time.Time
	ClearError       bool // explicit clear, since Error==nil is ambiguous with "don't touch"
}
